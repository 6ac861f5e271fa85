package rotation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tadgo-backend/internal/models"
)

// fakeStore keeps the rotation state in memory with the same atomicity
// contract as the Postgres store: AdvanceCursor is serialized and Assign is
// a conditional write.
type fakeStore struct {
	mu       sync.Mutex
	enabled  bool
	pool     []models.Assignee
	cursor   int
	assigned map[string]string // leadID -> assigneeID
}

func newFakeStore(enabled bool, pool ...models.Assignee) *fakeStore {
	return &fakeStore{enabled: enabled, pool: pool, assigned: make(map[string]string)}
}

func (s *fakeStore) Enabled(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, nil
}

func (s *fakeStore) EligiblePool(ctx context.Context) ([]models.Assignee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Assignee(nil), s.pool...), nil
}

func (s *fakeStore) AdvanceCursor(ctx context.Context, poolSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.cursor
	s.cursor = (idx + 1) % poolSize
	return idx, nil
}

func (s *fakeStore) Assign(ctx context.Context, leadID, assigneeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.assigned[leadID]; taken {
		return ErrAlreadyAssigned
	}
	s.assigned[leadID] = assigneeID
	return nil
}

func agents(names ...string) []models.Assignee {
	out := make([]models.Assignee, len(names))
	for i, n := range names {
		out[i] = models.Assignee{ID: "id-" + n, Name: n, Email: n + "@example.com"}
	}
	return out
}

func TestAssignRoundRobinSequence(t *testing.T) {
	store := newFakeStore(true, agents("alice", "bob", "carol")...)
	engine := NewEngine(store, nil)
	ctx := context.Background()

	// Three leads walk the pool in order, the fourth wraps around
	expected := []string{"alice", "bob", "carol", "alice"}
	for i, want := range expected {
		result, err := engine.Assign(ctx, fmt.Sprintf("lead-%d", i))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAssigned, result.Outcome)
		require.NotNil(t, result.Assignee)
		assert.Equal(t, want, result.Assignee.Name)
	}
	assert.Equal(t, 1, store.cursor) // wrapped past alice again
}

func TestAssignDisabled(t *testing.T) {
	store := newFakeStore(false, agents("alice")...)
	engine := NewEngine(store, nil)

	result, err := engine.Assign(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, result.Outcome)
	assert.Nil(t, result.Assignee)
	assert.Empty(t, store.assigned)
	assert.Equal(t, 0, store.cursor) // cursor untouched on skip
}

func TestAssignEmptyPool(t *testing.T) {
	store := newFakeStore(true)
	engine := NewEngine(store, nil)

	result, err := engine.Assign(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyPool, result.Outcome)
	assert.Nil(t, result.Assignee)
	assert.Equal(t, 0, store.cursor)
}

func TestAssignCursorSurvivesEngineRestart(t *testing.T) {
	store := newFakeStore(true, agents("alice", "bob")...)
	ctx := context.Background()

	r1, err := NewEngine(store, nil).Assign(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", r1.Assignee.Name)

	// A fresh engine over the same store continues where the first left off
	r2, err := NewEngine(store, nil).Assign(ctx, "lead-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", r2.Assignee.Name)
}

func TestAssignPoolShrinksBelowCursor(t *testing.T) {
	store := newFakeStore(true, agents("alice", "bob", "carol")...)
	engine := NewEngine(store, nil)
	ctx := context.Background()

	_, err := engine.Assign(ctx, "lead-1") // alice, cursor -> 1
	require.NoError(t, err)
	_, err = engine.Assign(ctx, "lead-2") // bob, cursor -> 2
	require.NoError(t, err)

	// carol and bob deactivate; the persisted cursor (2) now exceeds the pool
	store.mu.Lock()
	store.pool = agents("alice")
	store.mu.Unlock()

	result, err := engine.Assign(ctx, "lead-3")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, result.Outcome)
	assert.Equal(t, "alice", result.Assignee.Name)
}

func TestAssignNewAgentJoinsMidCycle(t *testing.T) {
	store := newFakeStore(true, agents("alice", "bob")...)
	engine := NewEngine(store, nil)
	ctx := context.Background()

	_, err := engine.Assign(ctx, "lead-1") // alice, cursor -> 1
	require.NoError(t, err)

	// dave joins before the next lead; the fresh pool read picks him up
	store.mu.Lock()
	store.pool = agents("alice", "bob", "dave")
	store.mu.Unlock()

	result, err := engine.Assign(ctx, "lead-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", result.Assignee.Name)

	result, err = engine.Assign(ctx, "lead-3")
	require.NoError(t, err)
	assert.Equal(t, "dave", result.Assignee.Name)
}

func TestAssignConcurrentLeadsGetDistinctSlots(t *testing.T) {
	store := newFakeStore(true, agents("alice", "bob", "carol", "dave")...)
	engine := NewEngine(store, nil)

	const n = 40
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Assign(context.Background(), fmt.Sprintf("lead-%d", i))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// 40 leads over 4 agents: perfectly even split
	counts := make(map[string]int)
	for _, r := range results {
		require.Equal(t, OutcomeAssigned, r.Outcome)
		counts[r.Assignee.Name]++
	}
	for name, c := range counts {
		assert.Equal(t, 10, c, name)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (n *recordingNotifier) NotifyLeadAssigned(assignee models.Assignee, leadID string) {
	n.mu.Lock()
	n.calls = append(n.calls, assignee.Name+":"+leadID)
	n.mu.Unlock()
	n.done <- struct{}{}
}

func TestAssignNotifiesAssignee(t *testing.T) {
	store := newFakeStore(true, agents("alice")...)
	notifier := &recordingNotifier{done: make(chan struct{}, 1)}
	engine := NewEngine(store, notifier)

	result, err := engine.Assign(context.Background(), "lead-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAssigned, result.Outcome)

	<-notifier.done
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"alice:lead-1"}, notifier.calls)
}
