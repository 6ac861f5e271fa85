package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tadgo-backend/internal/models"
)

// recordingSub collects delivered frames. reject makes deliver report a full
// buffer so the hub drops the subscriber.
type recordingSub struct {
	mu     sync.Mutex
	frames []*Frame
	reject bool
	closed bool
}

func (s *recordingSub) deliver(f *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *recordingSub) closeSlow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSub) all() []*Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Frame(nil), s.frames...)
}

func pos(driverID string, lat, lng float64, ts int64) models.DriverPosition {
	return models.DriverPosition{
		DriverID:  driverID,
		Latitude:  lat,
		Longitude: lng,
		Role:      models.PresenceRoleDriver,
		Timestamp: ts,
	}
}

func TestSubscribeDeliversSnapshot(t *testing.T) {
	hub := NewHub()
	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))
	hub.Publish(TopicFleet, "d2", pos("d2", 32.2, 34.9, 101))

	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)

	frames := sub.all()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameSync, frames[0].Type)
	assert.Equal(t, TopicFleet, frames[0].Topic)
	require.Len(t, frames[0].Slots, 2)
	assert.Equal(t, 32.1, frames[0].Slots["d1"].Latitude)
	assert.Equal(t, 32.2, frames[0].Slots["d2"].Latitude)
}

func TestSubscribeToEmptyTopicDeliversEmptySync(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TaskTopic("t1"), sub)

	frames := sub.all()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameSync, frames[0].Type)
	assert.Empty(t, frames[0].Slots)
}

func TestPublishLastValueWins(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)

	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))
	hub.Publish(TopicFleet, "d1", pos("d1", 32.5, 34.7, 101))

	// Slot holds only the latest entry
	entry, ok := hub.Slot(TopicFleet, "d1")
	require.True(t, ok)
	assert.Equal(t, 32.5, entry.Latitude)
	assert.Equal(t, int64(101), entry.Timestamp)

	snapshot := hub.Snapshot(TopicFleet)
	require.Len(t, snapshot, 1)
	assert.Equal(t, 32.5, snapshot["d1"].Latitude)

	// Subscriber saw sync + both updates, latest last
	frames := sub.all()
	require.Len(t, frames, 3)
	assert.Equal(t, FrameUpdate, frames[1].Type)
	assert.Equal(t, FrameUpdate, frames[2].Type)
	assert.Equal(t, "d1", frames[2].Key)
	assert.Equal(t, 32.5, frames[2].Entry.Latitude)
}

func TestVacateSendsLeaveFrame(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)

	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))
	hub.Vacate(TopicFleet, "d1")

	_, ok := hub.Slot(TopicFleet, "d1")
	assert.False(t, ok)

	frames := sub.all()
	require.Len(t, frames, 3)
	assert.Equal(t, FrameLeave, frames[2].Type)
	assert.Equal(t, "d1", frames[2].Key)
	assert.Nil(t, frames[2].Entry)
}

func TestVacateUnknownKeyIsSilent(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)

	hub.Vacate(TopicFleet, "ghost")
	hub.Vacate("no-such-topic", "ghost")

	// Only the initial sync frame arrived
	assert.Len(t, sub.all(), 1)
}

func TestTopicsAreIsolated(t *testing.T) {
	hub := NewHub()
	fleetSub := &recordingSub{}
	taskSub := &recordingSub{}
	hub.Subscribe(TopicFleet, fleetSub)
	hub.Subscribe(TaskTopic("t1"), taskSub)

	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))

	assert.Len(t, fleetSub.all(), 2)
	assert.Len(t, taskSub.all(), 1) // sync only
	assert.Empty(t, hub.Snapshot(TaskTopic("t1")))
}

func TestSlowSubscriberDropped(t *testing.T) {
	hub := NewHub()
	slow := &recordingSub{reject: true}
	ok := &recordingSub{}
	hub.Subscribe(TopicFleet, slow)
	hub.Subscribe(TopicFleet, ok)

	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))

	assert.True(t, slow.closed)
	assert.Equal(t, 1, hub.SubscriberCount(TopicFleet))

	// The healthy subscriber keeps receiving
	hub.Publish(TopicFleet, "d1", pos("d1", 32.2, 34.8, 101))
	assert.Len(t, ok.all(), 3)
}

func TestStaleSweepVacatesOldSlots(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)

	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))
	hub.Publish(TopicFleet, "d2", pos("d2", 32.2, 34.9, 101))

	// d1's refresh time is in the past, beyond the staleness window
	hub.mu.Lock()
	hub.topics[TopicFleet].slots["d1"].refreshed = time.Now().Add(-2 * hub.staleAfter)
	hub.mu.Unlock()

	hub.sweepStale(time.Now())

	_, d1 := hub.Slot(TopicFleet, "d1")
	_, d2 := hub.Slot(TopicFleet, "d2")
	assert.False(t, d1)
	assert.True(t, d2)

	frames := sub.all()
	last := frames[len(frames)-1]
	assert.Equal(t, FrameLeave, last.Type)
	assert.Equal(t, "d1", last.Key)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)
	hub.Unsubscribe(TopicFleet, sub)

	hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 100))
	assert.Len(t, sub.all(), 1) // sync only
	assert.Equal(t, 0, hub.SubscriberCount(TopicFleet))
}

func TestSubscribeSyncAlwaysPrecedesUpdates(t *testing.T) {
	// A subscriber arriving while a publish is in flight must still see the
	// sync frame first, and never an update older than the snapshot.
	for i := 0; i < 200; i++ {
		hub := NewHub()
		hub.Publish(TopicFleet, "d1", pos("d1", 32.1, 34.8, 1))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Publish(TopicFleet, "d1", pos("d1", 32.2, 34.8, 2))
		}()

		sub := &recordingSub{}
		hub.Subscribe(TopicFleet, sub)
		wg.Wait()

		frames := sub.all()
		require.NotEmpty(t, frames)
		require.Equal(t, FrameSync, frames[0].Type)
		synced := frames[0].Slots["d1"].Timestamp
		for _, f := range frames[1:] {
			require.Equal(t, FrameUpdate, f.Type)
			require.GreaterOrEqual(t, f.Entry.Timestamp, synced)
		}
	}
}

func TestConcurrentPublishes(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe(TopicFleet, sub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(TopicFleet, "d1", pos("d1", float64(n), float64(j), int64(n*100+j)))
			}
		}(i)
	}
	wg.Wait()

	// Exactly one slot survives, holding some complete entry
	snapshot := hub.Snapshot(TopicFleet)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "d1", snapshot["d1"].DriverID)
}
