// Package rotation assigns incoming leads to agents round-robin.
//
// The cursor lives in the settings table, not in memory, so rotation order
// survives restarts and stays correct with several server replicas. Fairness
// is defined over the eligible pool as it exists at assignment time; agents
// deactivated mid-cycle are simply absent from the next pool read.
package rotation

import (
	"context"
	"errors"
	"log"

	"tadgo-backend/internal/models"
)

// Outcome of one assignment attempt. Skips are explicit results, not errors:
// a disabled rotation or an empty pool is a normal state the caller reports,
// while storage failures surface as errors.
type Outcome string

const (
	OutcomeAssigned  Outcome = "assigned"
	OutcomeDisabled  Outcome = "skipped_disabled"
	OutcomeEmptyPool Outcome = "skipped_empty_pool"
)

// ErrAlreadyAssigned is returned when the lead gained an assignee between
// creation and the conditional assignment write.
var ErrAlreadyAssigned = errors.New("lead already assigned")

// Result reports what the engine did with one lead.
type Result struct {
	Outcome  Outcome
	Assignee *models.Assignee // set only when Outcome == OutcomeAssigned
}

// Store is the persistence the engine needs. The Postgres implementation
// lives in this package; tests use an in-memory fake.
type Store interface {
	// Enabled reports whether automatic rotation is switched on.
	Enabled(ctx context.Context) (bool, error)

	// EligiblePool returns the active agents in stable order.
	EligiblePool(ctx context.Context) ([]models.Assignee, error)

	// AdvanceCursor atomically advances the rotation cursor modulo poolSize
	// and returns the pre-advance index.
	AdvanceCursor(ctx context.Context, poolSize int) (int, error)

	// Assign sets the lead's assignee iff it has none yet; returns
	// ErrAlreadyAssigned when the conditional write loses.
	Assign(ctx context.Context, leadID, assigneeID string) error
}

// Notifier tells an agent they received a lead. Notification is fire-and-
// forget: the assignment stands whether or not the push goes out.
type Notifier interface {
	NotifyLeadAssigned(assignee models.Assignee, leadID string)
}

// Engine runs the round-robin assignment flow.
type Engine struct {
	store    Store
	notifier Notifier // nil disables notifications
}

func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{store: store, notifier: notifier}
}

// Assign runs one assignment attempt for a freshly created lead.
//
// The pool is read fresh on every call and the cursor is advanced in a
// single atomic storage operation, so concurrent calls serialize on the
// cursor and no two leads land on the same index in one cycle.
func (e *Engine) Assign(ctx context.Context, leadID string) (Result, error) {
	enabled, err := e.store.Enabled(ctx)
	if err != nil {
		return Result{}, err
	}
	if !enabled {
		log.Printf("⏭️ Lead %s not auto-assigned: rotation disabled", leadID)
		return Result{Outcome: OutcomeDisabled}, nil
	}

	pool, err := e.store.EligiblePool(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(pool) == 0 {
		log.Printf("⏭️ Lead %s not auto-assigned: no eligible agents", leadID)
		return Result{Outcome: OutcomeEmptyPool}, nil
	}

	idx, err := e.store.AdvanceCursor(ctx, len(pool))
	if err != nil {
		return Result{}, err
	}
	// A shrunk pool can leave a persisted cursor past the end; clamp rather
	// than fail, the modulo write already fixed the stored value.
	idx %= len(pool)

	assignee := pool[idx]
	if err := e.store.Assign(ctx, leadID, assignee.ID); err != nil {
		return Result{}, err
	}

	log.Printf("✅ Lead %s assigned to %s (%s) via rotation", leadID, assignee.Name, assignee.Email)
	if e.notifier != nil {
		go e.notifier.NotifyLeadAssigned(assignee, leadID)
	}

	return Result{Outcome: OutcomeAssigned, Assignee: &assignee}, nil
}
