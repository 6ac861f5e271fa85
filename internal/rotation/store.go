package rotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/models"
)

// Settings keys backing the rotation state.
const (
	SettingEnabled = "lead_rotation_enabled"
	SettingCursor  = "lead_rotation_index"
)

// PostgresStore implements Store on the shared settings/users/leads tables.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enabled reads the rotation switch. A missing row means disabled.
func (s *PostgresStore) Enabled(ctx context.Context) (bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = $1", SettingEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read rotation setting: %w", err)
	}
	return value == "true", nil
}

// EligiblePool returns active agents in a stable creation order so the
// round-robin sequence is deterministic.
func (s *PostgresStore) EligiblePool(ctx context.Context) ([]models.Assignee, error) {
	var pool []models.Assignee
	query := `SELECT id, name, email FROM users
			  WHERE role = 'agent' AND active = TRUE
			  ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &pool, query); err != nil {
		return nil, fmt.Errorf("load rotation pool: %w", err)
	}
	return pool, nil
}

// AdvanceCursor increments the persisted cursor modulo poolSize and returns
// the pre-increment value, all in one statement. FOR UPDATE on the settings
// row serializes concurrent assignments, so each caller sees a distinct
// index.
func (s *PostgresStore) AdvanceCursor(ctx context.Context, poolSize int) (int, error) {
	query := `
		WITH cur AS (
			SELECT value::bigint AS idx FROM settings WHERE key = $1 FOR UPDATE
		)
		UPDATE settings s
		SET value = (((SELECT idx FROM cur) + 1) % $2)::text
		WHERE s.key = $1
		RETURNING (SELECT idx FROM cur)
	`
	var idx int
	if err := s.db.GetContext(ctx, &idx, query, SettingCursor, poolSize); err != nil {
		return 0, fmt.Errorf("advance rotation cursor: %w", err)
	}
	return idx, nil
}

// Assign writes the assignee onto the lead iff the lead is still unassigned.
func (s *PostgresStore) Assign(ctx context.Context, leadID, assigneeID string) error {
	query := `
		UPDATE leads
		SET assigned_to = $1, status = 'assigned',
			assigned_at = EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE id = $2 AND assigned_to IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, assigneeID, leadID)
	if err != nil {
		return fmt.Errorf("assign lead: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyAssigned
	}
	return nil
}
