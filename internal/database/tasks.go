package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/dispatch"
	"tadgo-backend/internal/models"
)

// Typed outcomes for the conditional writes below. Handlers map these to
// distinct HTTP statuses so a losing driver gets an actionable conflict,
// never a silent no-op.
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrTaskAlreadyAssigned = errors.New("task already accepted by another driver")
	ErrTaskCancelled       = errors.New("task has been cancelled")
	ErrNotAssignedDriver   = errors.New("task is assigned to a different driver")
	ErrIllegalTransition   = errors.New("illegal driver status transition")
)

// CreateTask inserts a new unassigned task. task_number comes from the
// sequence.
func CreateTask(db *sqlx.DB, req models.CreateTaskRequest, createdBy string) (*models.Task, error) {
	id := uuid.New().String()
	now := time.Now().Unix()

	query := `
		INSERT INTO tasks (id, category, subtype, from_location, to_location,
			scheduled_at, worker_id, created_by, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING task_number
	`

	var taskNumber int
	err := db.QueryRow(query, id, req.Category, req.Subtype, req.FromLocation,
		req.ToLocation, req.ScheduledAt, req.WorkerID, createdBy, req.Notes, now).Scan(&taskNumber)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return GetTask(db, id)
}

// GetTask fetches a single task by id.
func GetTask(db *sqlx.DB, id string) (*models.Task, error) {
	var task models.Task
	if err := db.Get(&task, "SELECT * FROM tasks WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListTasks returns all tasks, newest first.
func ListTasks(db *sqlx.DB) ([]models.Task, error) {
	var tasks []models.Task
	err := db.Select(&tasks, "SELECT * FROM tasks ORDER BY created_at DESC")
	return tasks, err
}

// ListAvailableTasks returns unassigned, uncancelled tasks for drivers to
// pick from.
func ListAvailableTasks(db *sqlx.DB) ([]models.Task, error) {
	var tasks []models.Task
	query := `SELECT * FROM tasks
			  WHERE driver_id IS NULL AND cancelled_at IS NULL
			  ORDER BY COALESCE(scheduled_at, created_at) ASC`
	err := db.Select(&tasks, query)
	return tasks, err
}

// ListDriverTasks returns the tasks currently assigned to a driver.
func ListDriverTasks(db *sqlx.DB, driverID string) ([]models.Task, error) {
	var tasks []models.Task
	query := `SELECT * FROM tasks WHERE driver_id = $1 ORDER BY updated_at DESC`
	err := db.Select(&tasks, query, driverID)
	return tasks, err
}

// AcceptTask assigns a task to a driver. The WHERE clause is the whole
// concurrency story: two drivers racing on the same task resolve to exactly
// one winner, and the loser is told why.
func AcceptTask(db *sqlx.DB, taskID, driverID string) error {
	now := time.Now().Unix()

	query := `
		UPDATE tasks
		SET driver_id = $1, driver_status = 'accepted', accepted_at = $2, updated_at = $2
		WHERE id = $3 AND driver_id IS NULL AND cancelled_at IS NULL
	`

	result, err := db.Exec(query, driverID, now, taskID)
	if err != nil {
		return fmt.Errorf("accept task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// Lost the conditional write; figure out to whom.
	task, err := GetTask(db, taskID)
	if err != nil {
		return err
	}
	if task.CancelledAt != nil {
		return ErrTaskCancelled
	}
	if task.DriverID != nil {
		return ErrTaskAlreadyAssigned
	}
	return fmt.Errorf("accept task %s: conditional update matched no rows", taskID)
}

// timestamp column stamped by each forward transition
var statusTimestampColumn = map[dispatch.Status]string{
	dispatch.StatusPickup:    "pickup_at",
	dispatch.StatusInTransit: "in_transit_at",
	dispatch.StatusDelivered: "delivered_at",
	dispatch.StatusCancelled: "cancelled_at",
}

// UpdateDriverStatus moves a task's driver status forward. Only the assigned
// driver may transition, and only to a status the state machine allows from
// the task's current one. The final UPDATE re-checks the expected current
// status so a concurrent transition loses cleanly instead of double-applying.
func UpdateDriverStatus(db *sqlx.DB, taskID, driverID string, to dispatch.Status) error {
	if !dispatch.Valid(to) || to == dispatch.StatusAccepted {
		return ErrIllegalTransition
	}

	task, err := GetTask(db, taskID)
	if err != nil {
		return err
	}
	if task.DriverID == nil || task.DriverStatus == nil {
		return ErrIllegalTransition // not accepted yet
	}
	if *task.DriverID != driverID {
		return ErrNotAssignedDriver
	}

	from := dispatch.Status(*task.DriverStatus)
	if !dispatch.CanTransition(from, to) {
		return ErrIllegalTransition
	}

	now := time.Now().Unix()
	column := statusTimestampColumn[to]

	query := fmt.Sprintf(`
		UPDATE tasks
		SET driver_status = $1, %s = $2, updated_at = $2
		WHERE id = $3 AND driver_id = $4 AND driver_status = $5
	`, column)

	result, err := db.Exec(query, string(to), now, taskID, driverID, string(from))
	if err != nil {
		return fmt.Errorf("update driver status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Someone moved the task between our read and write.
		return ErrIllegalTransition
	}
	return nil
}

// CancelTask cancels a task that has not reached a terminal state. Works for
// both unassigned tasks (cancelled_at only) and assigned ones (driver_status
// flips too).
func CancelTask(db *sqlx.DB, taskID string) error {
	now := time.Now().Unix()

	query := `
		UPDATE tasks
		SET cancelled_at = $1, updated_at = $1,
			driver_status = CASE WHEN driver_id IS NULL THEN NULL ELSE 'cancelled' END
		WHERE id = $2 AND cancelled_at IS NULL
			AND (driver_status IS NULL OR driver_status NOT IN ('delivered', 'cancelled'))
	`

	result, err := db.Exec(query, now, taskID)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		task, err := GetTask(db, taskID)
		if err != nil {
			return err
		}
		if task.CancelledAt != nil {
			return ErrTaskCancelled
		}
		return ErrIllegalTransition // already delivered
	}
	return nil
}

// MirrorDriverPosition writes the latest channel position onto the task row.
// Best-effort side channel for reconnecting viewers and audit; callers must
// not abort the live publish when this fails.
func MirrorDriverPosition(db *sqlx.DB, taskID, driverID string, lat, lng float64, timestamp int64) error {
	query := `
		UPDATE tasks
		SET driver_lat = $1, driver_lng = $2, driver_pos_updated_at = $3
		WHERE id = $4 AND driver_id = $5
	`
	_, err := db.Exec(query, lat, lng, timestamp, taskID, driverID)
	return err
}

// UpsertDriverLocation maintains the one-row-per-driver durable mirror.
func UpsertDriverLocation(db *sqlx.DB, pos models.DriverPosition) error {
	query := `
		INSERT INTO driver_current_location (
			driver_id, latitude, longitude, heading, speed, accuracy, task_id, timestamp, is_connected, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, EXTRACT(EPOCH FROM NOW())::BIGINT)
		ON CONFLICT (driver_id)
		DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			heading = EXCLUDED.heading,
			speed = EXCLUDED.speed,
			accuracy = EXCLUDED.accuracy,
			task_id = EXCLUDED.task_id,
			timestamp = EXCLUDED.timestamp,
			is_connected = TRUE,
			updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
	`
	_, err := db.Exec(query, pos.DriverID, pos.Latitude, pos.Longitude,
		pos.Heading, pos.Speed, pos.Accuracy, pos.TaskID, pos.Timestamp)
	return err
}

// MarkDriverDisconnected flips the mirror row to non-live, preserving the
// last known position for viewers without a live subscription.
func MarkDriverDisconnected(db *sqlx.DB, driverID string) {
	query := `
		UPDATE driver_current_location
		SET is_connected = FALSE,
			updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE driver_id = $1
	`
	if _, err := db.Exec(query, driverID); err != nil {
		log.Printf("❌ Error marking driver %s as disconnected: %v", driverID, err)
		return
	}
	log.Printf("🔴 Driver %s marked as disconnected (last position preserved)", driverID)
}

// GetDriverLocation returns the mirrored location row for a driver, or nil
// when the driver has never published.
func GetDriverLocation(db *sqlx.DB, driverID string) (*models.DriverCurrentLocation, error) {
	var loc models.DriverCurrentLocation
	err := db.Get(&loc, "SELECT * FROM driver_current_location WHERE driver_id = $1", driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
