package presence

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

// assignedTaskRow builds the task record the session-bind check reads.
func assignedTaskRow(taskID, driverID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "task_number", "category", "from_location", "to_location",
		"driver_id", "driver_status", "cancelled_at", "created_by",
		"created_at", "updated_at",
	}).AddRow(taskID, 1, "transport", "Herzliya", "Tel Aviv",
		driverID, "accepted", nil, "u1", int64(100), int64(100))
}

func TestStartTrackingRebindVacatesOldTaskSlot(t *testing.T) {
	hub := NewHub()
	c := NewDriverClient("d1", nil, hub, nil, nil)

	taskA := "task-a"
	c.state = sessionActive
	c.taskID = &taskA
	hub.Publish(TaskTopic(taskA), "d1", pos("d1", 32.1, 34.8, 100))

	// Restart with no task unbinds and frees the old task slot immediately.
	c.handleStartTracking(map[string]interface{}{})

	_, live := hub.Slot(TaskTopic(taskA), "d1")
	assert.False(t, live)
	assert.Nil(t, c.taskID)
	assert.Equal(t, sessionActive, c.state)
}

func TestStartTrackingRebindToNewTask(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("task-b").
		WillReturnRows(assignedTaskRow("task-b", "d1"))

	hub := NewHub()
	c := NewDriverClient("d1", nil, hub, db, nil)

	taskA := "task-a"
	c.state = sessionActive
	c.taskID = &taskA
	hub.Publish(TaskTopic(taskA), "d1", pos("d1", 32.1, 34.8, 100))

	c.handleStartTracking(map[string]interface{}{"task_id": "task-b"})

	_, oldLive := hub.Slot(TaskTopic(taskA), "d1")
	assert.False(t, oldLive)
	require.NotNil(t, c.taskID)
	assert.Equal(t, "task-b", *c.taskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartTrackingSameTaskKeepsSlot(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("task-a").
		WillReturnRows(assignedTaskRow("task-a", "d1"))

	hub := NewHub()
	c := NewDriverClient("d1", nil, hub, db, nil)

	taskA := "task-a"
	c.state = sessionActive
	c.taskID = &taskA
	hub.Publish(TaskTopic(taskA), "d1", pos("d1", 32.1, 34.8, 100))

	c.handleStartTracking(map[string]interface{}{"task_id": "task-a"})

	_, live := hub.Slot(TaskTopic(taskA), "d1")
	assert.True(t, live)
	assert.NoError(t, mock.ExpectationsWereMet())
}
