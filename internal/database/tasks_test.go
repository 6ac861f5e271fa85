package database

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tadgo-backend/internal/dispatch"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

// taskRow builds the SELECT * result the accept/transition code re-reads.
// driverID, driverStatus and cancelledAt are nil or string/string/int64.
func taskRow(driverID, driverStatus, cancelledAt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "task_number", "category", "from_location", "to_location",
		"driver_id", "driver_status", "cancelled_at", "created_by",
		"created_at", "updated_at",
	}).AddRow("t1", 7, "transport", "Herzliya", "Tel Aviv",
		driverID, driverStatus, cancelledAt, "u1", int64(100), int64(100))
}

func TestAcceptTaskWinner(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE tasks").
		WithArgs("d1", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, AcceptTask(db, "t1", "d1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptTaskExactlyOneWinner(t *testing.T) {
	db, mock := newMockDB(t)

	// The first driver's conditional write lands.
	mock.ExpectExec("UPDATE tasks").
		WithArgs("d1", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The second driver's write matches no rows; the re-read names the winner.
	mock.ExpectExec("UPDATE tasks").
		WithArgs("d2", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow("d1", "accepted", nil))

	require.NoError(t, AcceptTask(db, "t1", "d1"))
	assert.ErrorIs(t, AcceptTask(db, "t1", "d2"), ErrTaskAlreadyAssigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptTaskCancelledTask(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE tasks").
		WithArgs("d1", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow(nil, nil, int64(99)))

	assert.ErrorIs(t, AcceptTask(db, "t1", "d1"), ErrTaskCancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptTaskNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE tasks").
		WithArgs("d1", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	assert.ErrorIs(t, AcceptTask(db, "missing", "d1"), ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDriverStatusHappyPath(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow("d1", "accepted", nil))
	mock.ExpectExec("UPDATE tasks").
		WithArgs("pickup", sqlmock.AnyArg(), "t1", "d1", "accepted").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, UpdateDriverStatus(db, "t1", "d1", dispatch.StatusPickup))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDriverStatusWrongDriver(t *testing.T) {
	db, mock := newMockDB(t)

	// Task belongs to d1; d2 tries to transition it. No UPDATE runs.
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow("d1", "accepted", nil))

	assert.ErrorIs(t, UpdateDriverStatus(db, "t1", "d2", dispatch.StatusPickup), ErrNotAssignedDriver)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDriverStatusNotYetAccepted(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow(nil, nil, nil))

	assert.ErrorIs(t, UpdateDriverStatus(db, "t1", "d1", dispatch.StatusPickup), ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDriverStatusSkipAhead(t *testing.T) {
	db, mock := newMockDB(t)

	// accepted -> in_transit skips pickup; rejected before any write.
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow("d1", "accepted", nil))

	assert.ErrorIs(t, UpdateDriverStatus(db, "t1", "d1", dispatch.StatusInTransit), ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDriverStatusToAcceptedRejected(t *testing.T) {
	db, mock := newMockDB(t)

	// Re-entering "accepted" is the accept operation's job; no DB call at all.
	assert.ErrorIs(t, UpdateDriverStatus(db, "t1", "d1", dispatch.StatusAccepted), ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDriverStatusLostRace(t *testing.T) {
	db, mock := newMockDB(t)

	// The task moved between the read and the conditional write.
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("t1").
		WillReturnRows(taskRow("d1", "accepted", nil))
	mock.ExpectExec("UPDATE tasks").
		WithArgs("pickup", sqlmock.AnyArg(), "t1", "d1", "accepted").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, UpdateDriverStatus(db, "t1", "d1", dispatch.StatusPickup), ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
