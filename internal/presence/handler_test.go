package presence

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tadgo-backend/internal/authz"
)

func taskViewerToken(t *testing.T, userID, email, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestTaskWSAnonymousGetsNoExistenceSignal(t *testing.T) {
	db, mock := newMockDB(t)
	r := chi.NewRouter()
	r.Get("/ws/tasks/{id}", HandleTaskWS(NewHub(), db, authz.NewGate(nil)))

	// Without an identity the handler answers 401 before touching the
	// database, so an unknown and a real task ID look identical.
	req := httptest.NewRequest(http.MethodGet, "/ws/tasks/some-task", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskWSDeniedViewerGetsForbidden(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", "test-secret")

	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id`).
		WithArgs("task-1").
		WillReturnRows(assignedTaskRow("task-1", "d1"))

	r := chi.NewRouter()
	r.Get("/ws/tasks/{id}", HandleTaskWS(NewHub(), db, authz.NewGate(nil)))

	// An authenticated agent who neither created the task nor is
	// allow-listed is denied outright.
	token := taskViewerToken(t, "u2", "agent@tadgo.app", "agent")
	req := httptest.NewRequest(http.MethodGet, "/ws/tasks/task-1?token="+token, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
