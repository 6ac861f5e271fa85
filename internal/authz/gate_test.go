package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
)

func TestCanViewTaskPendingWithoutIdentity(t *testing.T) {
	gate := NewGate(nil)
	task := &models.Task{ID: "t1", CreatedBy: "u1"}

	decision := gate.CanViewTask(middleware.UserClaims{}, task)
	assert.Equal(t, DecisionPending, decision)
	assert.Equal(t, "pending", decision.String())
}

func TestCanViewTaskCreator(t *testing.T) {
	gate := NewGate(nil)
	task := &models.Task{ID: "t1", CreatedBy: "u1"}

	viewer := middleware.UserClaims{UserID: "u1", Email: "someone@example.com", Role: models.RoleAgent}
	assert.Equal(t, DecisionAuthorized, gate.CanViewTask(viewer, task))
}

func TestCanViewTaskAdmin(t *testing.T) {
	gate := NewGate(nil)
	task := &models.Task{ID: "t1", CreatedBy: "u1"}

	viewer := middleware.UserClaims{UserID: "u2", Email: "boss@example.com", Role: models.RoleAdmin}
	assert.Equal(t, DecisionAuthorized, gate.CanViewTask(viewer, task))
}

func TestCanViewTaskAllowlist(t *testing.T) {
	gate := NewGate([]string{" Ops@Example.com ", "", "dispatch@example.com"})
	task := &models.Task{ID: "t1", CreatedBy: "u1"}

	// Case-insensitive, whitespace-trimmed match
	viewer := middleware.UserClaims{UserID: "u2", Email: "OPS@example.COM", Role: models.RoleAgent}
	assert.Equal(t, DecisionAuthorized, gate.CanViewTask(viewer, task))

	stranger := middleware.UserClaims{UserID: "u3", Email: "other@example.com", Role: models.RoleAgent}
	assert.Equal(t, DecisionDenied, gate.CanViewTask(stranger, task))
}

func TestCanViewTaskNilTask(t *testing.T) {
	gate := NewGate(nil)
	viewer := middleware.UserClaims{UserID: "u1", Role: models.RoleAgent}
	assert.Equal(t, DecisionDenied, gate.CanViewTask(viewer, nil))
}

func TestCanViewFleet(t *testing.T) {
	gate := NewGate([]string{"ops@example.com"})

	assert.Equal(t, DecisionPending, gate.CanViewFleet(middleware.UserClaims{}))

	admin := middleware.UserClaims{UserID: "u1", Email: "a@example.com", Role: models.RoleAdmin}
	assert.Equal(t, DecisionAuthorized, gate.CanViewFleet(admin))

	ops := middleware.UserClaims{UserID: "u2", Email: "ops@example.com", Role: models.RoleAgent}
	assert.Equal(t, DecisionAuthorized, gate.CanViewFleet(ops))

	driver := middleware.UserClaims{UserID: "u3", Email: "d@example.com", Role: models.RoleDriver}
	assert.Equal(t, DecisionDenied, gate.CanViewFleet(driver))
}
