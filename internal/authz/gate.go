// Package authz decides who may see a task's live driver position.
//
// The presence channel itself has no idea about ownership or roles, so this
// gate MUST run before any task-scoped subscription is accepted. Topic
// naming is routing, not a security boundary.
package authz

import (
	"os"
	"strings"

	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
)

type Decision int

const (
	// DecisionPending means the viewer's identity is not established yet.
	// Callers should render a loading state, not a denial.
	DecisionPending Decision = iota
	DecisionAuthorized
	DecisionDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionAuthorized:
		return "authorized"
	case DecisionDenied:
		return "denied"
	default:
		return "pending"
	}
}

// Gate evaluates (viewer, task) pairs against ownership, role and the
// configured allow-list of privileged operator identities.
type Gate struct {
	allowlist map[string]bool // lowercased emails
}

// NewGate builds a gate with an explicit allow-list of viewer emails.
func NewGate(allowedEmails []string) *Gate {
	allow := make(map[string]bool, len(allowedEmails))
	for _, e := range allowedEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			allow[e] = true
		}
	}
	return &Gate{allowlist: allow}
}

// NewGateFromEnv reads TRACKING_ALLOWLIST (comma-separated emails).
func NewGateFromEnv() *Gate {
	return NewGate(strings.Split(os.Getenv("TRACKING_ALLOWLIST"), ","))
}

// CanViewTask decides whether the viewer may see live position data for the
// task. Authorized for the task creator, for admins, and for allow-listed
// operators. Pending only while the viewer identity is unknown.
func (g *Gate) CanViewTask(viewer middleware.UserClaims, task *models.Task) Decision {
	if viewer.UserID == "" {
		return DecisionPending
	}
	if task == nil {
		return DecisionDenied
	}
	if task.CreatedBy == viewer.UserID {
		return DecisionAuthorized
	}
	if viewer.Role == models.RoleAdmin {
		return DecisionAuthorized
	}
	if g.allowlist[strings.ToLower(viewer.Email)] {
		return DecisionAuthorized
	}
	return DecisionDenied
}

// CanViewFleet gates the fleet-wide topic: admins and allow-listed operators
// only.
func (g *Gate) CanViewFleet(viewer middleware.UserClaims) Decision {
	if viewer.UserID == "" {
		return DecisionPending
	}
	if viewer.Role == models.RoleAdmin || g.allowlist[strings.ToLower(viewer.Email)] {
		return DecisionAuthorized
	}
	return DecisionDenied
}
