package models

// Lead statuses
const (
	LeadStatusNew       = "new"
	LeadStatusAssigned  = "assigned"
	LeadStatusConverted = "converted"
	LeadStatusClosed    = "closed"
)

// Lead is an inbound customer enquiry, assigned to an agent by the
// round-robin rotation engine.
type Lead struct {
	ID         string  `json:"id" db:"id"`
	Name       string  `json:"name" db:"name"`
	Phone      string  `json:"phone" db:"phone"`
	Source     *string `json:"source,omitempty" db:"source"`
	Notes      *string `json:"notes,omitempty" db:"notes"`
	AssignedTo *string `json:"assigned_to,omitempty" db:"assigned_to"`
	AssignedAt *int64  `json:"assigned_at,omitempty" db:"assigned_at"`
	Status     string  `json:"status" db:"status"`
	CreatedAt  int64   `json:"created_at" db:"created_at"`
	UpdatedAt  int64   `json:"updated_at" db:"updated_at"`
}

type CreateLeadRequest struct {
	Name   string  `json:"name"`
	Phone  string  `json:"phone"`
	Source *string `json:"source"`
	Notes  *string `json:"notes"`
}
