package models

// Task categories
const (
	TaskCategoryTransport = "transport"
	TaskCategoryAdmin     = "admin"
	TaskCategoryHR        = "hr"
)

// Task is a dispatchable unit of driver work: a delivery, a worker transfer,
// or an admin/HR errand. It doubles as the durable fallback for the driver's
// live position (driver_lat/driver_lng are mirrored from the presence
// channel, see internal/presence).
type Task struct {
	ID         string  `json:"id" db:"id"`
	TaskNumber int     `json:"task_number" db:"task_number"`
	Category   string  `json:"category" db:"category"` // "transport", "admin" or "hr"
	Subtype    *string `json:"subtype,omitempty" db:"subtype"`

	FromLocation string `json:"from_location" db:"from_location"`
	ToLocation   string `json:"to_location" db:"to_location"`
	ScheduledAt  *int64 `json:"scheduled_at,omitempty" db:"scheduled_at"`

	// NULL until a driver accepts. driver_status is NULL exactly while
	// driver_id is NULL; once set, driver_id never changes for the rest of
	// the task's active lifecycle.
	DriverID     *string `json:"driver_id,omitempty" db:"driver_id"`
	DriverStatus *string `json:"driver_status,omitempty" db:"driver_status"`

	// Last mirrored position (durable fallback, may be stale).
	DriverLat          *float64 `json:"driver_lat,omitempty" db:"driver_lat"`
	DriverLng          *float64 `json:"driver_lng,omitempty" db:"driver_lng"`
	DriverPosUpdatedAt *int64   `json:"driver_pos_updated_at,omitempty" db:"driver_pos_updated_at"`

	// Transition timestamps
	AcceptedAt  *int64 `json:"accepted_at,omitempty" db:"accepted_at"`
	PickupAt    *int64 `json:"pickup_at,omitempty" db:"pickup_at"`
	InTransitAt *int64 `json:"in_transit_at,omitempty" db:"in_transit_at"`
	DeliveredAt *int64 `json:"delivered_at,omitempty" db:"delivered_at"`
	CancelledAt *int64 `json:"cancelled_at,omitempty" db:"cancelled_at"`

	WorkerID  *string `json:"worker_id,omitempty" db:"worker_id"`
	CreatedBy string  `json:"created_by" db:"created_by"`
	Notes     *string `json:"notes,omitempty" db:"notes"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	UpdatedAt int64   `json:"updated_at" db:"updated_at"`
}

type CreateTaskRequest struct {
	Category     string  `json:"category"`
	Subtype      *string `json:"subtype"`
	FromLocation string  `json:"from_location"`
	ToLocation   string  `json:"to_location"`
	ScheduledAt  *int64  `json:"scheduled_at"`
	WorkerID     *string `json:"worker_id"`
	Notes        *string `json:"notes"`
}

// TaskPosition is the gate-checked position readout for a single task:
// either the live channel slot or the mirrored fallback.
type TaskPosition struct {
	TaskID    string   `json:"task_id"`
	DriverID  *string  `json:"driver_id,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timestamp *int64   `json:"timestamp,omitempty"`
	Live      bool     `json:"live"`
}
