package models

// Presence roles carried inside a channel slot, so admin/viewer entries
// sharing a topic can be told apart from driver entries.
const (
	PresenceRoleDriver = "driver"
	PresenceRoleViewer = "viewer"
)

// DriverPosition is the ephemeral, channel-carried GPS fix. Within a topic
// slot keyed by DriverID only the most recent entry is meaningful; stale
// entries are superseded, never merged.
type DriverPosition struct {
	DriverID  string   `json:"driver_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading,omitempty"`  // Direction of travel (0-360 degrees)
	Speed     *float64 `json:"speed,omitempty"`    // Speed in m/s
	Accuracy  *float64 `json:"accuracy,omitempty"` // GPS accuracy in meters
	TaskID    *string  `json:"task_id,omitempty"`  // Task bound to this publish session
	Role      string   `json:"role"`               // "driver" or "viewer"
	Timestamp int64    `json:"timestamp"`          // Instant of the GPS fix (unix seconds)
}

// DriverCurrentLocation is the durable per-driver mirror row. It survives
// channel disconnects; is_connected=false plus a stale timestamp is how
// reconnecting viewers learn a position is non-live.
type DriverCurrentLocation struct {
	DriverID    string   `json:"driver_id" db:"driver_id"`
	Latitude    float64  `json:"latitude" db:"latitude"`
	Longitude   float64  `json:"longitude" db:"longitude"`
	Heading     *float64 `json:"heading,omitempty" db:"heading"`
	Speed       *float64 `json:"speed,omitempty" db:"speed"`
	Accuracy    *float64 `json:"accuracy,omitempty" db:"accuracy"`
	TaskID      *string  `json:"task_id,omitempty" db:"task_id"`
	Timestamp   int64    `json:"timestamp" db:"timestamp"` // Client-side fix timestamp
	IsConnected bool     `json:"is_connected" db:"is_connected"`
	UpdatedAt   int64    `json:"updated_at" db:"updated_at"` // Server-side write timestamp
}
