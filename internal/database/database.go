package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("🔌 Connecting to Postgres...")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connection established")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Users: drivers, admins and sales agents. `active` is the opt-out
		// toggle for round-robin eligibility (default TRUE: opt-out, not
		// opt-in).
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT,
			role TEXT NOT NULL CHECK(role IN ('admin', 'driver', 'agent')),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Dispatch tasks. driver_status may only be set while a driver is
		// assigned; the state machine legality itself is enforced by the
		// conditional updates in tasks.go.
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_number SERIAL UNIQUE,
			category TEXT NOT NULL CHECK(category IN ('transport', 'admin', 'hr')),
			subtype TEXT,
			from_location TEXT NOT NULL,
			to_location TEXT NOT NULL,
			scheduled_at BIGINT,
			driver_id TEXT REFERENCES users(id),
			driver_status TEXT CHECK(driver_status IN ('accepted', 'pickup', 'in_transit', 'delivered', 'cancelled')),
			driver_lat DOUBLE PRECISION,
			driver_lng DOUBLE PRECISION,
			driver_pos_updated_at BIGINT,
			accepted_at BIGINT,
			pickup_at BIGINT,
			in_transit_at BIGINT,
			delivered_at BIGINT,
			cancelled_at BIGINT,
			worker_id TEXT,
			created_by TEXT NOT NULL REFERENCES users(id),
			notes TEXT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			CHECK (driver_status IS NULL OR driver_id IS NOT NULL)
		)`,

		// Inbound customer enquiries, assigned round-robin to agents.
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			source TEXT,
			notes TEXT,
			assigned_to TEXT REFERENCES users(id),
			assigned_at BIGINT,
			status TEXT NOT NULL DEFAULT 'new' CHECK(status IN ('new', 'assigned', 'converted', 'closed')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Key/value settings. Holds the rotation feature flag and the
		// persisted rotation cursor.
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Durable per-driver position mirror. One row per driver, last
		// write wins; is_connected flips false when the publish session
		// closes so viewers can tell mirrored from live.
		`CREATE TABLE IF NOT EXISTS driver_current_location (
			driver_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			heading DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			accuracy DOUBLE PRECISION,
			task_id TEXT,
			timestamp BIGINT NOT NULL,
			is_connected BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Push notification targets
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Device-side diagnostic log intake (GPS denied, channel drops, ...)
		`CREATE TABLE IF NOT EXISTS diagnostic_logs (
			id SERIAL PRIMARY KEY,
			user_id TEXT,
			level TEXT NOT NULL DEFAULT 'error',
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_driver_id ON tasks(driver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_assigned_to ON leads(assigned_to)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Printf("✅ Applied %d migrations", len(migrations))
	return nil
}
