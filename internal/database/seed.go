package database

import (
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// SeedUsers creates the initial admin, driver and agent accounts.
func SeedUsers(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding initial users...")

	adminPassword, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	driverPassword, err := bcrypt.GenerateFromPassword([]byte("driver123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	agentPassword, err := bcrypt.GenerateFromPassword([]byte("agent123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	users := []map[string]interface{}{
		{
			"id":       uuid.New().String(),
			"email":    "admin@tadgo.app",
			"password": string(adminPassword),
			"name":     "Dispatch Admin",
			"role":     "admin",
		},
		{
			"id":       uuid.New().String(),
			"email":    "driver@tadgo.app",
			"password": string(driverPassword),
			"name":     "Saleh Driver",
			"role":     "driver",
		},
		{
			"id":       uuid.New().String(),
			"email":    "agent@tadgo.app",
			"password": string(agentPassword),
			"name":     "Lina Agent",
			"role":     "agent",
		},
	}

	for _, user := range users {
		query := `
			INSERT INTO users (id, email, password, name, role)
			VALUES (:id, :email, :password, :name, :role)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", user["email"], user["role"])
	}

	log.Println("✓ Successfully seeded users")
	log.Println("  📧 Admin:  admin@tadgo.app / admin123")
	log.Println("  📧 Driver: driver@tadgo.app / driver123")
	log.Println("  📧 Agent:  agent@tadgo.app / agent123")
	return nil
}

// SeedSettings inserts the rotation feature flag and cursor if absent.
func SeedSettings(db *sqlx.DB) error {
	defaults := map[string]string{
		"lead_rotation_enabled": "true",
		"lead_rotation_index":   "0",
	}

	for key, value := range defaults {
		query := `INSERT INTO settings (key, value) VALUES ($1, $2)
				  ON CONFLICT (key) DO NOTHING`
		if _, err := db.Exec(query, key, value); err != nil {
			return err
		}
	}

	log.Println("✓ Settings seeded")
	return nil
}
