package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"tadgo-backend/internal/database"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("User seeding failed: %v", err)
	}
	if err := database.SeedSettings(db); err != nil {
		log.Fatalf("Settings seeding failed: %v", err)
	}

	// Query and display summary
	var result struct {
		Users int `db:"users"`
		Tasks int `db:"tasks"`
		Leads int `db:"leads"`
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM tasks) AS tasks,
			(SELECT COUNT(*) FROM leads) AS leads
	`
	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Users: %d\n", result.Users)
	fmt.Printf("Tasks: %d\n", result.Tasks)
	fmt.Printf("Leads: %d\n", result.Leads)
	fmt.Println("============================================================")
}
