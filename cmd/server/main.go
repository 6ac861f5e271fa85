package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"tadgo-backend/internal/authz"
	"tadgo-backend/internal/database"
	"tadgo-backend/internal/handlers"
	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
	"tadgo-backend/internal/presence"
	"tadgo-backend/internal/rotation"
	"tadgo-backend/internal/services"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 TADGO BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	// Load .env file
	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("❌ FATAL: DATABASE_URL environment variable is required")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Println("❌ FATAL: Database connection failed")
		log.Fatal(err)
	}
	defer db.Close()

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Println("❌ FATAL: Database migrations failed")
		log.Fatal(err)
	}

	log.Println("🌱 Seeding database with initial data...")
	if err := database.SeedUsers(db); err != nil {
		log.Println("❌ FATAL: User seeding failed")
		log.Fatal(err)
	}
	if err := database.SeedSettings(db); err != nil {
		log.Println("❌ FATAL: Settings seeding failed")
		log.Fatal(err)
	}

	// Initialize Firebase Cloud Messaging
	// Supports both file path and base64-encoded credentials (for Railway/cloud deployments)
	var fcmService *services.FCMService
	fcmCredsBase64 := os.Getenv("FIREBASE_CREDENTIALS_BASE64")

	if fcmCredsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(fcmCredsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcmCredentialsFile := os.Getenv("FIREBASE_CREDENTIALS_FILE")
		if fcmCredentialsFile == "" {
			fcmCredentialsFile = "./firebase-service-account.json"
		}

		fcmService, err = services.NewFCMService(fcmCredentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}

	// Redis geo index (optional)
	var geo *services.GeoIndex
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		geo, err = services.NewGeoIndex(redisAddr)
		if err != nil {
			log.Printf("⚠️  Failed to connect to Redis: %v (nearby-driver queries disabled)", err)
			geo = nil
		}
	} else {
		log.Println("⚠️  REDIS_ADDR not set, nearby-driver queries disabled")
	}
	if geo != nil {
		defer geo.Close()
	}

	// Presence hub
	hub := presence.NewHub()
	go hub.Run()
	log.Println("✅ Presence hub started")

	// Authorization gate for tracking views
	gate := authz.NewGateFromEnv()

	// Lead rotation
	notifier := services.NewPushNotifier(db, fcmService)
	rotationStore := rotation.NewPostgresStore(db)
	engine := rotation.NewEngine(rotationStore, notifier)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", handlers.Login(db))

	// WebSocket endpoints (authentication handled in handler via query param)
	r.Get("/ws/driver", presence.HandleDriverWS(hub, db, geo))
	r.Get("/ws/fleet", presence.HandleFleetWS(hub, gate))
	r.Get("/ws/tasks/{id}", presence.HandleTaskWS(hub, db, gate))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public lead intake (website forms)
		r.Post("/leads", handlers.CreateLead(db, engine))

		// Diagnostic logging endpoint (no auth required for easier debugging)
		r.Post("/logs/diagnostic", handlers.ReceiveDiagnosticLog(db))

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			// Auth status endpoint
			r.Get("/auth/status", handlers.GetAuthStatus(db))

			// Tasks
			r.Get("/tasks", handlers.GetTasks(db))
			r.Get("/tasks/{id}", handlers.GetTask(db))
			r.Get("/tasks/{id}/position", handlers.GetTaskPosition(db, hub, gate))
			r.Get("/tasks/{id}/authorization", handlers.GetTaskAuthorization(db, gate))
			r.Post("/tasks/{id}/cancel", handlers.CancelTask(db))

			// Driver endpoints
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleDriver))
				r.Post("/tasks/{id}/accept", handlers.AcceptTask(db))
				r.Post("/tasks/{id}/status", handlers.UpdateTaskStatus(db, notifier))

				// REST fallback for devices without a WebSocket session
				r.Post("/driver/location", handlers.UpdateLocation(db, hub, geo))
			})

			// Leads (agents see their own, admins everything)
			r.Get("/leads", handlers.GetLeads(db))
			r.Patch("/leads/{id}/status", handlers.UpdateLeadStatus(db))

			// FCM token registration
			r.Post("/driver/fcm-token", handlers.RegisterFCMToken(db))
		})

		// Manager endpoints (require authentication + admin role)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Post("/tasks", handlers.CreateTask(db, notifier))

			r.Get("/manager/leads", handlers.GetLeads(db))
			r.Post("/manager/leads/{id}/assign", handlers.AssignLead(db, rotationStore))
			r.Get("/manager/rotation", handlers.GetRotationSettings(db))
			r.Put("/manager/rotation", handlers.UpdateRotationSettings(db))

			// Fleet map
			r.Get("/manager/drivers", handlers.GetFleet(db, hub))
			r.Get("/manager/drivers/nearby", handlers.NearbyDrivers(db, geo))

			// User management
			r.Post("/users", handlers.CreateUser(db))
			r.Get("/users", handlers.GetUsers(db))
			r.Patch("/users/{id}/active", handlers.SetUserActive(db))
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		log.Printf("⚠️  PORT not set, using default: %s", port)
	}

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", port)
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}
