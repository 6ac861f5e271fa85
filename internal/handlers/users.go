package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
	"tadgo-backend/pkg/utils"
)

type createUserRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Phone    *string `json:"phone"`
	Role     string  `json:"role"`
}

// CreateUser lets an admin provision a driver, agent or admin account.
func CreateUser(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" || req.Name == "" {
			utils.RespondError(w, http.StatusBadRequest, "email, password and name are required")
			return
		}
		switch req.Role {
		case models.RoleAdmin, models.RoleDriver, models.RoleAgent:
		default:
			utils.RespondError(w, http.StatusBadRequest, "Invalid role")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		user := models.User{
			ID:        uuid.New().String(),
			Email:     req.Email,
			Password:  string(hash),
			Name:      req.Name,
			Phone:     req.Phone,
			Role:      req.Role,
			Active:    true,
			CreatedAt: time.Now().Unix(),
			UpdatedAt: time.Now().Unix(),
		}

		query := `
			INSERT INTO users (id, email, password, name, phone, role, active, created_at, updated_at)
			VALUES (:id, :email, :password, :name, :phone, :role, :active, :created_at, :updated_at)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			log.Printf("❌ Error creating user %s: %v", req.Email, err)
			utils.RespondError(w, http.StatusConflict, "Email already in use")
			return
		}

		log.Printf("✅ User created: %s (%s)", user.Email, user.Role)
		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"data":    user.ToUserResponse(),
		})
	}
}

// GetUsers lists users, optionally filtered by role (?role=agent).
func GetUsers(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var users []models.User
		var err error

		if role := r.URL.Query().Get("role"); role != "" {
			err = db.Select(&users, "SELECT * FROM users WHERE role = $1 ORDER BY created_at ASC", role)
		} else {
			err = db.Select(&users, "SELECT * FROM users ORDER BY created_at ASC")
		}
		if err != nil {
			log.Printf("❌ Error listing users: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch users")
			return
		}

		responses := make([]models.UserResponse, 0, len(users))
		for i := range users {
			responses = append(responses, users[i].ToUserResponse())
		}
		utils.RespondSuccess(w, responses)
	}
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetUserActive toggles a user's active flag. For agents this is the opt-out
// switch for lead rotation; the pool is re-read per assignment so the change
// takes effect on the next lead.
func SetUserActive(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		var req setActiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		result, err := db.Exec(
			"UPDATE users SET active = $1, updated_at = $2 WHERE id = $3",
			req.Active, time.Now().Unix(), userID)
		if err != nil {
			log.Printf("❌ Error updating user %s: %v", userID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update user")
			return
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}

		log.Printf("⚙️ User %s active=%v", userID, req.Active)
		utils.RespondSuccess(w, map[string]bool{"active": req.Active})
	}
}

type registerTokenRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

// RegisterFCMToken stores a device token for push notifications. Re-posting
// an existing token reassigns it to the calling user (device changed hands).
func RegisterFCMToken(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req registerTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" {
			utils.RespondError(w, http.StatusBadRequest, "device_type must be ios or android")
			return
		}

		query := `
			INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (token) DO UPDATE
			SET user_id = EXCLUDED.user_id,
				device_type = EXCLUDED.device_type,
				updated_at = EXCLUDED.updated_at
		`
		if _, err := db.Exec(query, user.UserID, req.Token, req.DeviceType, time.Now().Unix()); err != nil {
			log.Printf("❌ Error registering FCM token: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to register token")
			return
		}

		utils.RespondSuccess(w, map[string]bool{"registered": true})
	}
}
