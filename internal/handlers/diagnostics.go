package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/middleware"
	"tadgo-backend/pkg/utils"
)

type diagnosticLogRequest struct {
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// ReceiveDiagnosticLog ingests device-side error reports (GPS permission
// denied, channel drops, crashes) so field problems are visible server-side.
func ReceiveDiagnosticLog(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		var req diagnosticLogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Source == "" || req.Message == "" {
			utils.RespondError(w, http.StatusBadRequest, "source and message are required")
			return
		}
		if req.Level == "" {
			req.Level = "error"
		}

		var userID *string
		if user.UserID != "" {
			userID = &user.UserID
		}

		query := `
			INSERT INTO diagnostic_logs (user_id, level, source, message, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := db.Exec(query, userID, req.Level, req.Source, req.Message, time.Now().Unix()); err != nil {
			log.Printf("❌ Error storing diagnostic log: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to store log")
			return
		}

		log.Printf("🩺 Diagnostic [%s] %s: %s", req.Level, req.Source, req.Message)
		utils.RespondSuccess(w, map[string]bool{"received": true})
	}
}
