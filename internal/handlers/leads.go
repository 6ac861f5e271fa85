package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
	"tadgo-backend/internal/rotation"
	"tadgo-backend/pkg/utils"
)

// CreateLead ingests an inbound enquiry (website form, phone intake) and runs
// the rotation engine over it. Unauthenticated on purpose: leads arrive from
// the public site.
func CreateLead(db *sqlx.DB, engine *rotation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateLeadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Name == "" || req.Phone == "" {
			utils.RespondError(w, http.StatusBadRequest, "name and phone are required")
			return
		}

		id := uuid.New().String()
		now := time.Now().Unix()

		query := `
			INSERT INTO leads (id, name, phone, source, notes, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'new', $6, $6)
		`
		if _, err := db.Exec(query, id, req.Name, req.Phone, req.Source, req.Notes, now); err != nil {
			log.Printf("❌ Error creating lead: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create lead")
			return
		}

		outcome := "failed"
		result, err := engine.Assign(r.Context(), id)
		if err != nil {
			// The lead exists either way; it just stays unassigned.
			log.Printf("❌ Rotation failed for lead %s: %v", id, err)
		} else {
			outcome = string(result.Outcome)
		}

		var lead models.Lead
		if err := db.Get(&lead, "SELECT * FROM leads WHERE id = $1", id); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch lead")
			return
		}

		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
			"success":  true,
			"data":     lead,
			"rotation": outcome,
		})
	}
}

// GetLeads lists leads: admins see all, agents only their own.
func GetLeads(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var leads []models.Lead
		var err error
		if user.Role == models.RoleAdmin {
			err = db.Select(&leads, "SELECT * FROM leads ORDER BY created_at DESC")
		} else {
			err = db.Select(&leads, "SELECT * FROM leads WHERE assigned_to = $1 ORDER BY created_at DESC", user.UserID)
		}
		if err != nil {
			log.Printf("❌ Error listing leads: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch leads")
			return
		}

		if leads == nil {
			leads = []models.Lead{}
		}
		utils.RespondSuccess(w, leads)
	}
}

type assignLeadRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// AssignLead lets an admin hand a lead to a specific agent, bypassing the
// rotation. Still a conditional write: an already-assigned lead conflicts.
func AssignLead(db *sqlx.DB, store *rotation.PostgresStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leadID := chi.URLParam(r, "id")

		var req assignLeadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssigneeID == "" {
			utils.RespondError(w, http.StatusBadRequest, "assignee_id is required")
			return
		}

		var assignee models.User
		if err := db.Get(&assignee, "SELECT * FROM users WHERE id = $1", req.AssigneeID); err != nil {
			utils.RespondError(w, http.StatusNotFound, "Assignee not found")
			return
		}
		if assignee.Role != models.RoleAgent {
			utils.RespondError(w, http.StatusBadRequest, "Assignee must be an agent")
			return
		}

		err := store.Assign(r.Context(), leadID, req.AssigneeID)
		if errors.Is(err, rotation.ErrAlreadyAssigned) {
			utils.RespondError(w, http.StatusConflict, "Lead already assigned")
			return
		}
		if err != nil {
			log.Printf("❌ Error assigning lead %s: %v", leadID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to assign lead")
			return
		}

		var lead models.Lead
		if err := db.Get(&lead, "SELECT * FROM leads WHERE id = $1", leadID); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch lead")
			return
		}

		log.Printf("✅ Lead %s manually assigned to %s", leadID, assignee.Email)
		utils.RespondSuccess(w, lead)
	}
}

type updateLeadStatusRequest struct {
	Status string `json:"status"`
}

// UpdateLeadStatus lets the assigned agent (or an admin) move a lead through
// its funnel.
func UpdateLeadStatus(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		leadID := chi.URLParam(r, "id")

		var req updateLeadStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		switch req.Status {
		case models.LeadStatusAssigned, models.LeadStatusConverted, models.LeadStatusClosed:
		default:
			utils.RespondError(w, http.StatusBadRequest, "Invalid lead status")
			return
		}

		var lead models.Lead
		if err := db.Get(&lead, "SELECT * FROM leads WHERE id = $1", leadID); err != nil {
			utils.RespondError(w, http.StatusNotFound, "Lead not found")
			return
		}
		if user.Role != models.RoleAdmin {
			if lead.AssignedTo == nil || *lead.AssignedTo != user.UserID {
				utils.RespondError(w, http.StatusForbidden, "Lead is assigned to a different agent")
				return
			}
		}

		now := time.Now().Unix()
		if _, err := db.Exec("UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3", req.Status, now, leadID); err != nil {
			log.Printf("❌ Error updating lead %s: %v", leadID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update lead")
			return
		}

		lead.Status = req.Status
		lead.UpdatedAt = now
		utils.RespondSuccess(w, lead)
	}
}

type rotationSettings struct {
	Enabled bool `json:"enabled"`
	Cursor  int  `json:"cursor"`
}

// GetRotationSettings reports the rotation switch and the persisted cursor.
func GetRotationSettings(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings rotationSettings

		var enabled string
		if err := db.Get(&enabled, "SELECT value FROM settings WHERE key = $1", rotation.SettingEnabled); err == nil {
			settings.Enabled = enabled == "true"
		}
		var cursor int
		if err := db.Get(&cursor, "SELECT value::int FROM settings WHERE key = $1", rotation.SettingCursor); err == nil {
			settings.Cursor = cursor
		}

		utils.RespondSuccess(w, settings)
	}
}

type updateRotationRequest struct {
	Enabled bool `json:"enabled"`
}

// UpdateRotationSettings flips the rotation switch. The cursor is never
// user-writable; it only moves through assignments.
func UpdateRotationSettings(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateRotationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		value := "false"
		if req.Enabled {
			value = "true"
		}
		query := `
			INSERT INTO settings (key, value, updated_at)
			VALUES ($1, $2, EXTRACT(EPOCH FROM NOW())::BIGINT)
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`
		if _, err := db.Exec(query, rotation.SettingEnabled, value); err != nil {
			log.Printf("❌ Error updating rotation setting: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update setting")
			return
		}

		log.Printf("⚙️ Lead rotation enabled=%v", req.Enabled)
		utils.RespondSuccess(w, map[string]bool{"enabled": req.Enabled})
	}
}
