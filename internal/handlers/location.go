package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/database"
	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
	"tadgo-backend/internal/presence"
	"tadgo-backend/internal/services"
	"tadgo-backend/pkg/utils"
)

type locationUpdateRequest struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading"`
	Speed     *float64 `json:"speed"`
	Accuracy  *float64 `json:"accuracy"`
	TaskID    *string  `json:"task_id"`
	Timestamp *int64   `json:"timestamp"`
}

// UpdateLocation is the REST fallback publisher for devices without a
// WebSocket session. Same path as the channel: publish first, then the
// best-effort mirrors.
func UpdateLocation(db *sqlx.DB, hub *presence.Hub, geo *services.GeoIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req locationUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
			utils.RespondError(w, http.StatusBadRequest, "Invalid coordinates")
			return
		}

		if req.TaskID != nil {
			task, err := database.GetTask(db, *req.TaskID)
			if err != nil {
				utils.RespondError(w, http.StatusNotFound, "Task not found")
				return
			}
			if task.DriverID == nil || *task.DriverID != user.UserID {
				utils.RespondError(w, http.StatusForbidden, "Task is not assigned to you")
				return
			}
		}

		ts := time.Now().Unix()
		if req.Timestamp != nil {
			ts = *req.Timestamp
		}

		pos := models.DriverPosition{
			DriverID:  user.UserID,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Heading:   req.Heading,
			Speed:     req.Speed,
			Accuracy:  req.Accuracy,
			TaskID:    req.TaskID,
			Role:      models.PresenceRoleDriver,
			Timestamp: ts,
		}

		hub.Publish(presence.TopicFleet, user.UserID, pos)
		if req.TaskID != nil {
			hub.Publish(presence.TaskTopic(*req.TaskID), user.UserID, pos)
		}

		if err := database.UpsertDriverLocation(db, pos); err != nil {
			log.Printf("❌ Error mirroring location for driver %s: %v", user.UserID, err)
		}
		if req.TaskID != nil {
			if err := database.MirrorDriverPosition(db, *req.TaskID, user.UserID, req.Latitude, req.Longitude, ts); err != nil {
				log.Printf("❌ Error mirroring position onto task %s: %v", *req.TaskID, err)
			}
		}
		if geo != nil {
			if err := geo.Update(r.Context(), user.UserID, req.Latitude, req.Longitude); err != nil {
				log.Printf("❌ Error updating geo index for driver %s: %v", user.UserID, err)
			}
		}

		utils.RespondSuccess(w, map[string]bool{"published": true})
	}
}
