package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/authz"
	"tadgo-backend/internal/database"
	"tadgo-backend/internal/dispatch"
	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
	"tadgo-backend/internal/presence"
	"tadgo-backend/internal/services"
	"tadgo-backend/pkg/utils"
)

// CreateTask lets an admin open a new dispatch task. Every active driver is
// notified so the first to accept wins it.
func CreateTask(db *sqlx.DB, notifier *services.PushNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		switch req.Category {
		case models.TaskCategoryTransport, models.TaskCategoryAdmin, models.TaskCategoryHR:
		default:
			utils.RespondError(w, http.StatusBadRequest, "Invalid task category")
			return
		}
		if req.FromLocation == "" || req.ToLocation == "" {
			utils.RespondError(w, http.StatusBadRequest, "from_location and to_location are required")
			return
		}

		task, err := database.CreateTask(db, req, user.UserID)
		if err != nil {
			log.Printf("❌ Error creating task: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create task")
			return
		}

		log.Printf("✅ Task #%d created by %s", task.TaskNumber, user.Email)
		go notifier.NotifyDriversTaskAvailable(task.ID, task.TaskNumber)

		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"data":    task,
		})
	}
}

// GetTasks lists tasks. Admins see everything; drivers see the open pool plus
// their own assignments.
func GetTasks(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var tasks []models.Task
		var err error

		switch {
		case user.Role == models.RoleAdmin:
			tasks, err = database.ListTasks(db)
		case r.URL.Query().Get("scope") == "mine":
			tasks, err = database.ListDriverTasks(db, user.UserID)
		default:
			tasks, err = database.ListAvailableTasks(db)
		}
		if err != nil {
			log.Printf("❌ Error listing tasks: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch tasks")
			return
		}

		if tasks == nil {
			tasks = []models.Task{}
		}
		utils.RespondSuccess(w, tasks)
	}
}

// GetTask fetches a single task.
func GetTask(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := database.GetTask(db, chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, database.ErrTaskNotFound) {
				utils.RespondError(w, http.StatusNotFound, "Task not found")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}
		utils.RespondSuccess(w, task)
	}
}

// AcceptTask claims an open task for the calling driver. Exactly one driver
// wins a race; losers get a 409 naming the reason.
func AcceptTask(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		taskID := chi.URLParam(r, "id")

		err := database.AcceptTask(db, taskID, user.UserID)
		switch {
		case err == nil:
		case errors.Is(err, database.ErrTaskNotFound):
			utils.RespondError(w, http.StatusNotFound, "Task not found")
			return
		case errors.Is(err, database.ErrTaskAlreadyAssigned):
			utils.RespondError(w, http.StatusConflict, "Task already accepted by another driver")
			return
		case errors.Is(err, database.ErrTaskCancelled):
			utils.RespondError(w, http.StatusConflict, "Task has been cancelled")
			return
		default:
			log.Printf("❌ Error accepting task %s: %v", taskID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to accept task")
			return
		}

		task, err := database.GetTask(db, taskID)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}

		log.Printf("✅ Task #%d accepted by driver %s", task.TaskNumber, user.UserID)
		utils.RespondSuccess(w, task)
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateTaskStatus moves the driver status forward through the delivery
// state machine. Only the assigned driver may call this.
func UpdateTaskStatus(db *sqlx.DB, notifier *services.PushNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		taskID := chi.URLParam(r, "id")

		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		err := database.UpdateDriverStatus(db, taskID, user.UserID, dispatch.Status(req.Status))
		switch {
		case err == nil:
		case errors.Is(err, database.ErrTaskNotFound):
			utils.RespondError(w, http.StatusNotFound, "Task not found")
			return
		case errors.Is(err, database.ErrNotAssignedDriver):
			utils.RespondError(w, http.StatusForbidden, "Task is assigned to a different driver")
			return
		case errors.Is(err, database.ErrIllegalTransition):
			utils.RespondError(w, http.StatusConflict, "Illegal status transition")
			return
		default:
			log.Printf("❌ Error updating status for task %s: %v", taskID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to update status")
			return
		}

		task, err := database.GetTask(db, taskID)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}

		log.Printf("📍 Task #%d moved to %s by driver %s", task.TaskNumber, req.Status, user.UserID)
		go notifier.NotifyTaskStatus(task.CreatedBy, task.ID, req.Status)

		utils.RespondSuccess(w, task)
	}
}

// CancelTask cancels a task that has not reached a terminal state. Only the
// task creator or an admin may cancel.
func CancelTask(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		taskID := chi.URLParam(r, "id")

		existing, err := database.GetTask(db, taskID)
		if err != nil {
			if errors.Is(err, database.ErrTaskNotFound) {
				utils.RespondError(w, http.StatusNotFound, "Task not found")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}
		if user.Role != models.RoleAdmin && existing.CreatedBy != user.UserID {
			utils.RespondError(w, http.StatusForbidden, "Only the task creator or an admin may cancel")
			return
		}

		err = database.CancelTask(db, taskID)
		switch {
		case err == nil:
		case errors.Is(err, database.ErrTaskNotFound):
			utils.RespondError(w, http.StatusNotFound, "Task not found")
			return
		case errors.Is(err, database.ErrTaskCancelled):
			utils.RespondError(w, http.StatusConflict, "Task already cancelled")
			return
		case errors.Is(err, database.ErrIllegalTransition):
			utils.RespondError(w, http.StatusConflict, "Task already delivered")
			return
		default:
			log.Printf("❌ Error cancelling task %s: %v", taskID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to cancel task")
			return
		}

		task, err := database.GetTask(db, taskID)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}

		log.Printf("🛑 Task #%d cancelled", task.TaskNumber)
		utils.RespondSuccess(w, task)
	}
}

// GetTaskAuthorization reports the caller's tracking-view decision for a
// task without opening a subscription. Clients use it to decide between
// rendering the map, a spinner, or an access-denied state.
func GetTaskAuthorization(db *sqlx.DB, gate *authz.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		task, err := database.GetTask(db, chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, database.ErrTaskNotFound) {
				utils.RespondError(w, http.StatusNotFound, "Task not found")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}

		decision := gate.CanViewTask(user, task)
		utils.RespondSuccess(w, map[string]string{"decision": decision.String()})
	}
}

// GetTaskPosition returns the driver position for a task: the live channel
// slot when the driver is publishing, otherwise the mirrored fallback with
// live=false. Runs the same authorization gate as the task's WebSocket
// topic.
func GetTaskPosition(db *sqlx.DB, hub *presence.Hub, gate *authz.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)
		taskID := chi.URLParam(r, "id")

		task, err := database.GetTask(db, taskID)
		if err != nil {
			if errors.Is(err, database.ErrTaskNotFound) {
				utils.RespondError(w, http.StatusNotFound, "Task not found")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch task")
			return
		}

		switch gate.CanViewTask(user, task) {
		case authz.DecisionAuthorized:
		case authz.DecisionPending:
			utils.RespondError(w, http.StatusUnauthorized, "authorization pending")
			return
		default:
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		pos := models.TaskPosition{TaskID: taskID, DriverID: task.DriverID}

		if task.DriverID != nil {
			if entry, ok := hub.Slot(presence.TaskTopic(taskID), *task.DriverID); ok {
				pos.Latitude = &entry.Latitude
				pos.Longitude = &entry.Longitude
				pos.Timestamp = &entry.Timestamp
				pos.Live = true
				utils.RespondSuccess(w, pos)
				return
			}
		}

		// No live slot; fall back to the mirrored columns on the task row.
		pos.Latitude = task.DriverLat
		pos.Longitude = task.DriverLng
		pos.Timestamp = task.DriverPosUpdatedAt
		utils.RespondSuccess(w, pos)
	}
}
