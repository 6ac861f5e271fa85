package presence

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/authz"
	"tadgo-backend/internal/database"
	"tadgo-backend/internal/middleware"
	"tadgo-backend/internal/models"
	"tadgo-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens via the signed token, not the Origin header
		return true
	},
}

// wsClaims authenticates a WebSocket request. Browsers cannot set headers on
// the upgrade request, so the token rides in a query parameter; header auth
// via the normal middleware still works when present.
func wsClaims(r *http.Request) (middleware.UserClaims, bool) {
	if claims, ok := middleware.GetUserFromContext(r); ok {
		return claims, true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		return middleware.UserClaims{}, false
	}
	claims, err := middleware.ParseToken(token)
	if err != nil {
		log.Printf("❌ WebSocket auth failed: %v", err)
		return middleware.UserClaims{}, false
	}
	return claims, true
}

func serve(hub *Hub, c *Client, topic string) {
	if topic != "" {
		hub.Subscribe(topic, c)
	}
	go c.WritePump()
	go c.ReadPump()
}

// HandleDriverWS upgrades a driver device connection into a publish session.
func HandleDriverWS(hub *Hub, db *sqlx.DB, geo *services.GeoIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := wsClaims(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if claims.Role != models.RoleDriver {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		log.Printf("✅ Driver %s connected via WebSocket", claims.UserID)
		client := NewDriverClient(claims.UserID, conn, hub, db, geo)
		serve(hub, client, "")
	}
}

// HandleFleetWS upgrades a viewer connection onto the fleet-wide topic.
// Admins and allow-listed operators only.
func HandleFleetWS(hub *Hub, gate *authz.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := wsClaims(r)

		switch gate.CanViewFleet(claims) {
		case authz.DecisionAuthorized:
		case authz.DecisionPending:
			http.Error(w, "authorization pending", http.StatusUnauthorized)
			return
		default:
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		log.Printf("✅ Fleet viewer %s connected", claims.UserID)
		client := NewViewerClient(claims.UserID, claims.Role, conn, hub, TopicFleet)
		serve(hub, client, TopicFleet)
	}
}

// HandleTaskWS upgrades a viewer connection onto a single task's topic. The
// gate runs against the loaded task before any frame is delivered; a pending
// decision is surfaced as 401 so the client can retry once signed in, a
// denial as a hard 403.
func HandleTaskWS(hub *Hub, db *sqlx.DB, gate *authz.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "id")
		claims, _ := wsClaims(r)

		// Identity check before the task lookup, so anonymous callers
		// cannot discover which task IDs exist.
		if claims.UserID == "" {
			http.Error(w, "authorization pending", http.StatusUnauthorized)
			return
		}

		task, err := database.GetTask(db, taskID)
		if err != nil {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}

		switch gate.CanViewTask(claims, task) {
		case authz.DecisionAuthorized:
		case authz.DecisionPending:
			http.Error(w, "authorization pending", http.StatusUnauthorized)
			return
		default:
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		topic := TaskTopic(taskID)
		log.Printf("✅ Viewer %s subscribed to task %s", claims.UserID, taskID)
		client := NewViewerClient(claims.UserID, claims.Role, conn, hub, topic)
		serve(hub, client, topic)
	}
}
