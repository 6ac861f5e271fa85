package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/models"
	"tadgo-backend/internal/presence"
	"tadgo-backend/internal/services"
	"tadgo-backend/pkg/utils"
)

// fleetEntry is one driver on the admin map: durable mirror columns plus a
// live flag derived from the presence channel, which wins when present.
type fleetEntry struct {
	models.DriverCurrentLocation
	Name string `json:"name"`
	Live bool   `json:"live"`
}

// GetFleet returns the last known position of every driver, overlaying the
// live channel slots onto the durable mirror so the map shows current data
// where a publish session is open and the preserved fallback elsewhere.
func GetFleet(db *sqlx.DB, hub *presence.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type row struct {
			models.DriverCurrentLocation
			Name string `db:"name"`
		}
		var rows []row
		query := `SELECT l.*, u.name FROM driver_current_location l
				  JOIN users u ON u.id = l.driver_id
				  ORDER BY l.updated_at DESC`
		if err := db.Select(&rows, query); err != nil {
			log.Printf("❌ Error loading fleet positions: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch fleet")
			return
		}

		live := hub.Snapshot(presence.TopicFleet)

		entries := make([]fleetEntry, 0, len(rows))
		for _, rec := range rows {
			entry := fleetEntry{DriverCurrentLocation: rec.DriverCurrentLocation, Name: rec.Name}
			if pos, ok := live[rec.DriverID]; ok {
				entry.Latitude = pos.Latitude
				entry.Longitude = pos.Longitude
				entry.Heading = pos.Heading
				entry.Speed = pos.Speed
				entry.Accuracy = pos.Accuracy
				entry.TaskID = pos.TaskID
				entry.Timestamp = pos.Timestamp
				entry.Live = true
			}
			entries = append(entries, entry)
		}

		utils.RespondSuccess(w, entries)
	}
}

// NearbyDrivers finds drivers close to a point using the Redis geo index.
// Only drivers with an open publish session are indexed, so the result set
// is live by construction.
func NearbyDrivers(db *sqlx.DB, geo *services.GeoIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if geo == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "Geo index not configured")
			return
		}

		lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "lat is required")
			return
		}
		lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "lng is required")
			return
		}
		radiusKm := 10.0
		if v := r.URL.Query().Get("radius_km"); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
				radiusKm = parsed
			}
		}

		ids, err := geo.Nearby(r.Context(), lat, lng, radiusKm, 20)
		if err != nil {
			log.Printf("❌ Geo search failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Geo search failed")
			return
		}
		if len(ids) == 0 {
			utils.RespondSuccess(w, []models.UserResponse{})
			return
		}

		query, args, err := sqlx.In(
			"SELECT * FROM users WHERE id IN (?) AND role = 'driver'", ids)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Geo search failed")
			return
		}
		var drivers []models.User
		if err := db.Select(&drivers, db.Rebind(query), args...); err != nil {
			log.Printf("❌ Error loading nearby drivers: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch drivers")
			return
		}

		// Preserve the distance ordering Redis gave us.
		byID := make(map[string]models.User, len(drivers))
		for _, d := range drivers {
			byID[d.ID] = d
		}
		ordered := make([]models.UserResponse, 0, len(ids))
		for _, id := range ids {
			if d, ok := byID[id]; ok {
				ordered = append(ordered, d.ToUserResponse())
			}
		}

		utils.RespondSuccess(w, ordered)
	}
}
