package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/example/corridor-matching/internal/match"
	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/presence"
)

type errorResponse struct {
	Message string `json:"message"`
}

type driverStatusRequest struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AvailableSeats *int    `json:"availableSeats"`
}

type waitingRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type entityResponse struct {
	ID             string       `json:"id"`
	Username       string       `json:"username"`
	Location       models.Coord `json:"location"`
	AvailableSeats int          `json:"availableSeats,omitempty"`
	IsActive       bool         `json:"isActive,omitempty"`
	IsWaiting      bool         `json:"isWaiting,omitempty"`
	DistanceMeters float64      `json:"distanceMeters,omitempty"`
	ExpiresAt      time.Time    `json:"expiresAt,omitzero"`
	Timestamp      time.Time    `json:"timestamp"`
}

func toEntityResponse(st models.EntityState) entityResponse {
	return entityResponse{
		ID:             st.ID,
		Username:       st.Username,
		Location:       st.Loc,
		AvailableSeats: st.Seats,
		IsActive:       st.Active,
		IsWaiting:      st.Waiting,
		ExpiresAt:      st.ExpiresAt,
		Timestamp:      st.Updated,
	}
}

func toNearbyResponses(in []match.Nearby) []entityResponse {
	out := make([]entityResponse, 0, len(in))
	for _, n := range in {
		e := toEntityResponse(n.State)
		e.DistanceMeters = n.DistanceMeters
		out = append(out, e)
	}
	return out
}

func toListResponses(in []models.EntityState) []entityResponse {
	out := make([]entityResponse, 0, len(in))
	for _, st := range in {
		out = append(out, toEntityResponse(st))
	}
	return out
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var req driverStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}
	if req.AvailableSeats == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Latitude, longitude, and availableSeats are required"})
		return
	}
	// seats checked before any mutation so a bad count changes nothing
	if *req.AvailableSeats < 0 || *req.AvailableSeats > s.Store.SeatCapacity() {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Available seats out of range"})
		return
	}

	_, existed := s.Store.Get(id.UserID)
	if _, err := s.Store.SetPosition(id.UserID, id.Username, models.RoleDriver, req.Latitude, req.Longitude); err != nil {
		s.writeStoreError(w, err)
		return
	}
	st, err := s.Store.SetSeats(id.UserID, *req.AvailableSeats)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	status := http.StatusOK
	msg := "Driver status updated successfully"
	if !existed {
		status = http.StatusCreated
		msg = "Driver status created successfully"
	}
	s.writeJSON(w, status, map[string]any{"message": msg, "driver": toEntityResponse(st)})
}

func (s *Server) handleNearbyPassengers(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := coordsFromQuery(r)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid coordinates"})
		return
	}
	radius := s.cfg.NearbyRadiusM
	if v := r.URL.Query().Get("maxDistance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid maxDistance"})
			return
		}
		radius = f
	}
	passengers := s.Match.NearbyPassengers(lat, lon, radius, s.cfg.NearbyLimit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Nearby passengers retrieved successfully",
		"count":      len(passengers),
		"passengers": toNearbyResponses(passengers),
	})
}

func (s *Server) handleActiveDrivers(w http.ResponseWriter, r *http.Request) {
	drivers := s.Match.ActiveDrivers(s.cfg.WaitingListLimit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Active drivers retrieved successfully",
		"count":   len(drivers),
		"drivers": toListResponses(drivers),
	})
}

func (s *Server) handleMarkWaiting(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var req waitingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}

	_, existed := s.Store.Get(id.UserID)
	if _, err := s.Store.SetPosition(id.UserID, id.Username, models.RolePassenger, req.Latitude, req.Longitude); err != nil {
		s.writeStoreError(w, err)
		return
	}
	st, err := s.Store.SetWaiting(id.UserID, true, s.cfg.WaitingTTL)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	status := http.StatusOK
	msg := "Waiting status updated"
	if !existed {
		status = http.StatusCreated
		msg = "Marked as waiting successfully"
	}
	s.writeJSON(w, status, map[string]any{"message": msg, "passenger": toEntityResponse(st)})
}

func (s *Server) handleCancelWaiting(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if err := s.Store.Remove(id.UserID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "Waiting status cancelled successfully"})
}

func (s *Server) handleWaitingPassengers(w http.ResponseWriter, r *http.Request) {
	passengers := s.Match.WaitingPassengers(s.cfg.WaitingListLimit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Waiting passengers retrieved successfully",
		"count":      len(passengers),
		"passengers": toListResponses(passengers),
	})
}

func coordsFromQuery(r *http.Request) (lat, lon float64, ok bool) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("latitude"), q.Get("longitude")
	if latStr == "" || lonStr == "" {
		return 0, 0, false
	}
	var err error
	if lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return 0, 0, false
	}
	if lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var ve *presence.ValidationError
	var rm *presence.RoleMismatchError
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: ve.Msg})
	case errors.As(err, &rm):
		s.writeJSON(w, http.StatusConflict, errorResponse{Message: "Role mismatch for this identity"})
	case errors.Is(err, presence.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Message: "Record not found"})
	default:
		s.logger.Error("store operation failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}
