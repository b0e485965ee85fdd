package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/fleet-diagnostics/internal/reducer"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// RunEventsResponse is the stored event log of a run and the state it folds to
type RunEventsResponse struct {
	RunID  string        `json:"run_id"`
	Events []types.Event `json:"events"`
	State  reducer.State `json:"state"`
}

// runID parses the {id} path value, writing the error response on failure
func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		s.errorResponse(w, http.StatusBadRequest, "Run ID is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID format")
		return uuid.Nil, false
	}
	return id, true
}

// handleGetRun returns one recorded run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleRunEvents replays the stored event log of a run
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return
	}

	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if events == nil {
		events = []types.Event{}
	}

	s.jsonResponse(w, http.StatusOK, RunEventsResponse{
		RunID:  id.String(),
		Events: events,
		State:  reducer.Reduce(events),
	})
}

// handleListNotifications lists the notifications stored for ?user=
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		s.errorResponse(w, http.StatusBadRequest, "user is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	notifications, err := s.store.ListNotifications(r.Context(), user, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if notifications == nil {
		notifications = []types.Notification{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// handleListAppointments lists the appointments booked for ?user=
func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		s.errorResponse(w, http.StatusBadRequest, "user is required")
		return
	}

	appointments, err := s.store.ListAppointments(r.Context(), user)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if appointments == nil {
		appointments = []types.Appointment{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"appointments": appointments,
		"count":        len(appointments),
	})
}
