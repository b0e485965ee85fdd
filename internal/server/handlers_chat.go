package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// ScheduleResponse is the response for /schedule
type ScheduleResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	ErrorKind types.ErrorKind `json:"error_kind"`
	Booking   *types.Booking  `json:"booking,omitempty"`
}

// handleSchedule books a service appointment for a set of findings
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req types.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	booking, err := s.agent.Schedule(r.Context(), req, nil)
	if err != nil {
		serr := types.AsStageError(types.StageSchedule, err)
		log.Printf("[API/schedule] booking failed: %v", serr)
		s.jsonResponse(w, StatusForKind(serr.Kind), ScheduleResponse{
			Message:   serr.Message,
			ErrorKind: serr.Kind,
		})
		return
	}

	s.jsonResponse(w, http.StatusOK, ScheduleResponse{
		Success: true,
		Message: booking.Message,
		Booking: booking,
	})
}

// handleChat answers one conversational turn, booking an appointment when
// the reply asks for one
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result := s.agent.Chat(r.Context(), req, nil)
	s.jsonResponse(w, StatusForKind(result.ErrorKind), result)
}
