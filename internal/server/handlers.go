package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/fleet-diagnostics/internal/agent"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/transport"
)

// MaxUploadBytes bounds the multipart body of an analyze request
const MaxUploadBytes = 10 << 20

// DefaultRecipient receives notifications when the upload names no user
const DefaultRecipient = "operator"

var validate = validator.New()

// readUpload reads the multipart "file" field and the optional "user_email"
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (agent.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return agent.Upload{}, &ErrValidation{Field: "file", Message: fmt.Sprintf("exceeds %d bytes", MaxUploadBytes)}
		}
		return agent.Upload{}, &ErrValidation{Field: "file", Message: "expected a multipart form upload"}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return agent.Upload{}, &ErrValidation{Field: "file", Message: "is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return agent.Upload{}, &ErrValidation{Field: "file", Message: "could not be read"}
	}

	recipient := strings.TrimSpace(r.FormValue("user_email"))
	if recipient == "" {
		recipient = DefaultRecipient
	} else if err := validate.Var(recipient, "email"); err != nil {
		return agent.Upload{}, &ErrValidation{Field: "user_email", Message: "must be a valid email address"}
	}

	return agent.Upload{FileName: header.Filename, Data: data, Recipient: recipient}, nil
}

// handleAnalyze runs the pipeline and returns the aggregate result with the
// full event log in one response. As with the stream, a client disconnect
// does not cancel the run; it finishes and is recorded for replay.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	log.Printf("[API/analyze] %s (%d bytes) for %s", up.FileName, len(up.Data), up.Recipient)
	result := s.agent.Analyze(context.WithoutCancel(r.Context()), up, nil)
	s.jsonResponse(w, StatusForKind(result.ErrorKind), result)
}

// handleAnalyzeStream runs the pipeline and relays every event as a frame.
// The stream ends with a complete or error frame carrying the aggregate.
// A client disconnect does not cancel the run; frames stop being written.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	if err := transport.PrepareSSE(w); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	stream := transport.NewStreamWriter(w, transport.WriterOptions{
		QueueSize:        s.cfg.QueueSize,
		WriteTimeout:     s.cfg.WriteTimeout,
		DrainTimeout:     s.cfg.DrainTimeout,
		SetWriteDeadline: rc.SetWriteDeadline,
	})

	log.Printf("[API/analyze/stream] %s (%d bytes) for %s", up.FileName, len(up.Data), up.Recipient)
	result := s.agent.Analyze(context.WithoutCancel(r.Context()), up, stream.Emit)

	// Events were already streamed one frame each
	final := *result
	final.Events = nil
	name := transport.FrameComplete
	if !result.Success {
		name = transport.FrameError
	}
	err = stream.Close(name, &final)
	// Clear the per-write deadline so it does not outlive this response
	_ = rc.SetWriteDeadline(time.Time{})
	if err != nil {
		log.Printf("[API/analyze/stream] run %s: %v (%d frames written)", result.RunID, err, stream.Written())
		return
	}
	log.Printf("[API/analyze/stream] run %s finished: %s", result.RunID, summarize(result))
}

func summarize(r *pipeline.Result) string {
	if r.Success {
		return fmt.Sprintf("completed with %d finding(s)", r.FindingCount)
	}
	return fmt.Sprintf("failed (%s): %s", r.ErrorKind, r.Message)
}
