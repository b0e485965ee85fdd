package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fleet-diagnostics/internal/agent"
	"github.com/jonathan/fleet-diagnostics/internal/config"
	"github.com/jonathan/fleet-diagnostics/internal/db"
	"github.com/jonathan/fleet-diagnostics/internal/llm/llmtest"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/reducer"
	"github.com/jonathan/fleet-diagnostics/internal/transport"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

var fixedNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

const (
	fleetCSV      = "vin,engine_temp\nV1,210\nV2,410\n"
	overheatReply = "```json\n{\"anomalies\": [{\"row\": 2, \"vin\": \"V2\", \"type\": \"Overheat\", \"severity\": \"critical\", \"description\": \"410F\"}], \"summary\": \"One hot engine\"}\n```"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                8080,
		InferenceTimeout:    2 * time.Second,
		ChatTimeout:         2 * time.Second,
		MinChunk:            16,
		PreviewRows:         50,
		QueueSize:           64,
		WriteTimeout:        time.Second,
		DrainTimeout:        2 * time.Second,
		DispatchConcurrency: 2,
		AllowedOrigin:       "*",
	}
}

// newTestServer creates a server over an in-memory store and a scripted model
func newTestServer(t *testing.T, stub *llmtest.Stub, cfg *config.Config) (*Server, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	a := agent.New(stub, store, cfg, agent.Options{Now: func() time.Time { return fixedNow }})
	s := New(cfg, a)
	t.Cleanup(s.rateLimiter.Stop)
	return s, store
}

func uploadRequest(t *testing.T, url, fileName, content, email string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if email != "" {
		require.NoError(t, mw.WriteField("user_email", email))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{}, testConfig())
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCORS_Preflight(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{}, testConfig())
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/analyze", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleAnalyze(t *testing.T) {
	s, store := newTestServer(t, &llmtest.Stub{Tokens: llmtest.Chunked(overheatReply, 11)}, testConfig())
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, uploadRequest(t, "/analyze", "fleet.csv", fleetCSV, "ops@example.com"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FindingCount)
	assert.Equal(t, 1, result.CriticalCount)
	assert.NotEmpty(t, result.Message)
	require.NotEmpty(t, result.Events)
	require.NoError(t, types.ValidateSequence(result.Events))
	assert.True(t, reducer.Reduce(result.Events).Finished())

	notes, err := store.ListNotifications(context.Background(), "ops@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestHandleAnalyze_DisconnectDoesNotCancelRun(t *testing.T) {
	stub := &llmtest.Stub{Tokens: llmtest.Chunked(overheatReply, 11), Delay: 5 * time.Millisecond}
	s, store := newTestServer(t, stub, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	req := uploadRequest(t, "/analyze", "fleet.csv", fleetCSV, "ops@example.com").WithContext(ctx)
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	require.Error(t, ctx.Err())

	notes, err := store.ListNotifications(context.Background(), "ops@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestHandleAnalyze_InvalidFile(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{}, testConfig())
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, uploadRequest(t, "/analyze", "empty.csv", "", ""))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, types.ErrInputInvalid, result.ErrorKind)
	assert.NotEmpty(t, result.Message)
}

func TestHandleAnalyze_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{}, testConfig())

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{
			name: "missing file",
			req:  uploadRequest(t, "/analyze", "", "", "ops@example.com"),
			want: "validation error: file - is required",
		},
		{
			name: "invalid email",
			req:  uploadRequest(t, "/analyze", "fleet.csv", fleetCSV, "not-an-email"),
			want: "validation error: user_email - must be a valid email address",
		},
		{
			name: "not multipart",
			req:  httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("{}")),
			want: "validation error: file - expected a multipart form upload",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, tt.req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp["error"])
		})
	}
}

// streamRun posts an upload to the stream endpoint of a live server and
// decodes every frame
func streamRun(t *testing.T, s *Server, content string) ([]types.Event, transport.Frame, error) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req := uploadRequest(t, ts.URL+"/analyze/stream", "fleet.csv", content, "ops@example.com")
	req.RequestURI = ""
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var (
		events []types.Event
		final  transport.Frame
	)
	err = transport.ReadStream(context.Background(), resp.Body, func(f transport.Frame) error {
		if f.Name.Terminal() {
			final = f
			return nil
		}
		ev, err := f.Event()
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	return events, final, err
}

func TestHandleAnalyzeStream(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{Tokens: llmtest.Chunked(overheatReply, 5)}, testConfig())

	events, final, err := streamRun(t, s, fleetCSV)

	require.NoError(t, err)
	require.NoError(t, types.ValidateSequence(events))
	assert.Equal(t, transport.FrameComplete, final.Name)

	var tokens int
	for _, ev := range events {
		if ev.Kind == types.KindToken {
			tokens++
		}
	}
	assert.Greater(t, tokens, 0)

	st := reducer.Reduce(events)
	assert.Equal(t, reducer.StatusDone, st.Status(types.StageOrchestrator))
	assert.Equal(t, reducer.StatusDone, st.Status(types.StageDispatch))
	assert.Nil(t, st.ActiveStage)

	var result pipeline.Result
	require.NoError(t, final.Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FindingCount)
	assert.Empty(t, result.Events)
}

func TestHandleAnalyzeStream_TimeoutEndsWithErrorFrame(t *testing.T) {
	cfg := testConfig()
	cfg.InferenceTimeout = 30 * time.Millisecond
	s, _ := newTestServer(t, &llmtest.Stub{Hang: true}, cfg)

	events, final, err := streamRun(t, s, fleetCSV)

	require.NoError(t, err)
	assert.Equal(t, transport.FrameError, final.Name)
	var result pipeline.Result
	require.NoError(t, final.Decode(&result))
	assert.Equal(t, types.ErrUpstreamTimeout, result.ErrorKind)

	st := reducer.Reduce(events)
	assert.Equal(t, reducer.StatusFailed, st.Status(types.StageInfer))
	assert.Equal(t, reducer.StatusIdle, st.Status(types.StageDispatch))
	assert.Equal(t, reducer.StatusFailed, st.Status(types.StageOrchestrator))
}

func TestRunHistoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{Tokens: []string{overheatReply}}, testConfig())
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "/analyze", "fleet.csv", fleetCSV, "ops@example.com"))
	require.Equal(t, http.StatusOK, w.Code)
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	t.Run("run", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/"+result.RunID, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var run db.Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		assert.Equal(t, db.RunStatusCompleted, run.Status)
		assert.Equal(t, "fleet.csv", run.FileName)
	})

	t.Run("events replay to the same state", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/"+result.RunID+"/events", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var resp RunEventsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Events, len(result.Events))
		assert.Equal(t, reducer.StatusDone, resp.State.Status(types.StageOrchestrator))
	})

	t.Run("unknown run", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/00000000-0000-0000-0000-000000000001/events", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid run id", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("notifications", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications?user=ops@example.com", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("notifications require user", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleSchedule(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{}, testConfig())
	findings := []types.Finding{{ID: "f1", Type: "Overheat", Severity: types.SeverityCritical}}

	tests := []struct {
		name     string
		date     string
		wantCode int
		wantKind types.ErrorKind
	}{
		{name: "future", date: "2026-10-20T10:00", wantCode: http.StatusOK},
		{name: "past", date: "2026-10-01", wantCode: http.StatusBadRequest, wantKind: types.ErrInputInvalid},
		{name: "malformed", date: "next tuesday", wantCode: http.StatusBadRequest, wantKind: types.ErrInputInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(types.ScheduleRequest{PreferredDate: tt.date, UserEmail: "ops@example.com", Findings: findings})
			req := httptest.NewRequest(http.MethodPost, "/schedule", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			var resp ScheduleResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, tt.wantKind == "", resp.Booking != nil)
		})
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/appointments?user=ops@example.com", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandleChat(t *testing.T) {
	reply := `{"response": "Your engine is overheating.", "intent": "question"}`
	s, _ := newTestServer(t, &llmtest.Stub{Tokens: []string{reply}}, testConfig())
	body, _ := json.Marshal(types.ChatRequest{Message: "What's wrong?"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var res agent.ChatResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "Your engine is overheating.", res.Message)
	assert.Equal(t, types.IntentQuestion, res.Reply.Intent)
}

func TestHandleChat_InvalidBody(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Stub{}, testConfig())
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString("{")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit_AnalyzeEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 1
	cfg.RateLimitBurst = 1
	s, _ := newTestServer(t, &llmtest.Stub{Tokens: []string{`{"anomalies": []}`}}, cfg)
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "/analyze", "fleet.csv", fleetCSV, ""))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "/analyze", "fleet.csv", fleetCSV, ""))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}
