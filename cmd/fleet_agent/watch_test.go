package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/transport"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

func streamEvents() []types.Event {
	return []types.Event{
		{Kind: types.KindStarted, Stage: types.StageOrchestrator, Message: "Pipeline started", Timestamp: 1},
		{Kind: types.KindStarted, Stage: types.StageIngest, Message: "Starting ingest", Timestamp: 2},
		{Kind: types.KindCompleted, Stage: types.StageIngest, Message: "Completed ingest", Timestamp: 3},
		{Kind: types.KindStarted, Stage: types.StageInfer, Message: "Starting infer", Timestamp: 4},
		{Kind: types.KindToken, Stage: types.StageInfer, Message: "{\"anomalies\": []}\n\n", Timestamp: 5},
		{Kind: types.KindCompleted, Stage: types.StageInfer, Message: "Completed infer", Timestamp: 6},
	}
}

// frameServer writes every frame split in two writes at an awkward offset
func frameServer(t *testing.T, final *pipeline.Result) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/stream" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "file is required", http.StatusBadRequest)
			return
		}
		require.NoError(t, transport.PrepareSSE(w))
		flusher := w.(http.Flusher)

		var frames [][]byte
		for _, ev := range streamEvents() {
			frame, err := transport.EncodeEvent(ev)
			require.NoError(t, err)
			frames = append(frames, frame)
		}
		if final != nil {
			name := transport.FrameComplete
			if !final.Success {
				name = transport.FrameError
			}
			frame, err := transport.EncodeFrame(name, final)
			require.NoError(t, err)
			frames = append(frames, frame)
		}
		for _, frame := range frames {
			cut := len(frame) / 3
			_, _ = w.Write(frame[:cut])
			flusher.Flush()
			_, _ = w.Write(frame[cut:])
			flusher.Flush()
		}
	}))
}

func TestWatchCommand_Completed(t *testing.T) {
	ts := frameServer(t, &pipeline.Result{Success: true, Message: "Pipeline completed: no issues found", Findings: []types.Finding{}})
	defer ts.Close()

	out, err := execute(t, "watch", writeCSV(t, fleetCSV), "--server", ts.URL, "--user", "ops@example.com")

	require.NoError(t, err)
	assert.Contains(t, out, "[ingest] completed Completed ingest")
	assert.Contains(t, out, "PIPELINE (active: orchestrator)")
	assert.Contains(t, out, "NO ANOMALIES FOUND")
}

func TestWatchCommand_ErrorFrame(t *testing.T) {
	ts := frameServer(t, &pipeline.Result{Success: false, Message: "inference timed out", ErrorKind: types.ErrUpstreamTimeout})
	defer ts.Close()

	_, err := execute(t, "watch", writeCSV(t, fleetCSV), "--server", ts.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis failed (upstream_timeout): inference timed out")
}

func TestWatchCommand_TruncatedStreamFails(t *testing.T) {
	ts := frameServer(t, nil)
	defer ts.Close()

	out, err := execute(t, "watch", writeCSV(t, fleetCSV), "--server", ts.URL)

	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrStreamTruncated)
	assert.Contains(t, out, "stream closed before the run finished")
}

func TestWatchCommand_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate_limit_exceeded"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := execute(t, "watch", writeCSV(t, fleetCSV), "--server", ts.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
