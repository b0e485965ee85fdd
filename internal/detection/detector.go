// Package detection asks the inference service to flag anomalies in an
// uploaded dataset and turns its reply into findings.
package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/prompts"
	"github.com/jonathan/fleet-diagnostics/internal/streaming"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// DefaultPreviewRows is how many rows are sent to the model when unset
const DefaultPreviewRows = 50

// RowKey is added to every preview row so the model can cite it
const RowKey = "_row"

// Options configures a Detector
type Options struct {
	Tier        llm.ModelTier
	Deadline    time.Duration
	MinChunk    int
	PreviewRows int
	Now         func() time.Time
}

// Detector runs anomaly detection against one llm.Client
type Detector struct {
	client llm.Client
	opts   Options
}

// New creates a detector. Zero options fall back to package defaults.
func New(client llm.Client, opts Options) *Detector {
	if opts.Tier == "" {
		opts.Tier = llm.TierStandard
	}
	if opts.Deadline <= 0 {
		opts.Deadline = streaming.DefaultDeadline
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = DefaultPreviewRows
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{client: client, opts: opts}
}

// BuildPrompt renders the detection prompt for the dataset preview
func (d *Detector) BuildPrompt(ds *types.Dataset) (string, error) {
	system, err := prompts.Get("detection.json", "anomaly-detection-system")
	if err != nil {
		return "", err
	}

	preview := ds.Preview(d.opts.PreviewRows)
	rows := make([]map[string]any, len(preview))
	for i, row := range preview {
		numbered := make(map[string]any, len(row)+1)
		for k, v := range row {
			numbered[k] = v
		}
		numbered[RowKey] = i + 1
		rows[i] = numbered
	}
	rowsJSON, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode preview rows: %w", err)
	}

	input, err := prompts.Render("detection.json", "anomaly-detection-input", map[string]string{
		"FileName":  nonEmpty(ds.FileName, "upload.csv"),
		"Headers":   strings.Join(ds.Headers, ", "),
		"RowCount":  strconv.Itoa(len(rows)),
		"TotalRows": strconv.Itoa(ds.RowCount()),
		"Rows":      string(rowsJSON),
	})
	if err != nil {
		return "", err
	}

	return llm.BuildExtractionPrompt(llm.AnomalyReportSchema(system), input), nil
}

// Detect streams the model reply for ds and parses it into a detection.
// Token events are emitted as the reply arrives.
func (d *Detector) Detect(ctx context.Context, ds *types.Dataset, emit types.EmitFunc) (*types.Detection, error) {
	if ds.RowCount() == 0 {
		return &types.Detection{Findings: []types.Finding{}, Summary: "No vehicle data available for analysis"}, nil
	}

	prompt, err := d.BuildPrompt(ds)
	if err != nil {
		return nil, types.NewStageError(types.ErrInternal, "failed to build detection prompt", err)
	}

	text, err := streaming.Consume(ctx, streaming.FromClient(d.client, prompt, d.opts.Tier), emit, streaming.Options{
		Stage:    types.StageInfer,
		Deadline: d.opts.Deadline,
		MinChunk: d.opts.MinChunk,
	})
	if err != nil {
		return nil, err
	}

	return Parse(text, len(ds.Preview(d.opts.PreviewRows)), d.opts.Now())
}

// Stage binds the detector as the infer stage
func (d *Detector) Stage() pipeline.Stage {
	return pipeline.NewStage(types.StageInfer, func(ctx context.Context, s *pipeline.State, emit types.EmitFunc) pipeline.StageResult[*types.Detection] {
		ds := s.Dataset()
		if ds == nil {
			return pipeline.Fail[*types.Detection](types.NewStageError(types.ErrInternal, "no dataset to analyze", nil))
		}

		analyzed := len(ds.Preview(d.opts.PreviewRows))
		emit(types.NewEvent(types.KindProgress, types.StageInfer,
			fmt.Sprintf("Analyzing %d of %d rows with %s", analyzed, ds.RowCount(), d.client.GetModel(d.opts.Tier))))

		det, err := d.Detect(ctx, ds, emit)
		if err != nil {
			return pipeline.Fail[*types.Detection](err)
		}

		emit(types.NewEvent(types.KindProgress, types.StageInfer,
			fmt.Sprintf("Detected %d anomalies (%d critical)", len(det.Findings), det.CriticalCount())))
		return pipeline.Succeed(det, Summarize(det, analyzed))
	})
}

// Summarize describes a detection for the infer completion event
func Summarize(det *types.Detection, rowsAnalyzed int) map[string]any {
	bySeverity := map[types.Severity]int{}
	for _, f := range det.Findings {
		bySeverity[f.Severity]++
	}
	return map[string]any{
		"findings":      len(det.Findings),
		"critical":      det.CriticalCount(),
		"by_severity":   bySeverity,
		"rows_analyzed": rowsAnalyzed,
		"summary":       det.Summary,
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
