package ingestion

import (
	"context"
	"fmt"

	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Stage returns the ingest stage for one uploaded file
func Stage(fileName string, raw []byte) pipeline.Stage {
	return pipeline.NewStage(types.StageIngest, func(_ context.Context, _ *pipeline.State, emit types.EmitFunc) pipeline.StageResult[*types.Dataset] {
		emit(types.NewEvent(types.KindProgress, types.StageIngest, fmt.Sprintf("Reading %d bytes", len(raw))))

		ds, err := ParseDataset(fileName, raw)
		if err != nil {
			return pipeline.Fail[*types.Dataset](types.NewStageError(types.ErrInputInvalid, err.Error(), nil))
		}

		emit(types.NewEvent(types.KindProgress, types.StageIngest,
			fmt.Sprintf("Parsed %d rows across %d columns", ds.RowCount(), len(ds.Headers))))
		return pipeline.Succeed(ds, Summarize(ds))
	})
}
