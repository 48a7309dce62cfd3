package storage

import (
	"context"

	"metacount/internal/model"
)

// Store defines persistence operations for training artifacts: best
// checkpoints, run records, per-run loss series, and evaluation reports.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveLossHistory(ctx context.Context, runID string, history []model.LossPoint) error
	GetLossHistory(ctx context.Context, runID string) ([]model.LossPoint, bool, error)
	SaveEvalReport(ctx context.Context, report model.EvalReport) error
	GetEvalReport(ctx context.Context, runID, split string) (model.EvalReport, bool, error)
}

// Resetter is implemented by stores that can drop all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}
