package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Parameter is one named tensor in flattened row-major form.
type Parameter struct {
	Name   string    `json:"name"`
	Rows   int       `json:"rows"`
	Cols   int       `json:"cols"`
	Values []float64 `json:"values"`
}

// Checkpoint is a snapshot of every persisted model parameter: the
// student encoder, the heads, and the momentum teacher when one is
// maintained. One best checkpoint exists per run, superseded whenever a
// strictly better validation loss is observed.
type Checkpoint struct {
	VersionedRecord
	RunID        string      `json:"run_id"`
	Architecture string      `json:"architecture"`
	Epoch        int         `json:"epoch"`
	ValLoss      float64     `json:"val_loss"`
	SavedAt      time.Time   `json:"saved_at"`
	Params       []Parameter `json:"params"`
}

// LossPoint is one scalar observation in a per-run series.
type LossPoint struct {
	Epoch int     `json:"epoch"`
	Step  int     `json:"step"`
	Split string  `json:"split"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RunRecord describes one pretraining or fine-tuning run.
type RunRecord struct {
	VersionedRecord
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Dataset    string         `json:"dataset"`
	Config     map[string]any `json:"config"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Epochs     int            `json:"epochs"`
	BestEpoch  int            `json:"best_epoch"`
	BestLoss   float64        `json:"best_loss"`
	StopReason string         `json:"stop_reason"`
}

// Stop reasons recorded on a finished run. Early stopping and epoch
// exhaustion are expected control-flow outcomes, not failures.
const (
	StopEarly     = "early_stop"
	StopEpochs    = "epoch_limit"
	StopCancelled = "cancelled"
)

// EvalReport aggregates one no-gradient evaluation pass. MeanLoss is the
// clamped monitoring criterion; MeanReg and MeanAttr are the terms the
// optimizer saw. Diagnostic rows (Targets, NodeLosses) are nodes for
// pretraining reports and graphs for fine-tuning reports.
type EvalReport struct {
	VersionedRecord
	RunID       string    `json:"run_id"`
	Dataset     string    `json:"dataset"`
	Split       string    `json:"split"`
	Epoch       int       `json:"epoch"`
	MeanLoss    float64   `json:"mean_loss"`
	MeanReg     float64   `json:"mean_reg"`
	MeanAttr    float64   `json:"mean_attr"`
	NodeLossStd float64   `json:"node_loss_std"`
	Batches     int       `json:"batches"`
	Nodes       int       `json:"nodes"`
	Graphs      int       `json:"graphs"`
	Targets     []float64 `json:"targets"`
	NodeLosses  []float64 `json:"node_losses"`
	BatchMillis []float64 `json:"batch_millis"`
}
