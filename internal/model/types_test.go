package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// The fixtures under testdata pin the v1 wire shape of every persisted
// record. A rename or type change in these structs must fail here before
// it silently orphans stored runs.

func readFixture(t *testing.T, name string, v any) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode fixture %s: %v", name, err)
	}
}

func TestRunRecordDecodesV1Fixture(t *testing.T) {
	var record RunRecord
	readFixture(t, "minimal_run_v1.json", &record)

	if record.SchemaVersion != 1 || record.CodecVersion != 1 {
		t.Fatalf("unexpected versions: %+v", record.VersionedRecord)
	}
	if record.ID != "run-minimal-1" || record.Kind != "pretrain" || record.Dataset != "synthetic" {
		t.Fatalf("unexpected identity fields: %+v", record)
	}
	if arch, ok := record.Config["architecture"].(string); !ok || arch != "gin" {
		t.Fatalf("expected architecture in config, got %+v", record.Config)
	}
	if ratio, ok := record.Config["mask_ratio"].(float64); !ok || ratio != 0.4 {
		t.Fatalf("expected mask_ratio in config, got %+v", record.Config)
	}
	if record.Epochs != 5 || record.BestEpoch != 3 || record.BestLoss != 0.4215 {
		t.Fatalf("unexpected outcome fields: %+v", record)
	}
	if record.StopReason != StopEarly {
		t.Fatalf("expected early stop reason, got %s", record.StopReason)
	}
	if record.FinishedAt.Sub(record.StartedAt) != 45*time.Minute {
		t.Fatalf("unexpected timestamps: start=%s finish=%s", record.StartedAt, record.FinishedAt)
	}
}

func TestCheckpointDecodesV1Fixture(t *testing.T) {
	var cp Checkpoint
	readFixture(t, "minimal_checkpoint_v1.json", &cp)

	if cp.SchemaVersion != 1 || cp.CodecVersion != 1 {
		t.Fatalf("unexpected versions: %+v", cp.VersionedRecord)
	}
	if cp.RunID != "run-minimal-1" || cp.Architecture != "gin" {
		t.Fatalf("unexpected identity fields: %+v", cp)
	}
	if cp.Epoch != 3 || cp.ValLoss != 0.4215 {
		t.Fatalf("unexpected checkpoint metrics: %+v", cp)
	}
	if cp.SavedAt.UTC() != time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC) {
		t.Fatalf("unexpected saved_at: %s", cp.SavedAt)
	}
	if len(cp.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(cp.Params))
	}
	for _, p := range cp.Params {
		if p.Name == "" {
			t.Fatalf("parameter missing name: %+v", p)
		}
		if p.Rows*p.Cols != len(p.Values) {
			t.Fatalf("parameter %s shape %dx%d does not match %d values", p.Name, p.Rows, p.Cols, len(p.Values))
		}
	}
}

func TestEvalReportDecodesV1Fixture(t *testing.T) {
	var report EvalReport
	readFixture(t, "minimal_eval_report_v1.json", &report)

	if report.SchemaVersion != 1 || report.CodecVersion != 1 {
		t.Fatalf("unexpected versions: %+v", report.VersionedRecord)
	}
	if report.RunID != "run-minimal-1" || report.Dataset != "synthetic" || report.Split != "val" {
		t.Fatalf("unexpected identity fields: %+v", report)
	}
	if report.MeanLoss != 0.4215 || report.MeanReg != 0.3011 || report.MeanAttr != -0.8804 {
		t.Fatalf("unexpected means: %+v", report)
	}
	if report.Batches != 2 || report.Nodes != 12 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(report.Targets) != report.Nodes || len(report.NodeLosses) != report.Nodes {
		t.Fatalf("diagnostic rows out of step with node count: targets=%d losses=%d nodes=%d",
			len(report.Targets), len(report.NodeLosses), report.Nodes)
	}
	if len(report.BatchMillis) != report.Batches {
		t.Fatalf("expected one timing per batch, got %d for %d batches", len(report.BatchMillis), report.Batches)
	}
	// Fields added after v1 decode to their zero values.
	if report.NodeLossStd != 0 || report.Graphs != 0 {
		t.Fatalf("expected post-v1 fields to zero-default: %+v", report)
	}
}
