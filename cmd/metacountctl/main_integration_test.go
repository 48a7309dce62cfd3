//go:build sqlite

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"metacount/internal/stats"
)

func TestPipelineSQLiteAcrossInvocations(t *testing.T) {
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})

	ctx := context.Background()
	dbPath := filepath.Join(workdir, "metacount.db")

	pretrainArgs := []string{
		"pretrain",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--profile", "smoke",
		"--run-id", "it-pre",
		"--seed", "11",
	}
	if err := run(ctx, pretrainArgs); err != nil {
		t.Fatalf("pretrain command: %v", err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}
	entries, err := stats.ListRunIndex("artifacts")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "it-pre" {
		t.Fatalf("expected indexed pretraining run, got %+v", entries)
	}
	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv", "summary.json", "eval_val.json", "eval_test.json"} {
		path := filepath.Join("artifacts", "it-pre", file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}

	// A second invocation opens a fresh client, so reaching the
	// pretrained checkpoint proves it came from the database.
	finetuneArgs := []string{
		"finetune",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--latest",
		"--run-id", "it-ft",
		"--graphs", "12",
		"--min-nodes", "5",
		"--max-nodes", "9",
		"--batch-size", "4",
		"--head-dim", "4",
		"--epochs", "1",
		"--seed", "12",
	}
	if err := run(ctx, finetuneArgs); err != nil {
		t.Fatalf("finetune command: %v", err)
	}

	evaluateArgs := []string{
		"evaluate",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--run-id", "it-pre",
		"--split", "val",
		"--graphs", "12",
		"--min-nodes", "5",
		"--max-nodes", "9",
		"--batch-size", "4",
	}
	if err := run(ctx, evaluateArgs); err != nil {
		t.Fatalf("evaluate command: %v", err)
	}
	if _, err := os.Stat(filepath.Join("artifacts", "it-pre", "eval_synthetic_val.json")); err != nil {
		t.Fatalf("expected evaluation snapshot: %v", err)
	}

	runsArgs := []string{"runs", "--store", "sqlite", "--db-path", dbPath, "--limit", "5"}
	if err := run(ctx, runsArgs); err != nil {
		t.Fatalf("runs command: %v", err)
	}

	exportArgs := []string{"export", "--store", "sqlite", "--db-path", dbPath, "--latest", "--compare"}
	if err := run(ctx, exportArgs); err != nil {
		t.Fatalf("export command: %v", err)
	}
	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv"} {
		path := filepath.Join("exports", "it-ft", file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected exported file %s: %v", path, err)
		}
	}
	for _, file := range []string{"curves_synthetic_pretrain.txt", "curves_synthetic_finetune.txt"} {
		path := filepath.Join("exports", "it-ft", file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected curve aggregate %s: %v", path, err)
		}
	}
}
