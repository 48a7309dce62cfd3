package main

import (
	"context"
	"strings"
	"testing"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"warp"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command: warp") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage line in error: %v", err)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	err := run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for missing command")
	}
	if !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunsRejectsNonPositiveLimit(t *testing.T) {
	err := run(context.Background(), []string{"runs", "--limit", "0"})
	if err == nil {
		t.Fatal("expected error for zero limit")
	}
	if !strings.Contains(err.Error(), "limit must be > 0") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProfileRequiresSubcommand(t *testing.T) {
	err := run(context.Background(), []string{"profile"})
	if err == nil {
		t.Fatal("expected error for bare profile command")
	}
	if !strings.Contains(err.Error(), "list|show") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSourceDisplay(t *testing.T) {
	if got := sourceDisplay(""); got != "fresh" {
		t.Fatalf("expected fresh for empty source, got %s", got)
	}
	if got := sourceDisplay("pre-1"); got != "pre-1" {
		t.Fatalf("expected run id passthrough, got %s", got)
	}
}
