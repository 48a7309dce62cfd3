package main

import (
	"strings"
	"testing"

	"metacount/internal/loss"
	"metacount/pkg/metacount"
)

func TestApplyPretrainProfileKeepsRunIdentity(t *testing.T) {
	req := metacount.PretrainRequest{RunID: "keep-me", Seed: 42, Epochs: 7}
	if err := applyPretrainProfile(&req, "reference"); err != nil {
		t.Fatalf("apply profile: %v", err)
	}

	if req.RunID != "keep-me" || req.Seed != 42 {
		t.Fatalf("expected caller identity preserved, got run_id=%s seed=%d", req.RunID, req.Seed)
	}
	if req.Epochs != 100 {
		t.Fatalf("expected profile epochs, got %d", req.Epochs)
	}
	if req.Architecture != "gin" || !req.UseTeacher {
		t.Fatalf("unexpected profile recipe: %+v", req)
	}
}

func TestApplyPretrainProfileUnknownName(t *testing.T) {
	var req metacount.PretrainRequest
	err := applyPretrainProfile(&req, "warp-speed")
	if err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "reference") {
		t.Fatalf("expected available names in error, got %v", err)
	}
}

func TestPretrainProfilesAreWellFormed(t *testing.T) {
	for name, profile := range pretrainProfiles {
		req := profile.Request
		if _, err := loss.ParseKind(req.Loss); err != nil {
			t.Fatalf("profile %s: loss: %v", name, err)
		}
		if _, err := loss.ParseSchedule(req.Schedule); err != nil {
			t.Fatalf("profile %s: schedule: %v", name, err)
		}
		if _, err := loss.ParseObjective(req.Objective); err != nil {
			t.Fatalf("profile %s: objective: %v", name, err)
		}
		if req.Architecture != "gin" && req.Architecture != "gcn" {
			t.Fatalf("profile %s: unknown architecture %s", name, req.Architecture)
		}
		if req.Data.Graphs <= 0 || req.Data.MinNodes <= 0 || req.Data.MaxNodes < req.Data.MinNodes {
			t.Fatalf("profile %s: degenerate corpus shape: %+v", name, req.Data)
		}
		if req.Data.TrainFrac+req.Data.ValFrac >= 1 {
			t.Fatalf("profile %s: splits leave no test graphs: %+v", name, req.Data)
		}
		if req.MaskRatio <= 0 || req.MaskRatio >= 1 {
			t.Fatalf("profile %s: mask ratio out of range: %f", name, req.MaskRatio)
		}
		if req.UseTeacher && (req.Momentum <= 0 || req.Momentum >= 1) {
			t.Fatalf("profile %s: teacher momentum out of range: %f", name, req.Momentum)
		}
	}
}
