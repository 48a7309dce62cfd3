package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"metacount/pkg/metacount"
)

// pretrainProfile is a named, complete pretraining recipe. Profiles set
// everything except the run id and the training seed, which stay with
// the caller so repeated runs of one profile remain distinct.
type pretrainProfile struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Request     metacount.PretrainRequest `json:"request"`
}

var pretrainProfiles = map[string]pretrainProfile{
	"smoke": {
		Name:        "smoke",
		Description: "minutes-scale sanity run on a tiny corpus",
		Request: metacount.PretrainRequest{
			Data: metacount.DataConfig{
				Dataset:    "synthetic",
				Graphs:     12,
				MinNodes:   5,
				MaxNodes:   9,
				FeatureDim: 6,
				EdgeProb:   0.4,
				TrainFrac:  0.7,
				ValFrac:    0.15,
				BatchSize:  4,
				Seed:       1,
			},
			Architecture: "gin",
			HiddenDim:    16,
			Layers:       2,
			MaskRatio:    0.25,
			Rounds:       1,
			UseTeacher:   true,
			Momentum:     0.99,
			Loss:         "mae",
			Schedule:     "0.5",
			Objective:    "attribute",
			Epochs:       2,
			Accumulate:   1,
			Patience:     10,
		},
	},
	"reference": {
		Name:        "reference",
		Description: "full pretraining recipe with the momentum teacher and annealed masking objective",
		Request: metacount.PretrainRequest{
			Data: metacount.DataConfig{
				Dataset:    "synthetic",
				Graphs:     256,
				MinNodes:   12,
				MaxNodes:   48,
				FeatureDim: 32,
				EdgeProb:   0.15,
				TrainFrac:  0.7,
				ValFrac:    0.15,
				BatchSize:  16,
				Prefetch:   2,
				Seed:       1,
			},
			Architecture:  "gin",
			HiddenDim:     64,
			Layers:        3,
			MaskRatio:     0.4,
			Rounds:        2,
			UseTeacher:    true,
			Momentum:      0.995,
			Loss:          "mae",
			Schedule:      "anneal_linear$0.9$0.1",
			Objective:     "attribute",
			Epochs:        100,
			Accumulate:    4,
			ClipNorm:      8,
			Patience:      20,
			Threshold:     1e-4,
			LR:            6e-4,
			WeightDecay:   5e-4,
			DecayFactor:   0.1,
			DecayEvery:    20,
			ProgressEvery: 25,
		},
	},
	"no-teacher": {
		Name:        "no-teacher",
		Description: "reference recipe without the momentum teacher, for ablations",
		Request: metacount.PretrainRequest{
			Data: metacount.DataConfig{
				Dataset:    "synthetic",
				Graphs:     256,
				MinNodes:   12,
				MaxNodes:   48,
				FeatureDim: 32,
				EdgeProb:   0.15,
				TrainFrac:  0.7,
				ValFrac:    0.15,
				BatchSize:  16,
				Prefetch:   2,
				Seed:       1,
			},
			Architecture:  "gin",
			HiddenDim:     64,
			Layers:        3,
			MaskRatio:     0.4,
			Rounds:        2,
			UseTeacher:    false,
			Loss:          "mae",
			Schedule:      "0.5",
			Objective:     "attribute",
			Epochs:        100,
			Accumulate:    4,
			ClipNorm:      8,
			Patience:      20,
			Threshold:     1e-4,
			LR:            6e-4,
			WeightDecay:   5e-4,
			DecayFactor:   0.1,
			DecayEvery:    20,
			ProgressEvery: 25,
		},
	},
}

// applyPretrainProfile replaces the request with the named recipe while
// keeping the caller's run id and training seed.
func applyPretrainProfile(req *metacount.PretrainRequest, name string) error {
	profile, ok := pretrainProfiles[name]
	if !ok {
		return fmt.Errorf("unknown profile: %s (have %s)", name, strings.Join(profileNames(), ", "))
	}
	runID, seed := req.RunID, req.Seed
	*req = profile.Request
	req.RunID = runID
	req.Seed = seed
	return nil
}

func profileNames() []string {
	names := make([]string, 0, len(pretrainProfiles))
	for name := range pretrainProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runProfile(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("profile requires a subcommand: list|show")
	}

	switch args[0] {
	case "list":
		return runProfileList(args[1:])
	case "show":
		return runProfileShow(args[1:])
	default:
		return fmt.Errorf("unknown profile subcommand: %s", args[0])
	}
}

func runProfileList(args []string) error {
	fs := flag.NewFlagSet("profile list", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit profiles as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	names := profileNames()
	if *jsonOut {
		profiles := make([]pretrainProfile, 0, len(names))
		for _, name := range names {
			profiles = append(profiles, pretrainProfiles[name])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profiles)
	}

	for _, name := range names {
		fmt.Printf("profile=%s description=%q\n", name, pretrainProfiles[name].Description)
	}
	return nil
}

func runProfileShow(args []string) error {
	fs := flag.NewFlagSet("profile show", flag.ContinueOnError)
	name := fs.String("name", "", "profile name")
	jsonOut := fs.Bool("json", false, "emit the profile as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("profile show requires -name")
	}

	profile, ok := pretrainProfiles[*name]
	if !ok {
		return fmt.Errorf("unknown profile: %s (have %s)", *name, strings.Join(profileNames(), ", "))
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	}

	req := profile.Request
	fmt.Printf("profile=%s\n", profile.Name)
	fmt.Printf("description=%q\n", profile.Description)
	fmt.Printf("dataset=%s graphs=%d nodes=%d..%d feature_dim=%d edge_dim=%d edge_prob=%.2f batch_size=%d prefetch=%d\n",
		req.Data.Dataset, req.Data.Graphs, req.Data.MinNodes, req.Data.MaxNodes,
		req.Data.FeatureDim, req.Data.EdgeDim, req.Data.EdgeProb, req.Data.BatchSize, req.Data.Prefetch)
	fmt.Printf("architecture=%s hidden_dim=%d layers=%d mask_ratio=%.2f rounds=%d\n",
		req.Architecture, req.HiddenDim, req.Layers, req.MaskRatio, req.Rounds)
	fmt.Printf("use_teacher=%t momentum=%.4f\n", req.UseTeacher, req.Momentum)
	fmt.Printf("loss=%s schedule=%s objective=%s\n", req.Loss, req.Schedule, req.Objective)
	fmt.Printf("epochs=%d accumulate=%d clip_norm=%.1f patience=%d threshold=%g\n",
		req.Epochs, req.Accumulate, req.ClipNorm, req.Patience, req.Threshold)
	fmt.Printf("lr=%g weight_decay=%g decay_factor=%.2f decay_every=%d\n",
		req.LR, req.WeightDecay, req.DecayFactor, req.DecayEvery)
	return nil
}
