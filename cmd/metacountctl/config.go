package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"metacount/pkg/metacount"
)

// loadConfigMap reads a config file as a flat key/value map. The format
// follows the extension: .yaml and .yml parse as YAML, everything else
// as JSON.
func loadConfigMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return raw, nil
}

// applyPretrainConfig copies recognized keys onto the request. Unknown
// keys warn and are skipped so configs survive option renames.
func applyPretrainConfig(req *metacount.PretrainRequest, raw map[string]any, logger *slog.Logger) {
	var unknown []string
	for key, value := range raw {
		switch key {
		case "run_id":
			if v, ok := asString(value); ok {
				req.RunID = v
			}
		case "dataset":
			if v, ok := asString(value); ok {
				req.Data.Dataset = v
			}
		case "graphs":
			if v, ok := asInt(value); ok {
				req.Data.Graphs = v
			}
		case "min_nodes":
			if v, ok := asInt(value); ok {
				req.Data.MinNodes = v
			}
		case "max_nodes":
			if v, ok := asInt(value); ok {
				req.Data.MaxNodes = v
			}
		case "feature_dim":
			if v, ok := asInt(value); ok {
				req.Data.FeatureDim = v
			}
		case "edge_dim":
			if v, ok := asInt(value); ok {
				req.Data.EdgeDim = v
			}
		case "edge_prob":
			if v, ok := asFloat64(value); ok {
				req.Data.EdgeProb = v
			}
		case "train_frac":
			if v, ok := asFloat64(value); ok {
				req.Data.TrainFrac = v
			}
		case "val_frac":
			if v, ok := asFloat64(value); ok {
				req.Data.ValFrac = v
			}
		case "batch_size":
			if v, ok := asInt(value); ok {
				req.Data.BatchSize = v
			}
		case "prefetch":
			if v, ok := asInt(value); ok {
				req.Data.Prefetch = v
			}
		case "data_seed":
			if v, ok := asInt64(value); ok {
				req.Data.Seed = v
			}
		case "architecture":
			if v, ok := asString(value); ok {
				req.Architecture = v
			}
		case "hidden_dim":
			if v, ok := asInt(value); ok {
				req.HiddenDim = v
			}
		case "layers":
			if v, ok := asInt(value); ok {
				req.Layers = v
			}
		case "mask_ratio":
			if v, ok := asFloat64(value); ok {
				req.MaskRatio = v
			}
		case "rounds":
			if v, ok := asInt(value); ok {
				req.Rounds = v
			}
		case "use_teacher":
			if v, ok := asBool(value); ok {
				req.UseTeacher = v
			}
		case "momentum":
			if v, ok := asFloat64(value); ok {
				req.Momentum = v
			}
		case "loss":
			if v, ok := asString(value); ok {
				req.Loss = v
			}
		case "optimized_loss":
			if v, ok := asString(value); ok {
				req.OptimizedLoss = v
			}
		case "schedule":
			if v, ok := asString(value); ok {
				req.Schedule = v
			}
		case "objective":
			if v, ok := asString(value); ok {
				req.Objective = v
			}
		case "epochs":
			if v, ok := asInt(value); ok {
				req.Epochs = v
			}
		case "accumulate":
			if v, ok := asInt(value); ok {
				req.Accumulate = v
			}
		case "clip_norm":
			if v, ok := asFloat64(value); ok {
				req.ClipNorm = v
			}
		case "patience":
			if v, ok := asInt(value); ok {
				req.Patience = v
			}
		case "threshold":
			if v, ok := asFloat64(value); ok {
				req.Threshold = v
			}
		case "lr":
			if v, ok := asFloat64(value); ok {
				req.LR = v
			}
		case "weight_decay":
			if v, ok := asFloat64(value); ok {
				req.WeightDecay = v
			}
		case "decay_factor":
			if v, ok := asFloat64(value); ok {
				req.DecayFactor = v
			}
		case "decay_every":
			if v, ok := asInt(value); ok {
				req.DecayEvery = v
			}
		case "progress_every":
			if v, ok := asInt(value); ok {
				req.ProgressEvery = v
			}
		case "seed":
			if v, ok := asInt64(value); ok {
				req.Seed = v
			}
		default:
			unknown = append(unknown, key)
		}
	}
	warnUnknownKeys(logger, unknown)
}

// applyFinetuneConfig mirrors applyPretrainConfig for the fine-tuning
// request shape.
func applyFinetuneConfig(req *metacount.FinetuneRequest, raw map[string]any, logger *slog.Logger) {
	var unknown []string
	for key, value := range raw {
		switch key {
		case "run_id":
			if v, ok := asString(value); ok {
				req.RunID = v
			}
		case "pretrain_run_id":
			if v, ok := asString(value); ok {
				req.PretrainRunID = v
			}
		case "latest":
			if v, ok := asBool(value); ok {
				req.Latest = v
			}
		case "allow_fresh":
			if v, ok := asBool(value); ok {
				req.AllowFresh = v
			}
		case "dataset":
			if v, ok := asString(value); ok {
				req.Data.Dataset = v
			}
		case "graphs":
			if v, ok := asInt(value); ok {
				req.Data.Graphs = v
			}
		case "min_nodes":
			if v, ok := asInt(value); ok {
				req.Data.MinNodes = v
			}
		case "max_nodes":
			if v, ok := asInt(value); ok {
				req.Data.MaxNodes = v
			}
		case "feature_dim":
			if v, ok := asInt(value); ok {
				req.Data.FeatureDim = v
			}
		case "edge_dim":
			if v, ok := asInt(value); ok {
				req.Data.EdgeDim = v
			}
		case "edge_prob":
			if v, ok := asFloat64(value); ok {
				req.Data.EdgeProb = v
			}
		case "train_frac":
			if v, ok := asFloat64(value); ok {
				req.Data.TrainFrac = v
			}
		case "val_frac":
			if v, ok := asFloat64(value); ok {
				req.Data.ValFrac = v
			}
		case "batch_size":
			if v, ok := asInt(value); ok {
				req.Data.BatchSize = v
			}
		case "prefetch":
			if v, ok := asInt(value); ok {
				req.Data.Prefetch = v
			}
		case "data_seed":
			if v, ok := asInt64(value); ok {
				req.Data.Seed = v
			}
		case "architecture":
			if v, ok := asString(value); ok {
				req.Architecture = v
			}
		case "hidden_dim":
			if v, ok := asInt(value); ok {
				req.HiddenDim = v
			}
		case "layers":
			if v, ok := asInt(value); ok {
				req.Layers = v
			}
		case "head_dim":
			if v, ok := asInt(value); ok {
				req.HeadDim = v
			}
		case "train_encoder":
			if v, ok := asBool(value); ok {
				req.TrainEncoder = v
			}
		case "alignment":
			if v, ok := asBool(value); ok {
				req.Alignment = v
			}
		case "align_dim":
			if v, ok := asInt(value); ok {
				req.AlignDim = v
			}
		case "align_weight":
			if v, ok := asFloat64(value); ok {
				req.AlignWeight = v
			}
		case "loss":
			if v, ok := asString(value); ok {
				req.Loss = v
			}
		case "optimized_loss":
			if v, ok := asString(value); ok {
				req.OptimizedLoss = v
			}
		case "epochs":
			if v, ok := asInt(value); ok {
				req.Epochs = v
			}
		case "accumulate":
			if v, ok := asInt(value); ok {
				req.Accumulate = v
			}
		case "clip_norm":
			if v, ok := asFloat64(value); ok {
				req.ClipNorm = v
			}
		case "patience":
			if v, ok := asInt(value); ok {
				req.Patience = v
			}
		case "threshold":
			if v, ok := asFloat64(value); ok {
				req.Threshold = v
			}
		case "lr":
			if v, ok := asFloat64(value); ok {
				req.LR = v
			}
		case "weight_decay":
			if v, ok := asFloat64(value); ok {
				req.WeightDecay = v
			}
		case "decay_factor":
			if v, ok := asFloat64(value); ok {
				req.DecayFactor = v
			}
		case "decay_every":
			if v, ok := asInt(value); ok {
				req.DecayEvery = v
			}
		case "progress_every":
			if v, ok := asInt(value); ok {
				req.ProgressEvery = v
			}
		case "seed":
			if v, ok := asInt64(value); ok {
				req.Seed = v
			}
		default:
			unknown = append(unknown, key)
		}
	}
	warnUnknownKeys(logger, unknown)
}

func warnUnknownKeys(logger *slog.Logger, keys []string) {
	if logger == nil || len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	for _, key := range keys {
		logger.Warn("ignoring unknown config key", "key", key)
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func overridePretrainFlags(req *metacount.PretrainRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "dataset":
			req.Data.Dataset = v.(string)
		case "graphs":
			req.Data.Graphs = v.(int)
		case "min-nodes":
			req.Data.MinNodes = v.(int)
		case "max-nodes":
			req.Data.MaxNodes = v.(int)
		case "feature-dim":
			req.Data.FeatureDim = v.(int)
		case "edge-dim":
			req.Data.EdgeDim = v.(int)
		case "edge-prob":
			req.Data.EdgeProb = v.(float64)
		case "train-frac":
			req.Data.TrainFrac = v.(float64)
		case "val-frac":
			req.Data.ValFrac = v.(float64)
		case "batch-size":
			req.Data.BatchSize = v.(int)
		case "prefetch":
			req.Data.Prefetch = v.(int)
		case "data-seed":
			req.Data.Seed = v.(int64)
		case "arch":
			req.Architecture = v.(string)
		case "hidden":
			req.HiddenDim = v.(int)
		case "layers":
			req.Layers = v.(int)
		case "mask-ratio":
			req.MaskRatio = v.(float64)
		case "rounds":
			req.Rounds = v.(int)
		case "teacher":
			req.UseTeacher = v.(bool)
		case "momentum":
			req.Momentum = v.(float64)
		case "loss":
			req.Loss = v.(string)
		case "optimized-loss":
			req.OptimizedLoss = v.(string)
		case "schedule":
			req.Schedule = v.(string)
		case "objective":
			req.Objective = v.(string)
		case "epochs":
			req.Epochs = v.(int)
		case "accumulate":
			req.Accumulate = v.(int)
		case "clip-norm":
			req.ClipNorm = v.(float64)
		case "patience":
			req.Patience = v.(int)
		case "threshold":
			req.Threshold = v.(float64)
		case "lr":
			req.LR = v.(float64)
		case "weight-decay":
			req.WeightDecay = v.(float64)
		case "decay-factor":
			req.DecayFactor = v.(float64)
		case "decay-every":
			req.DecayEvery = v.(int)
		case "progress-every":
			req.ProgressEvery = v.(int)
		case "seed":
			req.Seed = v.(int64)
		}
	}
}

func overrideFinetuneFlags(req *metacount.FinetuneRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "pretrain-run-id":
			req.PretrainRunID = v.(string)
		case "latest":
			req.Latest = v.(bool)
		case "allow-fresh":
			req.AllowFresh = v.(bool)
		case "run-id":
			req.RunID = v.(string)
		case "dataset":
			req.Data.Dataset = v.(string)
		case "graphs":
			req.Data.Graphs = v.(int)
		case "min-nodes":
			req.Data.MinNodes = v.(int)
		case "max-nodes":
			req.Data.MaxNodes = v.(int)
		case "feature-dim":
			req.Data.FeatureDim = v.(int)
		case "edge-dim":
			req.Data.EdgeDim = v.(int)
		case "edge-prob":
			req.Data.EdgeProb = v.(float64)
		case "train-frac":
			req.Data.TrainFrac = v.(float64)
		case "val-frac":
			req.Data.ValFrac = v.(float64)
		case "batch-size":
			req.Data.BatchSize = v.(int)
		case "prefetch":
			req.Data.Prefetch = v.(int)
		case "data-seed":
			req.Data.Seed = v.(int64)
		case "arch":
			req.Architecture = v.(string)
		case "hidden":
			req.HiddenDim = v.(int)
		case "layers":
			req.Layers = v.(int)
		case "head-dim":
			req.HeadDim = v.(int)
		case "train-encoder":
			req.TrainEncoder = v.(bool)
		case "alignment":
			req.Alignment = v.(bool)
		case "align-dim":
			req.AlignDim = v.(int)
		case "align-weight":
			req.AlignWeight = v.(float64)
		case "loss":
			req.Loss = v.(string)
		case "optimized-loss":
			req.OptimizedLoss = v.(string)
		case "epochs":
			req.Epochs = v.(int)
		case "accumulate":
			req.Accumulate = v.(int)
		case "clip-norm":
			req.ClipNorm = v.(float64)
		case "patience":
			req.Patience = v.(int)
		case "threshold":
			req.Threshold = v.(float64)
		case "lr":
			req.LR = v.(float64)
		case "weight-decay":
			req.WeightDecay = v.(float64)
		case "decay-factor":
			req.DecayFactor = v.(float64)
		case "decay-every":
			req.DecayEvery = v.(int)
		case "progress-every":
			req.ProgressEvery = v.(int)
		case "seed":
			req.Seed = v.(int64)
		}
	}
}
