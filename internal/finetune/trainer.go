package finetune

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"metacount/internal/graph"
	"metacount/internal/loss"
	"metacount/internal/metrics"
	"metacount/internal/model"
	"metacount/internal/optim"
	"metacount/internal/storage"
	"metacount/internal/tensor"
	"metacount/internal/train"
)

// Defaults follow the downstream reference configuration, which shares
// its optimization hyperparameters with pretraining.
const (
	defaultEpochs      = 100
	defaultAccumulate  = 4
	defaultClipNorm    = 8.0
	defaultPatience    = 20
	defaultThreshold   = 1e-4
	defaultDecayFactor = 0.1
	defaultDecayEvery  = 20
	defaultProgress    = 10
	defaultLR          = 6e-4
	defaultWeightDecay = 5e-4
	defaultAlignWeight = 0.1
)

// TrainConfig wires one fine-tuning run. Zero values take the defaults
// above; negative ClipNorm disables clipping and negative AlignWeight
// disables the decorrelation penalty even when the pipeline projects
// alignment views.
type TrainConfig struct {
	Pipeline *Pipeline
	Store    storage.Store

	Train graph.Loader
	Val   graph.Loader // defaults to Train
	Test  graph.Loader // defaults to Val

	Optimizer optim.Optimizer // defaults to Adam with the reference hyperparameters
	Metrics   metrics.Sink    // defaults to a no-op sink
	Logger    *slog.Logger    // defaults to slog.Default()

	RunID   string
	Dataset string

	ReportedLoss  loss.Kind // monitoring criterion, zero-clamped
	OptimizedLoss loss.Kind // gradient criterion, leaky-rectified
	AlignWeight   float64   // decorrelation penalty weight

	Epochs        int
	Accumulate    int
	ClipNorm      float64
	Patience      int
	Threshold     float64
	DecayFactor   float64
	DecayEvery    int
	ProgressEvery int
	Seed          int64
}

// Trainer owns one fine-tuning run. It is not safe for concurrent use.
type Trainer struct {
	cfg       TrainConfig
	reported  loss.Criterion
	optimized loss.Criterion
	sched     optim.Scheduler
	baseLR    float64
}

func NewTrainer(cfg TrainConfig) (*Trainer, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("finetune: pipeline is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("finetune: store is required")
	}
	if cfg.Train == nil {
		return nil, fmt.Errorf("finetune: train loader is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("finetune: run id is required")
	}
	if cfg.Val == nil {
		cfg.Val = cfg.Train
	}
	if cfg.Test == nil {
		cfg.Test = cfg.Val
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = defaultEpochs
	}
	if cfg.Accumulate <= 0 {
		cfg.Accumulate = defaultAccumulate
	}
	if cfg.ClipNorm == 0 {
		cfg.ClipNorm = defaultClipNorm
	}
	if cfg.Patience == 0 {
		cfg.Patience = defaultPatience
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.DecayFactor <= 0 {
		cfg.DecayFactor = defaultDecayFactor
	}
	if cfg.DecayEvery <= 0 {
		cfg.DecayEvery = defaultDecayEvery
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgress
	}
	if cfg.AlignWeight == 0 {
		cfg.AlignWeight = defaultAlignWeight
	}
	if cfg.Optimizer == nil {
		cfg.Optimizer = optim.NewAdam(defaultLR, defaultWeightDecay)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseLR := cfg.Optimizer.LR()
	return &Trainer{
		cfg:       cfg,
		reported:  loss.NewCriterion(cfg.ReportedLoss, loss.RectifyReLU),
		optimized: loss.NewCriterion(cfg.OptimizedLoss, loss.RectifyLeaky),
		sched:     optim.NewExponentialLR(baseLR, cfg.DecayFactor, cfg.DecayEvery),
		baseLR:    baseLR,
	}, nil
}

// Result summarizes a finished fine-tuning run. BestEpoch is -1 when no
// validation ever improved.
type Result struct {
	RunID      string
	Epochs     int
	BestEpoch  int
	BestLoss   float64
	StopReason string
	Test       *model.EvalReport
	History    []model.LossPoint
}

// Run trains the heads (and optionally the encoder) until early stop or
// the epoch limit, then restores the best checkpoint and evaluates the
// test split. Cancellation ends the run with the cancelled stop reason;
// the run record and loss history are still persisted.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	cfg := t.cfg
	startedAt := time.Now()
	tracker := train.NewTracker(cfg.Threshold, cfg.Patience)

	res := Result{
		RunID:      cfg.RunID,
		BestEpoch:  -1,
		BestLoss:   math.Inf(1),
		StopReason: model.StopEpochs,
	}
	steps := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if ctx.Err() != nil {
			res.StopReason = model.StopCancelled
			break
		}

		lr := t.sched.LRAt(epoch)
		cfg.Optimizer.SetLR(lr)

		stats, err := t.trainEpoch(ctx, epoch)
		if err != nil {
			return Result{}, err
		}
		if stats.cancelled {
			res.StopReason = model.StopCancelled
			break
		}
		steps += stats.steps

		report, err := t.evaluate(ctx, cfg.Val, "val", epoch)
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = model.StopCancelled
				break
			}
			return Result{}, err
		}

		res.Epochs = epoch + 1
		res.History = append(res.History,
			model.LossPoint{Epoch: epoch, Step: steps, Split: "train", Name: "total", Value: stats.total},
			model.LossPoint{Epoch: epoch, Step: steps, Split: "train", Name: "regression", Value: stats.reported},
			model.LossPoint{Epoch: epoch, Step: steps, Split: "train", Name: "alignment", Value: stats.align},
			model.LossPoint{Epoch: epoch, Step: steps, Split: "val", Name: "regression", Value: report.MeanLoss},
		)
		cfg.Metrics.Scalar("train", "total", epoch, stats.total)
		cfg.Metrics.Scalar("train", "alignment", epoch, stats.align)
		cfg.Metrics.Scalar("train", "lr", epoch, lr)
		cfg.Metrics.Scalar("val", "regression", epoch, report.MeanLoss)

		improved, reached := tracker.Observe(report.MeanLoss)
		if improved {
			res.BestEpoch = epoch
			res.BestLoss = report.MeanLoss
			if err := t.saveBest(ctx, epoch, report); err != nil {
				return Result{}, err
			}
			cfg.Logger.Info("validation improved", "run", cfg.RunID, "epoch", epoch, "val_loss", report.MeanLoss)
		}
		cfg.Logger.Info("epoch complete",
			"run", cfg.RunID, "epoch", epoch, "lr", lr,
			"train_loss", stats.total, "val_loss", report.MeanLoss, "stale", tracker.Stale())
		if reached {
			cfg.Logger.Info("early stop",
				"run", cfg.RunID, "epoch", epoch, "best_epoch", res.BestEpoch, "best_loss", res.BestLoss)
			res.StopReason = model.StopEarly
			break
		}
	}

	if res.StopReason == model.StopCancelled {
		cfg.Logger.Info("run cancelled", "run", cfg.RunID, "epochs", res.Epochs)
	} else {
		report, err := t.finalTest(ctx, res)
		if err != nil {
			if ctx.Err() == nil {
				return Result{}, err
			}
			res.StopReason = model.StopCancelled
		} else {
			res.Test = report
		}
	}

	if err := t.persist(ctx, res, startedAt); err != nil {
		return Result{}, err
	}
	return res, nil
}

type epochStats struct {
	total, reported, align float64
	batches                int
	steps                  int
	cancelled              bool
}

// trainEpoch drains the train loader once, stepping the optimizer every
// Accumulate micro-batches. A trailing partial window still steps.
func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (epochStats, error) {
	cfg := t.cfg
	cfg.Train.Reset()

	var stats epochStats
	var sumTotal, sumReported, sumAlign float64
	pending := 0

	for {
		b, ok := cfg.Train.Next()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			t.zeroGrads()
			stats.cancelled = true
			return stats, nil
		}

		tape := tensor.NewTape(true)
		out, err := cfg.Pipeline.Forward(tape, b)
		if err != nil {
			return epochStats{}, err
		}
		reported, err := t.reported.Value(out.Pred, b.GraphLabels)
		if err != nil {
			return epochStats{}, err
		}
		optimized, err := t.optimized.Backprop(tape, out.Pred, b.GraphLabels, 1)
		if err != nil {
			return epochStats{}, err
		}
		align := 0.0
		if out.ViewA != nil && cfg.AlignWeight > 0 {
			align, err = loss.Decorrelate(tape, out.ViewA, out.ViewB, cfg.AlignWeight)
			if err != nil {
				return epochStats{}, err
			}
		}
		tape.Backward()

		pending++
		stats.batches++
		sumTotal += optimized + cfg.AlignWeight*align
		sumReported += reported
		sumAlign += align

		if pending == cfg.Accumulate {
			t.step()
			stats.steps++
			pending = 0
		}
		if stats.batches%cfg.ProgressEvery == 0 {
			cfg.Metrics.Progress(fmt.Sprintf("epoch %d batch %d loss %.5f",
				epoch, stats.batches, sumTotal/float64(stats.batches)))
		}
	}
	if pending > 0 {
		t.step()
		stats.steps++
	}
	if stats.batches == 0 {
		return epochStats{}, fmt.Errorf("finetune: epoch %d produced no batches", epoch)
	}

	n := float64(stats.batches)
	stats.total = sumTotal / n
	stats.reported = sumReported / n
	stats.align = sumAlign / n
	return stats, nil
}

// step clips and applies the accumulated gradients over the trainable
// set, then zeroes the full persisted set: frozen encoder tensors
// accumulate gradients too and must not carry them across steps.
func (t *Trainer) step() {
	params := t.cfg.Pipeline.Params()
	if t.cfg.ClipNorm > 0 {
		optim.ClipGradNorm(params, t.cfg.ClipNorm)
	}
	t.cfg.Optimizer.Step(params)
	t.zeroGrads()
}

func (t *Trainer) zeroGrads() {
	for _, p := range t.cfg.Pipeline.persisted() {
		p.Dense.ZeroGrad()
	}
}

// evaluate runs a no-gradient pass over the loader, scoring per-graph
// predictions with the reported criterion and collecting per-graph
// diagnostics.
func (t *Trainer) evaluate(ctx context.Context, loader graph.Loader, split string, epoch int) (model.EvalReport, error) {
	cfg := t.cfg
	report := model.EvalReport{
		Dataset: cfg.Dataset,
		Split:   split,
		Epoch:   epoch,
	}

	tape := tensor.NewTape(false)
	loader.Reset()

	var sumReported, sumOptimized, sumAlign float64
	for {
		b, ok := loader.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return model.EvalReport{}, err
		}
		start := time.Now()

		out, err := cfg.Pipeline.Forward(tape, b)
		if err != nil {
			return model.EvalReport{}, err
		}
		reported, err := t.reported.Value(out.Pred, b.GraphLabels)
		if err != nil {
			return model.EvalReport{}, err
		}
		optimized, err := t.optimized.Value(out.Pred, b.GraphLabels)
		if err != nil {
			return model.EvalReport{}, err
		}
		if out.ViewA != nil && cfg.AlignWeight > 0 {
			align, err := loss.Decorrelate(tape, out.ViewA, out.ViewB, cfg.AlignWeight)
			if err != nil {
				return model.EvalReport{}, err
			}
			sumAlign += align
		}
		perGraph, err := t.reported.PerRow(out.Pred, b.GraphLabels)
		if err != nil {
			return model.EvalReport{}, err
		}

		report.Batches++
		report.Nodes += b.NumNodes()
		report.Graphs += b.NumGraphs()
		report.Targets = append(report.Targets, b.GraphLabels...)
		report.NodeLosses = append(report.NodeLosses, perGraph...)
		report.BatchMillis = append(report.BatchMillis, float64(time.Since(start).Microseconds())/1e3)

		sumReported += reported
		sumOptimized += optimized
	}
	if report.Batches == 0 {
		return model.EvalReport{}, fmt.Errorf("finetune: %s evaluation produced no batches", split)
	}

	n := float64(report.Batches)
	report.MeanLoss = sumReported / n
	report.MeanReg = sumOptimized / n
	report.MeanAttr = sumAlign / n
	if len(report.NodeLosses) > 1 {
		report.NodeLossStd = stat.StdDev(report.NodeLosses, nil)
	}
	return report, nil
}

func (t *Trainer) saveBest(ctx context.Context, epoch int, report model.EvalReport) error {
	checkpoint := model.Checkpoint{
		VersionedRecord: storage.Stamp(),
		RunID:           t.cfg.RunID,
		Architecture:    t.cfg.Pipeline.Config().Architecture,
		Epoch:           epoch,
		ValLoss:         report.MeanLoss,
		SavedAt:         time.Now(),
		Params:          t.cfg.Pipeline.Snapshot(),
	}
	if err := t.cfg.Store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("finetune: persist checkpoint: %w", err)
	}

	report.VersionedRecord = storage.Stamp()
	report.RunID = t.cfg.RunID
	if err := t.cfg.Store.SaveEvalReport(ctx, report); err != nil {
		return fmt.Errorf("finetune: persist validation report: %w", err)
	}
	return nil
}

// finalTest restores the best checkpoint and evaluates the test split.
func (t *Trainer) finalTest(ctx context.Context, res Result) (*model.EvalReport, error) {
	checkpoint, ok, err := t.cfg.Store.GetCheckpoint(ctx, t.cfg.RunID)
	if err != nil {
		return nil, fmt.Errorf("finetune: load best checkpoint: %w", err)
	}
	if ok {
		if err := t.cfg.Pipeline.Restore(checkpoint.Params); err != nil {
			return nil, err
		}
	} else {
		t.cfg.Logger.Warn("no checkpoint recorded, testing final parameters", "run", t.cfg.RunID)
	}

	epoch := res.BestEpoch
	if epoch < 0 {
		epoch = res.Epochs
	}
	report, err := t.evaluate(ctx, t.cfg.Test, "test", epoch)
	if err != nil {
		return nil, err
	}
	report.VersionedRecord = storage.Stamp()
	report.RunID = t.cfg.RunID
	if err := t.cfg.Store.SaveEvalReport(ctx, report); err != nil {
		return nil, fmt.Errorf("finetune: persist test report: %w", err)
	}
	t.cfg.Logger.Info("test complete", "run", t.cfg.RunID, "loss", report.MeanLoss, "graphs", report.Graphs)
	return &report, nil
}

func (t *Trainer) persist(ctx context.Context, res Result, startedAt time.Time) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := t.cfg.Store.SaveLossHistory(ctx, t.cfg.RunID, res.History); err != nil {
		return fmt.Errorf("finetune: persist loss history: %w", err)
	}

	bestLoss := res.BestLoss
	if res.BestEpoch < 0 {
		bestLoss = 0 // JSON cannot carry +Inf
	}
	run := model.RunRecord{
		VersionedRecord: storage.Stamp(),
		ID:              t.cfg.RunID,
		Kind:            "finetune",
		Dataset:         t.cfg.Dataset,
		Config:          t.configEcho(),
		StartedAt:       startedAt,
		FinishedAt:      time.Now(),
		Epochs:          res.Epochs,
		BestEpoch:       res.BestEpoch,
		BestLoss:        bestLoss,
		StopReason:      res.StopReason,
	}
	if err := t.cfg.Store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("finetune: persist run record: %w", err)
	}
	return nil
}

func (t *Trainer) configEcho() map[string]any {
	pc := t.cfg.Pipeline.Config()
	return map[string]any{
		"architecture":   pc.Architecture,
		"input_dim":      pc.Encoder.InputDim,
		"hidden_dim":     pc.Encoder.HiddenDim,
		"layers":         pc.Encoder.Layers,
		"edge_dim":       pc.Encoder.EdgeDim,
		"head_dim":       pc.HeadDim,
		"train_encoder":  pc.TrainEncoder,
		"alignment":      pc.Alignment,
		"align_dim":      pc.AlignDim,
		"align_weight":   t.cfg.AlignWeight,
		"reported_loss":  t.cfg.ReportedLoss.String(),
		"optimized_loss": t.cfg.OptimizedLoss.String(),
		"epochs":         t.cfg.Epochs,
		"accumulate":     t.cfg.Accumulate,
		"clip_norm":      t.cfg.ClipNorm,
		"lr":             t.baseLR,
		"decay_factor":   t.cfg.DecayFactor,
		"decay_every":    t.cfg.DecayEvery,
		"patience":       t.cfg.Patience,
		"threshold":      t.cfg.Threshold,
		"seed":           t.cfg.Seed,
	}
}
