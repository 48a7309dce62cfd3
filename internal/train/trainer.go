// Package train drives the pretraining state machine: epochs of
// gradient-accumulated optimization over a loader, validation with early
// stopping and best-checkpoint selection, and a final test pass on the
// restored best parameters.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"metacount/internal/graph"
	"metacount/internal/loss"
	"metacount/internal/metrics"
	"metacount/internal/model"
	"metacount/internal/optim"
	"metacount/internal/pretrain"
	"metacount/internal/storage"
	"metacount/internal/tensor"
)

// Defaults follow the reference training configuration.
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
)

// Config wires one pretraining run. Zero values take the defaults above;
// a negative ClipNorm disables clipping entirely.
type Config struct {
	Model    *pretrain.Model
	Composer *loss.Composer
	Store    storage.Store

	Train graph.Loader
	Val   graph.Loader // defaults to Train
	Test  graph.Loader // defaults to Val

	Optimizer optim.Optimizer // defaults to Adam with the reference hyperparameters
	Metrics   metrics.Sink    // defaults to a no-op sink
	Logger    *slog.Logger    // defaults to slog.Default()

	RunID   string
	Dataset string

	Epochs        int
	Accumulate    int     // micro-batches per optimizer step
	ClipNorm      float64 // global gradient norm threshold
	Patience      int     // stalled validations before early stop
	Threshold     float64 // minimum improvement of the validation loss
	DecayFactor   float64 // learning-rate multiplier
	DecayEvery    int     // epochs between learning-rate decays
	ProgressEvery int     // micro-batches between progress lines
	Seed          int64
}

// Trainer owns one run of the state machine. It is not safe for
// concurrent use; one training step executes at a time.
type Trainer struct {
	cfg    Config
	rng    *rand.Rand
	params []tensor.Named
	sched  optim.Scheduler
	eval   *Evaluator
	baseLR float64
}

func New(cfg Config) (*Trainer, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("train: model is required")
	}
	if cfg.Composer == nil {
		return nil, fmt.Errorf("train: loss composer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("train: store is required")
	}
	if cfg.Train == nil {
		return nil, fmt.Errorf("train: train loader is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("train: run id is required")
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
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		params: cfg.Model.Params(),
		sched:  optim.NewExponentialLR(baseLR, cfg.DecayFactor, cfg.DecayEvery),
		eval:   NewEvaluator(cfg.Model, cfg.Composer, cfg.Seed),
		baseLR: baseLR,
	}, nil
}

// Result summarizes a finished run. BestEpoch is -1 when no validation
// ever improved.
type Result struct {
	RunID      string
	Epochs     int
	BestEpoch  int
	BestLoss   float64
	StopReason string
	Test       *model.EvalReport
	History    []model.LossPoint
}

// Run executes the full state machine: train and validate each epoch
// until early stop or the epoch limit, then restore the best checkpoint
// and evaluate the test split. Cancellation between batches or epochs
// ends the run with the cancelled stop reason; the run record and loss
// history are still persisted.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	cfg := t.cfg
	startedAt := time.Now()
	tracker := NewTracker(cfg.Threshold, cfg.Patience)

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

		report, err := t.eval.Run(ctx, cfg.Val, cfg.Dataset, "val", epoch, cfg.Epochs)
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
			model.LossPoint{Epoch: epoch, Step: steps, Split: "train", Name: "attribute", Value: stats.attr},
			model.LossPoint{Epoch: epoch, Step: steps, Split: "val", Name: "regression", Value: report.MeanLoss},
		)
		cfg.Metrics.Scalar("train", "total", epoch, stats.total)
		cfg.Metrics.Scalar("train", "attribute", epoch, stats.attr)
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
	total, reported, attr float64
	batches               int
	steps                 int
	cancelled             bool
}

// trainEpoch drains the train loader once, stepping the optimizer every
// Accumulate micro-batches. A trailing partial window still steps.
// Cancellation between batches discards the accumulated gradients.
func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (epochStats, error) {
	cfg := t.cfg
	cfg.Train.Reset()

	var stats epochStats
	var sumTotal, sumReported, sumAttr float64
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
		mask, err := pretrain.NewMask(t.rng, b.NumNodes(), cfg.Model.Config().MaskRatio)
		if err != nil {
			return epochStats{}, err
		}
		out, err := cfg.Model.Forward(tape, b, mask)
		if err != nil {
			return epochStats{}, err
		}
		bd, err := cfg.Composer.Compose(tape, out.Importance, b.Importance, out.AttrPred, out.AttrTarget, epoch, cfg.Epochs)
		if err != nil {
			return epochStats{}, err
		}
		tape.Backward()

		pending++
		stats.batches++
		sumTotal += bd.Total
		sumReported += bd.Reported
		sumAttr += bd.Attr

		if pending == cfg.Accumulate {
			if err := t.step(); err != nil {
				return epochStats{}, err
			}
			stats.steps++
			pending = 0
		}
		if stats.batches%cfg.ProgressEvery == 0 {
			cfg.Metrics.Progress(fmt.Sprintf("epoch %d batch %d loss %.5f",
				epoch, stats.batches, sumTotal/float64(stats.batches)))
		}
	}
	if pending > 0 {
		if err := t.step(); err != nil {
			return epochStats{}, err
		}
		stats.steps++
	}
	if stats.batches == 0 {
		return epochStats{}, fmt.Errorf("train: epoch %d produced no batches", epoch)
	}

	n := float64(stats.batches)
	stats.total = sumTotal / n
	stats.reported = sumReported / n
	stats.attr = sumAttr / n
	return stats, nil
}

// step clips, applies, and zeroes the accumulated gradients, then shifts
// the momentum teacher. The teacher update must follow the optimizer
// step it shadows.
func (t *Trainer) step() error {
	if t.cfg.ClipNorm > 0 {
		optim.ClipGradNorm(t.params, t.cfg.ClipNorm)
	}
	t.cfg.Optimizer.Step(t.params)
	t.zeroGrads()
	return t.cfg.Model.UpdateTeacher()
}

func (t *Trainer) zeroGrads() {
	for _, p := range t.params {
		p.Dense.ZeroGrad()
	}
}

func (t *Trainer) saveBest(ctx context.Context, epoch int, report model.EvalReport) error {
	checkpoint := model.Checkpoint{
		VersionedRecord: storage.Stamp(),
		RunID:           t.cfg.RunID,
		Architecture:    t.cfg.Model.Config().Architecture,
		Epoch:           epoch,
		ValLoss:         report.MeanLoss,
		SavedAt:         time.Now(),
		Params:          t.cfg.Model.Snapshot(),
	}
	if err := t.cfg.Store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("train: persist checkpoint: %w", err)
	}

	report.VersionedRecord = storage.Stamp()
	report.RunID = t.cfg.RunID
	if err := t.cfg.Store.SaveEvalReport(ctx, report); err != nil {
		return fmt.Errorf("train: persist validation report: %w", err)
	}
	return nil
}

// finalTest restores the best checkpoint and evaluates the test split
// once more without gradients.
func (t *Trainer) finalTest(ctx context.Context, res Result) (*model.EvalReport, error) {
	checkpoint, ok, err := t.cfg.Store.GetCheckpoint(ctx, t.cfg.RunID)
	if err != nil {
		return nil, fmt.Errorf("train: load best checkpoint: %w", err)
	}
	if ok {
		if err := t.cfg.Model.Restore(checkpoint.Params); err != nil {
			return nil, err
		}
	} else {
		t.cfg.Logger.Warn("no checkpoint recorded, testing final parameters", "run", t.cfg.RunID)
	}

	epoch := res.BestEpoch
	if epoch < 0 {
		epoch = res.Epochs
	}
	report, err := t.eval.Run(ctx, t.cfg.Test, t.cfg.Dataset, "test", epoch, t.cfg.Epochs)
	if err != nil {
		return nil, err
	}
	report.VersionedRecord = storage.Stamp()
	report.RunID = t.cfg.RunID
	if err := t.cfg.Store.SaveEvalReport(ctx, report); err != nil {
		return nil, fmt.Errorf("train: persist test report: %w", err)
	}
	t.cfg.Logger.Info("test complete", "run", t.cfg.RunID, "loss", report.MeanLoss, "nodes", report.Nodes)
	return &report, nil
}

func (t *Trainer) persist(ctx context.Context, res Result, startedAt time.Time) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := t.cfg.Store.SaveLossHistory(ctx, t.cfg.RunID, res.History); err != nil {
		return fmt.Errorf("train: persist loss history: %w", err)
	}

	bestLoss := res.BestLoss
	if res.BestEpoch < 0 {
		bestLoss = 0 // JSON cannot carry +Inf
	}
	run := model.RunRecord{
		VersionedRecord: storage.Stamp(),
		ID:              t.cfg.RunID,
		Kind:            "pretrain",
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
		return fmt.Errorf("train: persist run record: %w", err)
	}
	return nil
}

func (t *Trainer) configEcho() map[string]any {
	mc := t.cfg.Model.Config()
	return map[string]any{
		"architecture": mc.Architecture,
		"input_dim":    mc.Encoder.InputDim,
		"hidden_dim":   mc.Encoder.HiddenDim,
		"layers":       mc.Encoder.Layers,
		"edge_dim":     mc.Encoder.EdgeDim,
		"mask_ratio":   mc.MaskRatio,
		"rounds":       mc.Rounds,
		"use_teacher":  mc.UseTeacher,
		"momentum":     mc.Momentum,
		"epochs":       t.cfg.Epochs,
		"accumulate":   t.cfg.Accumulate,
		"clip_norm":    t.cfg.ClipNorm,
		"lr":           t.baseLR,
		"decay_factor": t.cfg.DecayFactor,
		"decay_every":  t.cfg.DecayEvery,
		"patience":     t.cfg.Patience,
		"threshold":    t.cfg.Threshold,
		"schedule":     t.cfg.Composer.Schedule().String(),
		"seed":         t.cfg.Seed,
	}
}
