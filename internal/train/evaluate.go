package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"metacount/internal/graph"
	"metacount/internal/loss"
	"metacount/internal/model"
	"metacount/internal/pretrain"
	"metacount/internal/tensor"
)

// Evaluator runs no-gradient passes and assembles diagnostic reports.
// Every Run reseeds its own mask source, so a loader with a stable batch
// order yields the same masks each time and validation losses stay
// comparable across epochs.
type Evaluator struct {
	model    *pretrain.Model
	composer *loss.Composer
	seed     int64
}

func NewEvaluator(m *pretrain.Model, c *loss.Composer, seed int64) *Evaluator {
	return &Evaluator{model: m, composer: c, seed: seed}
}

// Run evaluates every batch the loader yields. MeanLoss carries the
// clamped regression criterion that drives checkpointing and early
// stopping; MeanReg and MeanAttr report the optimized terms. Per-node
// targets and loss contributions are concatenated in batch order.
func (e *Evaluator) Run(ctx context.Context, loader graph.Loader, dataset, split string, epoch, totalEpochs int) (model.EvalReport, error) {
	rng := rand.New(rand.NewSource(e.seed))
	tape := tensor.NewTape(false)
	ratio := e.model.Config().MaskRatio

	report := model.EvalReport{Dataset: dataset, Split: split, Epoch: epoch}
	var sumLoss, sumReg, sumAttr float64

	loader.Reset()
	for {
		b, ok := loader.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return model.EvalReport{}, err
		}

		start := time.Now()
		mask, err := pretrain.NewMask(rng, b.NumNodes(), ratio)
		if err != nil {
			return model.EvalReport{}, err
		}
		out, err := e.model.Forward(tape, b, mask)
		if err != nil {
			return model.EvalReport{}, err
		}
		bd, err := e.composer.Compose(tape, out.Importance, b.Importance, out.AttrPred, out.AttrTarget, epoch, totalEpochs)
		if err != nil {
			return model.EvalReport{}, err
		}
		perNode, err := e.composer.PerNode(out.Importance, b.Importance)
		if err != nil {
			return model.EvalReport{}, err
		}

		report.Batches++
		report.Nodes += b.NumNodes()
		report.Graphs += b.NumGraphs()
		report.Targets = append(report.Targets, b.Importance...)
		report.NodeLosses = append(report.NodeLosses, perNode...)
		report.BatchMillis = append(report.BatchMillis, float64(time.Since(start).Microseconds())/1e3)
		sumLoss += bd.Reported
		sumReg += bd.Optimized
		sumAttr += bd.Attr
	}
	if report.Batches == 0 {
		return model.EvalReport{}, fmt.Errorf("train: %s evaluation produced no batches", split)
	}

	n := float64(report.Batches)
	report.MeanLoss = sumLoss / n
	report.MeanReg = sumReg / n
	report.MeanAttr = sumAttr / n
	if len(report.NodeLosses) > 1 {
		report.NodeLossStd = stat.StdDev(report.NodeLosses, nil)
	}
	return report, nil
}
