package encoder

import (
	"fmt"
	"math/rand"

	"metacount/internal/graph"
	"metacount/internal/tensor"
)

// GCN is a mean-aggregation encoder: each layer averages a node's
// inbound messages together with its own state (degree-plus-one
// normalization) before a linear projection.
type GCN struct {
	cfg    Config
	layers []gcnLayer
}

type gcnLayer struct {
	w *tensor.Dense
	b *tensor.Dense
}

// NewGCN builds a GCN encoder. Edge features are not supported by this
// architecture.
func NewGCN(cfg Config, rng *rand.Rand) (*GCN, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.EdgeDim > 0 {
		return nil, fmt.Errorf("encoder: gcn does not support edge features")
	}
	e := &GCN{cfg: cfg, layers: make([]gcnLayer, cfg.Layers)}
	for li := range e.layers {
		in := cfg.HiddenDim
		if li == 0 {
			in = cfg.InputDim
		}
		e.layers[li] = gcnLayer{
			w: tensor.NewGlorotDense(rng, in, cfg.HiddenDim),
			b: tensor.NewDense(1, cfg.HiddenDim),
		}
	}
	return e, nil
}

func (e *GCN) Config() Config { return e.cfg }

func (e *GCN) Encode(t *tensor.Tape, b *graph.Batch) (*tensor.Dense, error) {
	if err := checkBatch(e.cfg, b); err != nil {
		return nil, err
	}
	n := b.NumNodes()
	norm := make([]float64, n)
	for i := range norm {
		norm[i] = 1
	}
	for _, dst := range b.EdgeDst {
		norm[dst]++
	}
	for i := range norm {
		norm[i] = 1 / norm[i]
	}

	h := b.X
	for li, layer := range e.layers {
		msgs := t.GatherRows(h, b.EdgeSrc)
		agg := t.SegmentSum(msgs, b.EdgeDst, n)
		mean := t.ScaleRows(t.Add(h, agg), norm)
		h = t.AddBias(t.MatMul(mean, layer.w), layer.b)
		if li < len(e.layers)-1 {
			h = t.ReLU(h)
		}
	}
	return h, nil
}

func (e *GCN) Params() []tensor.Named {
	var out []tensor.Named
	for li, layer := range e.layers {
		prefix := fmt.Sprintf("gcn/layer%d/", li)
		out = append(out,
			tensor.Named{Name: prefix + "w", Dense: layer.w},
			tensor.Named{Name: prefix + "b", Dense: layer.b},
		)
	}
	return out
}
