package encoder

import (
	"fmt"
	"math/rand"

	"metacount/internal/graph"
	"metacount/internal/tensor"
)

// GIN is a sum-aggregation message-passing encoder. Each layer computes
// mlp(h + Σ_{(u,v)∈E} msg(u, e_uv)); messages add a projected edge
// feature when the batch carries them.
type GIN struct {
	cfg    Config
	layers []ginLayer
}

type ginLayer struct {
	edgeW  *tensor.Dense // EdgeDim×in, nil without edge features
	w1, b1 *tensor.Dense
	w2, b2 *tensor.Dense
}

// NewGIN builds a GIN encoder with Glorot-initialized parameters.
func NewGIN(cfg Config, rng *rand.Rand) (*GIN, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &GIN{cfg: cfg, layers: make([]ginLayer, cfg.Layers)}
	for li := range e.layers {
		in := cfg.HiddenDim
		if li == 0 {
			in = cfg.InputDim
		}
		layer := ginLayer{
			w1: tensor.NewGlorotDense(rng, in, cfg.HiddenDim),
			b1: tensor.NewDense(1, cfg.HiddenDim),
			w2: tensor.NewGlorotDense(rng, cfg.HiddenDim, cfg.HiddenDim),
			b2: tensor.NewDense(1, cfg.HiddenDim),
		}
		if cfg.EdgeDim > 0 {
			layer.edgeW = tensor.NewGlorotDense(rng, cfg.EdgeDim, in)
		}
		e.layers[li] = layer
	}
	return e, nil
}

func (e *GIN) Config() Config { return e.cfg }

func (e *GIN) Encode(t *tensor.Tape, b *graph.Batch) (*tensor.Dense, error) {
	if err := checkBatch(e.cfg, b); err != nil {
		return nil, err
	}
	h := b.X
	for li, layer := range e.layers {
		msgs := t.GatherRows(h, b.EdgeSrc)
		if layer.edgeW != nil {
			msgs = t.ReLU(t.Add(msgs, t.MatMul(b.EdgeAttr, layer.edgeW)))
		}
		agg := t.SegmentSum(msgs, b.EdgeDst, b.NumNodes())
		sum := t.Add(h, agg)
		hidden := t.ReLU(t.AddBias(t.MatMul(sum, layer.w1), layer.b1))
		h = t.AddBias(t.MatMul(hidden, layer.w2), layer.b2)
		if li < len(e.layers)-1 {
			h = t.ReLU(h)
		}
	}
	return h, nil
}

func (e *GIN) Params() []tensor.Named {
	var out []tensor.Named
	for li, layer := range e.layers {
		prefix := fmt.Sprintf("gin/layer%d/", li)
		if layer.edgeW != nil {
			out = append(out, tensor.Named{Name: prefix + "edge_w", Dense: layer.edgeW})
		}
		out = append(out,
			tensor.Named{Name: prefix + "w1", Dense: layer.w1},
			tensor.Named{Name: prefix + "b1", Dense: layer.b1},
			tensor.Named{Name: prefix + "w2", Dense: layer.w2},
			tensor.Named{Name: prefix + "b2", Dense: layer.b2},
		)
	}
	return out
}
