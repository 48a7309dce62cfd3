// Package finetune attaches downstream regression heads onto a
// pretrained graph encoder and trains them against per-graph labels. The
// encoder is restored from a pretraining checkpoint and stays frozen
// unless the configuration unfreezes it.
package finetune

import (
	"fmt"
	"math/rand"

	"metacount/internal/encoder"
	"metacount/internal/graph"
	"metacount/internal/model"
	"metacount/internal/tensor"
)

const (
	defaultHeadDim  = 32
	defaultAlignDim = 32
)

// Config selects the encoder to restore and the downstream head layout.
type Config struct {
	Architecture string
	Encoder      encoder.Config
	HeadDim      int  // hidden width of the regression head
	TrainEncoder bool // include encoder parameters in the optimizer set
	Alignment    bool // maintain the view-decorrelation projection
	AlignDim     int  // projection width of the alignment views
}

func (c Config) validate() error {
	if c.HeadDim < 0 {
		return fmt.Errorf("finetune: head dim must be non-negative, got %d", c.HeadDim)
	}
	if c.AlignDim < 0 {
		return fmt.Errorf("finetune: alignment dim must be non-negative, got %d", c.AlignDim)
	}
	return nil
}

// Output carries one forward pass over a batch. The views are nil when
// the alignment projection is disabled.
type Output struct {
	Pred  *tensor.Dense // G×1 non-negative per-graph predictions
	ViewA *tensor.Dense // G×A projection of the prompted graph embeddings
	ViewB *tensor.Dense // G×A projection of the raw graph embeddings
}

// Pipeline is the downstream predictor: a restored encoder, a learned
// prompt added to every node embedding, mean pooling per graph, and a
// two-layer rectified head emitting one non-negative scalar per graph.
type Pipeline struct {
	cfg Config
	enc encoder.Encoder

	prompt         *tensor.Dense // 1×H
	headW1, headB1 *tensor.Dense
	headW2, headB2 *tensor.Dense
	alignW         *tensor.Dense // H×A, nil when alignment is disabled
}

// New builds a pipeline with freshly initialized prompt and head
// parameters. The encoder starts random; LoadEncoder installs pretrained
// weights.
func New(rng *rand.Rand, cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.HeadDim == 0 {
		cfg.HeadDim = defaultHeadDim
	}
	if cfg.AlignDim == 0 {
		cfg.AlignDim = defaultAlignDim
	}

	enc, err := encoder.New(cfg.Architecture, cfg.Encoder, rng)
	if err != nil {
		return nil, err
	}

	h := cfg.Encoder.HiddenDim
	p := &Pipeline{
		cfg:    cfg,
		enc:    enc,
		prompt: tensor.NewGlorotDense(rng, 1, h),
		headW1: tensor.NewGlorotDense(rng, h, cfg.HeadDim),
		headB1: tensor.NewDense(1, cfg.HeadDim),
		headW2: tensor.NewGlorotDense(rng, cfg.HeadDim, 1),
		headB2: tensor.NewDense(1, 1),
	}
	if cfg.Alignment {
		p.alignW = tensor.NewGlorotDense(rng, h, cfg.AlignDim)
	}
	return p, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

// HasAlignment reports whether the decorrelation projection is active.
func (p *Pipeline) HasAlignment() bool { return p.alignW != nil }

// Forward embeds every node, adds the prompt, pools each graph to one
// embedding, and scores it. The final rectifier keeps predictions
// non-negative, matching the count-valued targets.
func (p *Pipeline) Forward(t *tensor.Tape, b *graph.Batch) (*Output, error) {
	emb, err := p.enc.Encode(t, b)
	if err != nil {
		return nil, err
	}
	prompted := t.AddBias(emb, p.prompt)
	pooled := t.SegmentMean(prompted, b.GraphID, b.NumGraphs())

	hidden := t.ReLU(t.AddBias(t.MatMul(pooled, p.headW1), p.headB1))
	out := &Output{Pred: t.ReLU(t.AddBias(t.MatMul(hidden, p.headW2), p.headB2))}

	if p.alignW != nil {
		base := t.SegmentMean(emb, b.GraphID, b.NumGraphs())
		out.ViewA = t.MatMul(pooled, p.alignW)
		out.ViewB = t.MatMul(base, p.alignW)
	}
	return out, nil
}

// Params returns the parameters the optimizer may update. Encoder
// parameters are included only when the configuration unfreezes them.
func (p *Pipeline) Params() []tensor.Named {
	var params []tensor.Named
	if p.cfg.TrainEncoder {
		params = append(params, p.enc.Params()...)
	}
	params = append(params,
		tensor.Named{Name: "prompt", Dense: p.prompt},
		tensor.Named{Name: "head/w1", Dense: p.headW1},
		tensor.Named{Name: "head/b1", Dense: p.headB1},
		tensor.Named{Name: "head/w2", Dense: p.headW2},
		tensor.Named{Name: "head/b2", Dense: p.headB2},
	)
	if p.alignW != nil {
		params = append(params, tensor.Named{Name: "align/w", Dense: p.alignW})
	}
	return params
}

// EncoderParams returns the encoder's parameters regardless of freezing.
func (p *Pipeline) EncoderParams() []tensor.Named {
	return p.enc.Params()
}

// persisted returns every parameter a checkpoint must carry. Frozen
// encoder weights are included; backward accumulates gradients into them
// even when the optimizer never steps them, so zeroing must cover the
// full set too.
func (p *Pipeline) persisted() []tensor.Named {
	params := append([]tensor.Named(nil), p.enc.Params()...)
	params = append(params,
		tensor.Named{Name: "prompt", Dense: p.prompt},
		tensor.Named{Name: "head/w1", Dense: p.headW1},
		tensor.Named{Name: "head/b1", Dense: p.headB1},
		tensor.Named{Name: "head/w2", Dense: p.headW2},
		tensor.Named{Name: "head/b2", Dense: p.headB2},
	)
	if p.alignW != nil {
		params = append(params, tensor.Named{Name: "align/w", Dense: p.alignW})
	}
	return params
}

// LoadEncoder installs the encoder weights recorded in a pretraining
// checkpoint. Head, regressor, and teacher entries in the snapshot are
// ignored; every encoder parameter must be present with matching shape.
func (p *Pipeline) LoadEncoder(params []model.Parameter) error {
	byName := make(map[string]model.Parameter, len(params))
	for _, sp := range params {
		byName[sp.Name] = sp
	}
	for _, dst := range p.enc.Params() {
		src, ok := byName[dst.Name]
		if !ok {
			return fmt.Errorf("finetune: checkpoint is missing encoder parameter %q", dst.Name)
		}
		if src.Rows != dst.Dense.Rows || src.Cols != dst.Dense.Cols {
			return fmt.Errorf("finetune: parameter %q is %dx%d in the checkpoint and %dx%d in the encoder",
				dst.Name, src.Rows, src.Cols, dst.Dense.Rows, dst.Dense.Cols)
		}
		if err := dst.Dense.SetValues(src.Values); err != nil {
			return fmt.Errorf("finetune: parameter %q: %w", dst.Name, err)
		}
	}
	return nil
}

// Snapshot deep-copies the persisted parameter set for checkpointing.
func (p *Pipeline) Snapshot() []model.Parameter {
	src := p.persisted()
	out := make([]model.Parameter, len(src))
	for i, sp := range src {
		out[i] = model.Parameter{
			Name:   sp.Name,
			Rows:   sp.Dense.Rows,
			Cols:   sp.Dense.Cols,
			Values: append([]float64(nil), sp.Dense.Data...),
		}
	}
	return out
}

// Restore loads a fine-tuning checkpoint produced by Snapshot.
func (p *Pipeline) Restore(params []model.Parameter) error {
	byName := make(map[string]model.Parameter, len(params))
	for _, sp := range params {
		byName[sp.Name] = sp
	}
	for _, dst := range p.persisted() {
		src, ok := byName[dst.Name]
		if !ok {
			return fmt.Errorf("finetune: checkpoint is missing parameter %q", dst.Name)
		}
		if src.Rows != dst.Dense.Rows || src.Cols != dst.Dense.Cols {
			return fmt.Errorf("finetune: parameter %q is %dx%d in the checkpoint and %dx%d in the pipeline",
				dst.Name, src.Rows, src.Cols, dst.Dense.Rows, dst.Dense.Cols)
		}
		if err := dst.Dense.SetValues(src.Values); err != nil {
			return fmt.Errorf("finetune: parameter %q: %w", dst.Name, err)
		}
	}
	return nil
}
