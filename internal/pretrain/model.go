package pretrain

import (
	"fmt"
	"math/rand"

	"metacount/internal/encoder"
	"metacount/internal/graph"
	"metacount/internal/model"
	"metacount/internal/tensor"
)

// Config selects the encoder architecture and the pretraining knobs.
type Config struct {
	Architecture string
	Encoder      encoder.Config
	MaskRatio    float64
	Rounds       int
	UseTeacher   bool
	Momentum     float64
}

func (c Config) Validate() error {
	if c.MaskRatio < 0 || c.MaskRatio > 1 {
		return fmt.Errorf("pretrain: mask ratio %v outside [0, 1]", c.MaskRatio)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("pretrain: refinement rounds must be positive, got %d", c.Rounds)
	}
	if c.UseTeacher && (c.Momentum < 0 || c.Momentum > 1) {
		return fmt.Errorf("pretrain: momentum %v outside [0, 1]", c.Momentum)
	}
	return nil
}

// Output carries one forward pass. AttrTarget holds copies of the masked
// nodes' original attributes and receives no gradient.
type Output struct {
	Embeddings *tensor.Dense // N×H
	Importance *tensor.Dense // N×1
	AttrPred   *tensor.Dense // M×F
	AttrTarget *tensor.Dense // M×F
}

// Model wires a student encoder, a per-node importance head, the
// masked-attribute regressor, and an optional momentum teacher into the
// full pretraining forward pass.
type Model struct {
	cfg       Config
	student   encoder.Encoder
	teacher   encoder.Encoder
	pair      *Pair
	regressor *Regressor

	impW1, impB1 *tensor.Dense
	impW2, impB2 *tensor.Dense
}

// New builds a model with freshly initialized parameters. The teacher,
// when enabled, starts as an exact copy of the student.
func New(rng *rand.Rand, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	student, err := encoder.New(cfg.Architecture, cfg.Encoder, rng)
	if err != nil {
		return nil, err
	}

	h := cfg.Encoder.HiddenDim
	m := &Model{
		cfg:       cfg,
		student:   student,
		regressor: NewRegressor(rng, h, cfg.Encoder.InputDim, cfg.Rounds),
		impW1:     tensor.NewGlorotDense(rng, h, h),
		impB1:     tensor.NewDense(1, h),
		impW2:     tensor.NewGlorotDense(rng, h, 1),
		impB2:     tensor.NewDense(1, 1),
	}

	if cfg.UseTeacher {
		teacher, err := encoder.New(cfg.Architecture, cfg.Encoder, rng)
		if err != nil {
			return nil, err
		}
		pair, err := NewPair(student.Params(), teacher.Params())
		if err != nil {
			return nil, err
		}
		m.teacher = teacher
		m.pair = pair
	}
	return m, nil
}

func (m *Model) Config() Config { return m.cfg }

// HasTeacher reports whether a momentum teacher is maintained.
func (m *Model) HasTeacher() bool { return m.pair != nil }

// Forward embeds every node, predicts per-node importance, and
// reconstructs the attributes of the masked nodes.
func (m *Model) Forward(t *tensor.Tape, b *graph.Batch, mask *Mask) (*Output, error) {
	if mask.NumNodes() != b.NumNodes() {
		return nil, fmt.Errorf("pretrain: mask over %d nodes applied to a batch of %d", mask.NumNodes(), b.NumNodes())
	}
	emb, err := m.student.Encode(t, b)
	if err != nil {
		return nil, err
	}

	hidden := t.ReLU(t.AddBias(t.MatMul(emb, m.impW1), m.impB1))
	importance := t.AddBias(t.MatMul(hidden, m.impW2), m.impB2)

	return &Output{
		Embeddings: emb,
		Importance: importance,
		AttrPred:   m.regressor.Reconstruct(t, emb, b, mask),
		AttrTarget: tensor.GatherRowsCopy(b.X, mask.Masked()),
	}, nil
}

// TeacherEncode embeds a batch with the momentum teacher. The pass is
// never differentiated, so callers should supply a non-recording tape.
func (m *Model) TeacherEncode(t *tensor.Tape, b *graph.Batch) (*tensor.Dense, error) {
	if m.teacher == nil {
		return nil, fmt.Errorf("pretrain: model has no momentum teacher")
	}
	return m.teacher.Encode(t, b)
}

// UpdateTeacher applies one EMA step with the configured momentum. It is
// a no-op when the teacher is disabled.
func (m *Model) UpdateTeacher() error {
	if m.pair == nil {
		return nil
	}
	return m.pair.Update(m.cfg.Momentum)
}

// Params returns the trainable parameters: student encoder, importance
// head, and regressor. Teacher parameters are excluded; they are updated
// only through the EMA rule.
func (m *Model) Params() []tensor.Named {
	params := append([]tensor.Named(nil), m.student.Params()...)
	params = append(params,
		tensor.Named{Name: "head/w1", Dense: m.impW1},
		tensor.Named{Name: "head/b1", Dense: m.impB1},
		tensor.Named{Name: "head/w2", Dense: m.impW2},
		tensor.Named{Name: "head/b2", Dense: m.impB2},
	)
	return append(params, m.regressor.Params()...)
}

// persisted returns every parameter a checkpoint must carry, teacher
// copies included under a "teacher/" prefix.
func (m *Model) persisted() []tensor.Named {
	params := m.Params()
	if m.pair != nil {
		for _, p := range m.pair.Teacher() {
			params = append(params, tensor.Named{Name: "teacher/" + p.Name, Dense: p.Dense})
		}
	}
	return params
}

// Snapshot deep-copies the persisted parameter set for checkpointing.
func (m *Model) Snapshot() []model.Parameter {
	src := m.persisted()
	out := make([]model.Parameter, len(src))
	for i, p := range src {
		out[i] = model.Parameter{
			Name:   p.Name,
			Rows:   p.Dense.Rows,
			Cols:   p.Dense.Cols,
			Values: append([]float64(nil), p.Dense.Data...),
		}
	}
	return out
}

// Restore loads a checkpointed parameter set by name. Every persisted
// parameter of this model must be present with a matching shape; extra
// checkpoint entries are ignored.
func (m *Model) Restore(params []model.Parameter) error {
	byName := make(map[string]model.Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	for _, dst := range m.persisted() {
		src, ok := byName[dst.Name]
		if !ok {
			return fmt.Errorf("pretrain: checkpoint is missing parameter %q", dst.Name)
		}
		if src.Rows != dst.Dense.Rows || src.Cols != dst.Dense.Cols {
			return fmt.Errorf("pretrain: parameter %q is %dx%d in the checkpoint and %dx%d in the model",
				dst.Name, src.Rows, src.Cols, dst.Dense.Rows, dst.Dense.Cols)
		}
		if err := dst.Dense.SetValues(src.Values); err != nil {
			return fmt.Errorf("pretrain: parameter %q: %w", dst.Name, err)
		}
	}
	return nil
}
