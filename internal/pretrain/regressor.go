package pretrain

import (
	"math"
	"math/rand"

	"metacount/internal/graph"
	"metacount/internal/tensor"
)

// maskTokenStd is the initialization spread of the learned mask token.
const maskTokenStd = 0.02

// attentionBlock is single-head scaled dot-product attention with an
// output projection, shared across refinement rounds.
type attentionBlock struct {
	wq, wk, wv, wo *tensor.Dense
	scale          float64
}

func newAttentionBlock(rng *rand.Rand, dim int) *attentionBlock {
	return &attentionBlock{
		wq:    tensor.NewGlorotDense(rng, dim, dim),
		wk:    tensor.NewGlorotDense(rng, dim, dim),
		wv:    tensor.NewGlorotDense(rng, dim, dim),
		wo:    tensor.NewGlorotDense(rng, dim, dim),
		scale: 1 / math.Sqrt(float64(dim)),
	}
}

// apply attends the query rows over the key/value rows. Row counts vary
// per call; only the column width is fixed.
func (ab *attentionBlock) apply(t *tensor.Tape, query, keyValue *tensor.Dense) *tensor.Dense {
	q := t.MatMul(query, ab.wq)
	k := t.MatMul(keyValue, ab.wk)
	v := t.MatMul(keyValue, ab.wv)
	scores := t.SoftmaxRows(t.Scale(t.MatMulT(q, k), ab.scale))
	return t.MatMul(t.MatMul(scores, v), ab.wo)
}

func (ab *attentionBlock) params(prefix string) []tensor.Named {
	return []tensor.Named{
		{Name: prefix + "/wq", Dense: ab.wq},
		{Name: prefix + "/wk", Dense: ab.wk},
		{Name: prefix + "/wv", Dense: ab.wv},
		{Name: prefix + "/wo", Dense: ab.wo},
	}
}

// Regressor reconstructs the original attributes of masked nodes. Every
// node embedding passes through a positional side projection; masked
// positions start from a shared learned token plus their positional cue
// and are refined by attending over the visible positions of their own
// graph, then over each other, for a fixed number of rounds. A linear
// matcher maps the refined states back to feature space.
type Regressor struct {
	hiddenDim  int
	featureDim int
	rounds     int

	maskToken      *tensor.Dense
	posW, posB     *tensor.Dense
	cross, self    *attentionBlock
	matchW, matchB *tensor.Dense
}

// NewRegressor builds a regressor refining for rounds iterations.
func NewRegressor(rng *rand.Rand, hiddenDim, featureDim, rounds int) *Regressor {
	return &Regressor{
		hiddenDim:  hiddenDim,
		featureDim: featureDim,
		rounds:     rounds,
		maskToken:  tensor.NewRandDense(rng, 1, hiddenDim, maskTokenStd),
		posW:       tensor.NewGlorotDense(rng, hiddenDim, hiddenDim),
		posB:       tensor.NewDense(1, hiddenDim),
		cross:      newAttentionBlock(rng, hiddenDim),
		self:       newAttentionBlock(rng, hiddenDim),
		matchW:     tensor.NewGlorotDense(rng, hiddenDim, featureDim),
		matchB:     tensor.NewDense(1, featureDim),
	}
}

// Reconstruct returns predicted attribute vectors for exactly the masked
// nodes, in mask order. With no masked nodes it returns an empty matrix
// and records nothing.
func (r *Regressor) Reconstruct(t *tensor.Tape, embeddings *tensor.Dense, b *graph.Batch, mask *Mask) *tensor.Dense {
	if mask.Count() == 0 {
		return tensor.NewDense(0, r.featureDim)
	}

	pos := t.Tanh(t.AddBias(t.MatMul(embeddings, r.posW), r.posB))
	hiddenPos := t.GatherRows(pos, mask.Masked())
	visible := t.GatherRows(pos, mask.Visible())
	state := t.Add(t.RepeatRow(r.maskToken, mask.Count()), hiddenPos)

	// Masked and visible indices are sorted and graphs own contiguous
	// node ranges, so each graph's rows form a contiguous run in the
	// gathered matrices.
	numGraphs := b.NumGraphs()
	maskedEnd := make([]int, numGraphs+1)
	visibleEnd := make([]int, numGraphs+1)
	mi, vi := 0, 0
	for g := 1; g <= numGraphs; g++ {
		limit := b.Offsets[g]
		for mi < len(mask.Masked()) && mask.Masked()[mi] < limit {
			mi++
		}
		for vi < len(mask.Visible()) && mask.Visible()[vi] < limit {
			vi++
		}
		maskedEnd[g] = mi
		visibleEnd[g] = vi
	}

	for round := 0; round < r.rounds; round++ {
		parts := make([]*tensor.Dense, 0, numGraphs)
		for g := 0; g < numGraphs; g++ {
			cur := state.RowSlice(maskedEnd[g], maskedEnd[g+1])
			if cur.Rows == 0 {
				continue
			}
			context := visible.RowSlice(visibleEnd[g], visibleEnd[g+1])
			if context.Rows > 0 {
				cur = t.Add(cur, r.cross.apply(t, cur, context))
			}
			cur = t.Add(cur, r.self.apply(t, cur, cur))
			parts = append(parts, cur)
		}
		state = t.Concat(parts...)
	}

	return t.AddBias(t.MatMul(state, r.matchW), r.matchB)
}

// Params returns the regressor's learnable tensors.
func (r *Regressor) Params() []tensor.Named {
	params := []tensor.Named{
		{Name: "regressor/mask_token", Dense: r.maskToken},
		{Name: "regressor/pos_w", Dense: r.posW},
		{Name: "regressor/pos_b", Dense: r.posB},
	}
	params = append(params, r.cross.params("regressor/cross")...)
	params = append(params, r.self.params("regressor/self")...)
	params = append(params,
		tensor.Named{Name: "regressor/match_w", Dense: r.matchW},
		tensor.Named{Name: "regressor/match_b", Dense: r.matchB},
	)
	return params
}
