package pretrain

import (
	"math"
	"math/rand"
	"testing"

	"metacount/internal/graph"
	"metacount/internal/tensor"
)

// twoGraphBatch packs a 5-node path and a 7-node cycle.
func twoGraphBatch(t *testing.T, featDim int) *graph.Batch {
	t.Helper()
	path := graph.Graph{Features: make([][]float64, 5)}
	for i := range path.Features {
		row := make([]float64, featDim)
		for j := range row {
			row[j] = 0.1*float64(i+1) + 0.01*float64(j)
		}
		path.Features[i] = row
	}
	for i := 0; i < 4; i++ {
		path.Edges = append(path.Edges, [2]int{i, i + 1}, [2]int{i + 1, i})
	}

	cycle := graph.Graph{Features: make([][]float64, 7)}
	for i := range cycle.Features {
		row := make([]float64, featDim)
		for j := range row {
			row[j] = -0.05*float64(i+1) + 0.02*float64(j)
		}
		cycle.Features[i] = row
	}
	for i := 0; i < 7; i++ {
		next := (i + 1) % 7
		cycle.Edges = append(cycle.Edges, [2]int{i, next}, [2]int{next, i})
	}

	b, err := graph.Pack([]graph.Graph{path, cycle})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReconstructShape(t *testing.T) {
	const featDim, hiddenDim = 4, 8
	b := twoGraphBatch(t, featDim)
	rng := rand.New(rand.NewSource(1))
	r := NewRegressor(rng, hiddenDim, featDim, 2)

	emb := tensor.NewRandDense(rng, b.NumNodes(), hiddenDim, 1)
	mask, err := NewMask(rng, b.NumNodes(), 0.4)
	if err != nil {
		t.Fatal(err)
	}

	out := r.Reconstruct(tensor.NewTape(false), emb, b, mask)
	if out.Rows != mask.Count() || out.Cols != featDim {
		t.Fatalf("reconstruction is %dx%d, want %dx%d", out.Rows, out.Cols, mask.Count(), featDim)
	}
	for i, v := range out.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("reconstruction[%d] = %v", i, v)
		}
	}
}

func TestReconstructNoMaskedNodes(t *testing.T) {
	const featDim, hiddenDim = 4, 8
	b := twoGraphBatch(t, featDim)
	rng := rand.New(rand.NewSource(2))
	r := NewRegressor(rng, hiddenDim, featDim, 2)

	emb := tensor.NewRandDense(rng, b.NumNodes(), hiddenDim, 1)
	mask, err := NewMask(rng, b.NumNodes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	out := r.Reconstruct(tensor.NewTape(true), emb, b, mask)
	if out.Rows != 0 || out.Cols != featDim {
		t.Fatalf("empty mask produced %dx%d", out.Rows, out.Cols)
	}
}

func TestReconstructAllMasked(t *testing.T) {
	// With every node hidden there is no cross-attention context; the
	// self-attention rounds must still produce finite values.
	const featDim, hiddenDim = 4, 8
	b := twoGraphBatch(t, featDim)
	rng := rand.New(rand.NewSource(3))
	r := NewRegressor(rng, hiddenDim, featDim, 2)

	emb := tensor.NewRandDense(rng, b.NumNodes(), hiddenDim, 1)
	mask, err := NewMask(rng, b.NumNodes(), 1)
	if err != nil {
		t.Fatal(err)
	}
	out := r.Reconstruct(tensor.NewTape(false), emb, b, mask)
	if out.Rows != b.NumNodes() {
		t.Fatalf("full mask produced %d rows, want %d", out.Rows, b.NumNodes())
	}
	for i, v := range out.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("reconstruction[%d] = %v", i, v)
		}
	}
}

func TestReconstructGradientsReachParameters(t *testing.T) {
	const featDim, hiddenDim = 4, 8
	b := twoGraphBatch(t, featDim)
	rng := rand.New(rand.NewSource(4))
	r := NewRegressor(rng, hiddenDim, featDim, 2)

	emb := tensor.NewRandDense(rng, b.NumNodes(), hiddenDim, 1)
	mask, err := NewMask(rng, b.NumNodes(), 0.4)
	if err != nil {
		t.Fatal(err)
	}

	tape := tensor.NewTape(true)
	out := r.Reconstruct(tape, emb, b, mask)
	for i := range out.Grad {
		out.Grad[i] = 1
	}
	tape.Backward()

	// The matcher bias receives exactly the column sums of the seeded
	// gradient.
	for j, g := range r.matchB.Grad {
		if math.Abs(g-float64(mask.Count())) > 1e-9 {
			t.Fatalf("match_b grad[%d] = %v, want %d", j, g, mask.Count())
		}
	}
	if allZeroFloats(r.maskToken.Grad) {
		t.Fatal("mask token received no gradient")
	}
	if allZeroFloats(emb.Grad) {
		t.Fatal("embeddings received no gradient")
	}
}

func TestReconstructPerGraphIsolation(t *testing.T) {
	const featDim, hiddenDim = 4, 8
	b := twoGraphBatch(t, featDim)
	rng := rand.New(rand.NewSource(5))
	r := NewRegressor(rng, hiddenDim, featDim, 2)

	var mask *Mask
	for seed := int64(0); seed < 100; seed++ {
		m, err := NewMask(rand.New(rand.NewSource(seed)), b.NumNodes(), 0.4)
		if err != nil {
			t.Fatal(err)
		}
		first, second := 0, 0
		for _, i := range m.Masked() {
			if i < b.Offsets[1] {
				first++
			} else {
				second++
			}
		}
		if first > 0 && second > 0 {
			mask = m
			break
		}
	}
	if mask == nil {
		t.Fatal("no seed produced masked nodes in both graphs")
	}

	emb := tensor.NewRandDense(rng, b.NumNodes(), hiddenDim, 1)
	base := r.Reconstruct(tensor.NewTape(false), emb, b, mask)

	// Perturbing the second graph's embeddings must not change the
	// reconstructions of the first graph's masked nodes.
	perturbed := emb.Clone()
	for row := b.Offsets[1]; row < b.NumNodes(); row++ {
		for j := range perturbed.Row(row) {
			perturbed.Row(row)[j] += 3
		}
	}
	moved := r.Reconstruct(tensor.NewTape(false), perturbed, b, mask)

	for k, node := range mask.Masked() {
		if node >= b.Offsets[1] {
			continue
		}
		for j := range base.Row(k) {
			if math.Abs(base.At(k, j)-moved.At(k, j)) > 1e-12 {
				t.Fatalf("row %d (node %d) changed with the other graph: %v vs %v",
					k, node, base.At(k, j), moved.At(k, j))
			}
		}
	}
}

func allZeroFloats(xs []float64) bool {
	for _, x := range xs {
		if x != 0 {
			return false
		}
	}
	return true
}
