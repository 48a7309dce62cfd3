package encoder

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"metacount/internal/graph"
	"metacount/internal/tensor"
)

func testBatch(t *testing.T, featureDim, edgeDim int) *graph.Batch {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	graphs, err := graph.GenerateCorpus(rng, graph.SyntheticConfig{
		Graphs:     2,
		MinNodes:   4,
		MaxNodes:   6,
		FeatureDim: featureDim,
		EdgeDim:    edgeDim,
		EdgeProb:   0.6,
	})
	if err != nil {
		t.Fatalf("generate corpus: %v", err)
	}
	b, err := graph.Pack(graphs)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return b
}

func TestRegistryListsBuiltIns(t *testing.T) {
	names := List()
	want := map[string]bool{"gin": false, "gcn": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Fatalf("built-in architecture %q not registered", n)
		}
	}
}

func TestRegistryUnknownArchitecture(t *testing.T) {
	_, err := New("transformer-xl", Config{InputDim: 3, HiddenDim: 4, Layers: 1}, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrArchitectureNotFound) {
		t.Fatalf("expected ErrArchitectureNotFound, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	defer resetRegistryForTests()
	ctor := func(cfg Config, rng *rand.Rand) (Encoder, error) { return NewGIN(cfg, rng) }
	if err := Register("custom", ctor); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := Register("custom", ctor); !errors.Is(err, ErrArchitectureExists) {
		t.Fatalf("expected ErrArchitectureExists, got %v", err)
	}
}

func TestGINShapesAndGradients(t *testing.T) {
	b := testBatch(t, 5, 0)
	enc, err := New("gin", Config{InputDim: 5, HiddenDim: 8, Layers: 2}, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("construct gin: %v", err)
	}

	tape := tensor.NewTape(true)
	emb, err := enc.Encode(tape, b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if emb.Rows != b.NumNodes() || emb.Cols != 8 {
		t.Fatalf("expected %dx8 embeddings, got %dx%d", b.NumNodes(), emb.Rows, emb.Cols)
	}

	for i := range emb.Grad {
		emb.Grad[i] = 1
	}
	tape.Backward()
	touched := false
	for _, p := range enc.Params() {
		for _, g := range p.Dense.Grad {
			if g != 0 {
				touched = true
			}
		}
	}
	if !touched {
		t.Fatalf("backward left every encoder parameter gradient at zero")
	}
}

func TestGINEdgeFeatures(t *testing.T) {
	b := testBatch(t, 4, 3)
	enc, err := NewGIN(Config{InputDim: 4, HiddenDim: 6, Layers: 2, EdgeDim: 3}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("construct gin: %v", err)
	}
	emb, err := enc.Encode(tensor.NewTape(false), b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if emb.Rows != b.NumNodes() || emb.Cols != 6 {
		t.Fatalf("unexpected embedding shape %dx%d", emb.Rows, emb.Cols)
	}
}

func TestGINToleratesEmptyEdges(t *testing.T) {
	b, err := graph.Pack([]graph.Graph{{
		Features: [][]float64{{1, 2}, {3, 4}, {5, 6}},
	}})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	enc, err := NewGIN(Config{InputDim: 2, HiddenDim: 4, Layers: 2}, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("construct gin: %v", err)
	}
	emb, err := enc.Encode(tensor.NewTape(false), b)
	if err != nil {
		t.Fatalf("encode with no edges: %v", err)
	}
	for _, v := range emb.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("edgeless encoding produced non-finite value %v", v)
		}
	}
}

func TestGINRejectsFeatureDimMismatch(t *testing.T) {
	b := testBatch(t, 5, 0)
	enc, err := NewGIN(Config{InputDim: 7, HiddenDim: 4, Layers: 1}, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("construct gin: %v", err)
	}
	if _, err := enc.Encode(tensor.NewTape(false), b); err == nil {
		t.Fatalf("expected feature dim mismatch error")
	}
}

func TestGINRejectsMissingEdgeFeatures(t *testing.T) {
	b := testBatch(t, 4, 0)
	enc, err := NewGIN(Config{InputDim: 4, HiddenDim: 4, Layers: 1, EdgeDim: 2}, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("construct gin: %v", err)
	}
	if _, err := enc.Encode(tensor.NewTape(false), b); err == nil {
		t.Fatalf("expected missing edge feature error")
	}
}

func TestGCNShapes(t *testing.T) {
	b := testBatch(t, 5, 0)
	enc, err := New("gcn", Config{InputDim: 5, HiddenDim: 7, Layers: 3}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("construct gcn: %v", err)
	}
	emb, err := enc.Encode(tensor.NewTape(false), b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if emb.Rows != b.NumNodes() || emb.Cols != 7 {
		t.Fatalf("unexpected embedding shape %dx%d", emb.Rows, emb.Cols)
	}
}

func TestGCNRejectsEdgeFeatures(t *testing.T) {
	if _, err := NewGCN(Config{InputDim: 3, HiddenDim: 4, Layers: 1, EdgeDim: 2}, rand.New(rand.NewSource(8))); err == nil {
		t.Fatalf("expected edge feature rejection")
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []Config{
		{InputDim: 0, HiddenDim: 4, Layers: 1},
		{InputDim: 3, HiddenDim: 0, Layers: 1},
		{InputDim: 3, HiddenDim: 4, Layers: 0},
		{InputDim: 3, HiddenDim: 4, Layers: 1, EdgeDim: -1},
	}
	for i, cfg := range cases {
		if _, err := NewGIN(cfg, rand.New(rand.NewSource(9))); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, cfg)
		}
	}
}

func TestEncodersDeterministicUnderSeed(t *testing.T) {
	b := testBatch(t, 4, 0)
	build := func() *tensor.Dense {
		enc, err := NewGIN(Config{InputDim: 4, HiddenDim: 5, Layers: 2}, rand.New(rand.NewSource(10)))
		if err != nil {
			t.Fatalf("construct gin: %v", err)
		}
		emb, err := enc.Encode(tensor.NewTape(false), b)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return emb
	}
	a, bb := build(), build()
	for i := range a.Data {
		if a.Data[i] != bb.Data[i] {
			t.Fatalf("same seed produced different embeddings at %d", i)
		}
	}
}
