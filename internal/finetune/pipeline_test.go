package finetune

import (
	"math/rand"
	"strings"
	"testing"

	"metacount/internal/encoder"
	"metacount/internal/graph"
	"metacount/internal/model"
	"metacount/internal/pretrain"
	"metacount/internal/tensor"
)

// labeledGraphs returns a 5-node path and a 7-node cycle with mean node
// degree as the per-graph regression label.
func labeledGraphs() []graph.Graph {
	path := graph.Graph{
		Features: make([][]float64, 5),
		Edges:    [][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 1}, {2, 3}, {3, 2}, {3, 4}, {4, 3}},
	}
	for i := range path.Features {
		f := float64(i)
		path.Features[i] = []float64{0.1 * f, 1 - 0.05*f, 0.3}
	}
	path.Label = float64(len(path.Edges)) / 5.0

	cycle := graph.Graph{Features: make([][]float64, 7)}
	for i := 0; i < 7; i++ {
		j := (i + 1) % 7
		cycle.Edges = append(cycle.Edges, [2]int{i, j}, [2]int{j, i})
		f := float64(i)
		cycle.Features[i] = []float64{0.2, 0.07 * f, 0.9 - 0.1*f}
	}
	cycle.Label = float64(len(cycle.Edges)) / 7.0

	return []graph.Graph{path, cycle}
}

func testEncoderConfig() encoder.Config {
	return encoder.Config{InputDim: 3, HiddenDim: 8, Layers: 2}
}

func testPipeline(t *testing.T, trainEncoder, alignment bool) *Pipeline {
	t.Helper()
	p, err := New(rand.New(rand.NewSource(13)), Config{
		Architecture: "gin",
		Encoder:      testEncoderConfig(),
		HeadDim:      16,
		TrainEncoder: trainEncoder,
		Alignment:    alignment,
		AlignDim:     4,
	})
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	return p
}

func packedBatch(t *testing.T) *graph.Batch {
	t.Helper()
	b, err := graph.Pack(labeledGraphs())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return b
}

func TestPipelineForwardShapes(t *testing.T) {
	b := packedBatch(t)

	p := testPipeline(t, false, true)
	out, err := p.Forward(tensor.NewTape(false), b)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if out.Pred.Rows != 2 || out.Pred.Cols != 1 {
		t.Fatalf("prediction shape %dx%d, want 2x1", out.Pred.Rows, out.Pred.Cols)
	}
	for i, v := range out.Pred.Data {
		if v < 0 {
			t.Fatalf("prediction %d is negative: %v", i, v)
		}
	}
	if out.ViewA == nil || out.ViewB == nil {
		t.Fatal("alignment views missing")
	}
	if out.ViewA.Rows != 2 || out.ViewA.Cols != 4 || !out.ViewA.SameShape(out.ViewB) {
		t.Fatalf("view shapes %dx%d and %dx%d, want 2x4 twice",
			out.ViewA.Rows, out.ViewA.Cols, out.ViewB.Rows, out.ViewB.Cols)
	}

	bare := testPipeline(t, false, false)
	out, err = bare.Forward(tensor.NewTape(false), b)
	if err != nil {
		t.Fatalf("forward without alignment: %v", err)
	}
	if out.ViewA != nil || out.ViewB != nil {
		t.Fatal("views should be nil when alignment is disabled")
	}
}

func TestPipelineLoadEncoderFromPretrainCheckpoint(t *testing.T) {
	pre, err := pretrain.New(rand.New(rand.NewSource(5)), pretrain.Config{
		Architecture: "gin",
		Encoder:      testEncoderConfig(),
		MaskRatio:    0.4,
		Rounds:       1,
	})
	if err != nil {
		t.Fatalf("build pretrain model: %v", err)
	}
	snapshot := pre.Snapshot()

	p := testPipeline(t, false, false)
	if err := p.LoadEncoder(snapshot); err != nil {
		t.Fatalf("load encoder: %v", err)
	}

	byName := make(map[string][]float64, len(snapshot))
	for _, sp := range snapshot {
		byName[sp.Name] = sp.Values
	}
	for _, ep := range p.EncoderParams() {
		want, ok := byName[ep.Name]
		if !ok {
			t.Fatalf("pretraining snapshot has no entry for %q", ep.Name)
		}
		for i, v := range ep.Dense.Data {
			if v != want[i] {
				t.Fatalf("parameter %s entry %d: %v, want %v", ep.Name, i, v, want[i])
			}
		}
	}
}

func TestPipelineLoadEncoderRejectsIncompleteSnapshot(t *testing.T) {
	p := testPipeline(t, false, false)

	var partial []model.Parameter
	for _, sp := range p.Snapshot() {
		if strings.HasPrefix(sp.Name, "gin/layer1/") {
			continue
		}
		partial = append(partial, sp)
	}
	if err := p.LoadEncoder(partial); err == nil {
		t.Fatal("expected an error for a snapshot missing encoder parameters")
	}
}

func TestPipelineLoadEncoderRejectsShapeMismatch(t *testing.T) {
	narrow, err := New(rand.New(rand.NewSource(2)), Config{
		Architecture: "gin",
		Encoder:      encoder.Config{InputDim: 3, HiddenDim: 4, Layers: 2},
	})
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}

	wide := testPipeline(t, false, false)
	if err := narrow.LoadEncoder(wide.Snapshot()); err == nil {
		t.Fatal("expected an error for mismatched encoder shapes")
	}
}

func TestPipelineSnapshotRestoreRoundTrip(t *testing.T) {
	a := testPipeline(t, false, true)
	b, err := New(rand.New(rand.NewSource(99)), a.Config())
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}

	if err := b.Restore(a.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	want := a.Snapshot()
	got := b.Snapshot()
	if len(want) != len(got) {
		t.Fatalf("snapshot sizes differ: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].Name != got[i].Name {
			t.Fatalf("parameter %d: name %q vs %q", i, want[i].Name, got[i].Name)
		}
		for j := range want[i].Values {
			if want[i].Values[j] != got[i].Values[j] {
				t.Fatalf("parameter %s entry %d differs after restore", want[i].Name, j)
			}
		}
	}
}

func TestPipelineParamsRespectFreezing(t *testing.T) {
	frozen := testPipeline(t, false, true)
	for _, p := range frozen.Params() {
		if strings.HasPrefix(p.Name, "gin/") {
			t.Fatalf("frozen pipeline exposes encoder parameter %q to the optimizer", p.Name)
		}
	}
	names := make(map[string]bool)
	for _, p := range frozen.Params() {
		names[p.Name] = true
	}
	for _, want := range []string{"prompt", "head/w1", "head/b1", "head/w2", "head/b2", "align/w"} {
		if !names[want] {
			t.Fatalf("trainable set is missing %q", want)
		}
	}

	unfrozen := testPipeline(t, true, false)
	sawEncoder := false
	for _, p := range unfrozen.Params() {
		if strings.HasPrefix(p.Name, "gin/") {
			sawEncoder = true
		}
		if p.Name == "align/w" {
			t.Fatal("alignment projection present despite being disabled")
		}
	}
	if !sawEncoder {
		t.Fatal("unfrozen pipeline must expose encoder parameters")
	}
}

func TestPipelinePromptReceivesGradient(t *testing.T) {
	p := testPipeline(t, false, true)
	b := packedBatch(t)

	tape := tensor.NewTape(true)
	out, err := p.Forward(tape, b)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	// Seed the prompted view; its path to the prompt has no rectifier
	// that could zero the gradient.
	for i := range out.ViewA.Grad {
		out.ViewA.Grad[i] = 1
	}
	tape.Backward()

	moved := false
	for _, g := range p.prompt.Grad {
		if g != 0 {
			moved = true
			break
		}
	}
	if !moved {
		t.Fatal("prompt accumulated no gradient")
	}
}

func TestPipelineConfigValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := New(rng, Config{Architecture: "gin", Encoder: testEncoderConfig(), HeadDim: -1}); err == nil {
		t.Fatal("negative head dim should be rejected")
	}
	if _, err := New(rng, Config{Architecture: "gin", Encoder: testEncoderConfig(), AlignDim: -2}); err == nil {
		t.Fatal("negative alignment dim should be rejected")
	}
	if _, err := New(rng, Config{Architecture: "transformer", Encoder: testEncoderConfig()}); err == nil {
		t.Fatal("unknown architecture should be rejected")
	}
}
