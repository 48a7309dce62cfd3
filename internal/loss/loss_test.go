package loss

import (
	"math"
	"math/rand"
	"testing"

	"metacount/internal/tensor"
)

func column(vals ...float64) *tensor.Dense {
	d := tensor.NewDense(len(vals), 1)
	copy(d.Data, vals)
	return d
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		name string
		want Kind
		ok   bool
	}{
		{"MAE", MAE, true},
		{"mse", MSE, true},
		{" SMSE ", SmoothMAE, true},
		{"HUBER", Huber, true},
		{"hinge", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.name)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseKind(%q) = %v, %v; want %v", tc.name, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseKind(%q) should fail", tc.name)
		}
	}
}

func TestCriterionValues(t *testing.T) {
	pred := column(0.5, -0.5)
	target := []float64{0, 0}

	cases := []struct {
		kind Kind
		want float64
	}{
		{MAE, 0.25},
		{MSE, 0.125},
		{SmoothMAE, 0.0625},
		{Huber, 0.0225},
	}
	for _, tc := range cases {
		c := NewCriterion(tc.kind, RectifyReLU)
		got, err := c.Value(pred, target)
		if err != nil {
			t.Fatalf("%v: %v", tc.kind, err)
		}
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%v loss = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestCriterionPerRowMatchesValue(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	pred := tensor.NewDense(16, 1)
	target := make([]float64, 16)
	for i := range target {
		pred.Data[i] = rng.NormFloat64()
		target[i] = rng.NormFloat64()
	}
	for _, kind := range []Kind{MAE, MSE, SmoothMAE, Huber} {
		c := NewCriterion(kind, RectifyLeaky)
		rows, err := c.PerRow(pred, target)
		if err != nil {
			t.Fatalf("%v: %v", kind, err)
		}
		sum := 0.0
		for _, v := range rows {
			sum += v
		}
		want, err := c.Value(pred, target)
		if err != nil {
			t.Fatalf("%v: %v", kind, err)
		}
		if math.Abs(sum/16-want) > 1e-12 {
			t.Fatalf("%v: per-row mean %v, Value %v", kind, sum/16, want)
		}
	}
}

func TestCriterionGradients(t *testing.T) {
	pred := column(0.3, -0.2, 0.7)
	target := []float64{0.1, 0.05, 1.2}

	for _, kind := range []Kind{MAE, MSE, SmoothMAE, Huber} {
		c := NewCriterion(kind, RectifyLeaky)
		predCopy := pred.Clone()
		tape := tensor.NewTape(true)
		if _, err := c.Backprop(tape, predCopy, target, 1); err != nil {
			t.Fatalf("%v: %v", kind, err)
		}
		tape.Backward()

		const h = 1e-6
		for i := range predCopy.Data {
			probe := pred.Clone()
			probe.Data[i] += h
			up, _ := c.Value(probe, target)
			probe.Data[i] -= 2 * h
			down, _ := c.Value(probe, target)
			numeric := (up - down) / (2 * h)
			if math.Abs(predCopy.Grad[i]-numeric) > 1e-5 {
				t.Fatalf("%v grad[%d] = %v, numeric %v", kind, i, predCopy.Grad[i], numeric)
			}
		}
	}
}

func TestCriterionBackpropScale(t *testing.T) {
	target := []float64{0.1, 0.4}

	unit := column(0.8, 0.2)
	tape := tensor.NewTape(true)
	c := NewCriterion(MSE, RectifyLeaky)
	if _, err := c.Backprop(tape, unit, target, 1); err != nil {
		t.Fatal(err)
	}
	tape.Backward()

	doubled := column(0.8, 0.2)
	tape = tensor.NewTape(true)
	if _, err := c.Backprop(tape, doubled, target, 2); err != nil {
		t.Fatal(err)
	}
	tape.Backward()

	for i := range unit.Grad {
		if math.Abs(doubled.Grad[i]-2*unit.Grad[i]) > 1e-12 {
			t.Fatalf("grad[%d]: scaled %v, unit %v", i, doubled.Grad[i], unit.Grad[i])
		}
	}
}

func TestCriterionShapeErrors(t *testing.T) {
	c := NewCriterion(MAE, RectifyReLU)
	wide := tensor.NewDense(2, 3)
	if _, err := c.Value(wide, []float64{0, 0}); err == nil {
		t.Fatal("wide prediction matrix should be rejected")
	}
	if _, err := c.Value(column(1, 2), []float64{0}); err == nil {
		t.Fatal("target length mismatch should be rejected")
	}
	if _, err := c.Value(tensor.NewDense(0, 1), nil); err == nil {
		t.Fatal("empty prediction column should be rejected")
	}
}

func TestCosinePerfectReconstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pred := tensor.NewRandDense(rng, 4, 6, 1)
	target := pred.Clone()

	tape := tensor.NewTape(true)
	got, err := Cosine(tape, pred, target, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-(-1)) > 1e-12 {
		t.Fatalf("cosine loss of identical rows = %v, want -1", got)
	}
	tape.Backward()
	for i, g := range pred.Grad {
		if math.Abs(g) > 1e-9 {
			t.Fatalf("grad[%d] = %v at the optimum, want 0", i, g)
		}
	}
}

func TestCosineGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pred := tensor.NewRandDense(rng, 3, 5, 1)
	target := tensor.NewRandDense(rng, 3, 5, 1)

	tape := tensor.NewTape(true)
	if _, err := Cosine(tape, pred, target, 1); err != nil {
		t.Fatal(err)
	}
	tape.Backward()

	const h = 1e-6
	silent := tensor.NewTape(false)
	for i := range pred.Data {
		orig := pred.Data[i]
		pred.Data[i] = orig + h
		up, _ := Cosine(silent, pred, target, 1)
		pred.Data[i] = orig - h
		down, _ := Cosine(silent, pred, target, 1)
		pred.Data[i] = orig
		numeric := (up - down) / (2 * h)
		if math.Abs(pred.Grad[i]-numeric) > 1e-5 {
			t.Fatalf("grad[%d] = %v, numeric %v", i, pred.Grad[i], numeric)
		}
	}
}

func TestCosineEmptyAndZeroRows(t *testing.T) {
	tape := tensor.NewTape(true)
	got, err := Cosine(tape, tensor.NewDense(0, 4), tensor.NewDense(0, 4), 1)
	if err != nil || got != 0 {
		t.Fatalf("empty reconstruction = %v, %v; want 0, nil", got, err)
	}

	pred := tensor.NewDense(2, 3)
	pred.Set(1, 0, 0.5)
	pred.Set(1, 1, -0.5)
	target := tensor.NewDense(2, 3)
	target.Set(0, 0, 1)
	target.Set(1, 0, 0.5)
	target.Set(1, 1, -0.5)

	got, err = Cosine(tape, pred, target, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("zero prediction row produced %v", got)
	}
	tape.Backward()
	for i, g := range pred.Grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("grad[%d] = %v", i, g)
		}
	}
}

func TestCosineShapeMismatch(t *testing.T) {
	tape := tensor.NewTape(false)
	if _, err := Cosine(tape, tensor.NewDense(2, 3), tensor.NewDense(2, 4), 1); err == nil {
		t.Fatal("shape mismatch should be rejected")
	}
}
