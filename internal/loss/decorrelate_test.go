package loss

import (
	"math"
	"math/rand"
	"testing"

	"metacount/internal/tensor"
)

func TestDecorrelateIdentityCorrelation(t *testing.T) {
	// Views whose cross-correlation is exactly the identity sit at the
	// penalty's optimum for unit-diagonal correlations: -1.
	s := math.Sqrt(2)
	view := tensor.FromSlice(2, 2, []float64{s, 0, 0, s})

	tape := tensor.NewTape(false)
	got, err := Decorrelate(tape, view, view, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-(-1)) > 1e-12 {
		t.Fatalf("identity correlation penalty = %v, want -1", got)
	}
}

func TestDecorrelateGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	viewA := tensor.NewRandDense(rng, 4, 3, 1)
	viewB := tensor.NewRandDense(rng, 4, 3, 1)

	tape := tensor.NewTape(true)
	if _, err := Decorrelate(tape, viewA, viewB, 1); err != nil {
		t.Fatal(err)
	}
	tape.Backward()

	const h = 1e-6
	silent := tensor.NewTape(false)
	for _, view := range []*tensor.Dense{viewA, viewB} {
		for i := range view.Data {
			orig := view.Data[i]
			view.Data[i] = orig + h
			up, _ := Decorrelate(silent, viewA, viewB, 1)
			view.Data[i] = orig - h
			down, _ := Decorrelate(silent, viewA, viewB, 1)
			view.Data[i] = orig
			numeric := (up - down) / (2 * h)
			if math.Abs(view.Grad[i]-numeric) > 1e-5 {
				t.Fatalf("grad[%d] = %v, numeric %v", i, view.Grad[i], numeric)
			}
		}
	}
}

func TestDecorrelateScale(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	base := tensor.NewRandDense(rng, 3, 2, 1)
	other := tensor.NewRandDense(rng, 3, 2, 1)

	unit := base.Clone()
	tape := tensor.NewTape(true)
	if _, err := Decorrelate(tape, unit, other.Clone(), 1); err != nil {
		t.Fatal(err)
	}
	tape.Backward()

	tripled := base.Clone()
	tape = tensor.NewTape(true)
	if _, err := Decorrelate(tape, tripled, other.Clone(), 3); err != nil {
		t.Fatal(err)
	}
	tape.Backward()

	for i := range unit.Grad {
		if math.Abs(tripled.Grad[i]-3*unit.Grad[i]) > 1e-12 {
			t.Fatalf("grad[%d]: scaled %v, unit %v", i, tripled.Grad[i], unit.Grad[i])
		}
	}
}

func TestDecorrelateSingleChannel(t *testing.T) {
	// One projection channel has no off-diagonal terms; only the
	// alignment reward remains.
	viewA := tensor.FromSlice(2, 1, []float64{1, 1})
	viewB := tensor.FromSlice(2, 1, []float64{2, 2})

	got, err := Decorrelate(tensor.NewTape(false), viewA, viewB, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-(-2)) > 1e-12 {
		t.Fatalf("single-channel penalty = %v, want -2", got)
	}
}

func TestDecorrelateShapeErrors(t *testing.T) {
	tape := tensor.NewTape(false)
	if _, err := Decorrelate(tape, tensor.NewDense(2, 3), tensor.NewDense(2, 4), 1); err == nil {
		t.Fatal("shape mismatch should be rejected")
	}
	if _, err := Decorrelate(tape, tensor.NewDense(0, 3), tensor.NewDense(0, 3), 1); err == nil {
		t.Fatal("empty views should be rejected")
	}
}
