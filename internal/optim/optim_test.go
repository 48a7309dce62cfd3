package optim

import (
	"math"
	"testing"

	"metacount/internal/tensor"
)

func scalarParam(name string, value float64) tensor.Named {
	d := tensor.NewDense(1, 1)
	d.Data[0] = value
	return tensor.Named{Name: name, Dense: d}
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	p := scalarParam("x", -4)
	params := []tensor.Named{p}
	opt := NewAdam(0.1, 0)

	for i := 0; i < 500; i++ {
		p.Dense.Grad[0] = 2 * (p.Dense.Data[0] - 3)
		opt.Step(params)
		p.Dense.ZeroGrad()
	}
	if math.Abs(p.Dense.Data[0]-3) > 0.05 {
		t.Fatalf("after 500 steps x = %v, want ≈ 3", p.Dense.Data[0])
	}
}

func TestAdamFirstStepIsSignedLR(t *testing.T) {
	p := scalarParam("x", 1)
	opt := NewAdam(0.01, 0)
	p.Dense.Grad[0] = 0.7
	opt.Step([]tensor.Named{p})

	// With bias correction the first update is lr·g/(|g|+eps).
	want := 1 - 0.01*0.7/(0.7+1e-6)
	if math.Abs(p.Dense.Data[0]-want) > 1e-9 {
		t.Fatalf("x after first step = %v, want %v", p.Dense.Data[0], want)
	}
}

func TestAdamWeightDecayShrinksParameters(t *testing.T) {
	p := scalarParam("x", 2)
	opt := NewAdam(0.01, 5e-4)
	for i := 0; i < 10; i++ {
		opt.Step([]tensor.Named{p})
	}
	if v := p.Dense.Data[0]; v >= 2 || v <= 0 {
		t.Fatalf("weight decay alone moved x to %v, want slightly below 2", v)
	}
}

func TestAdamResetRestartsBiasCorrection(t *testing.T) {
	p := scalarParam("x", 0)
	opt := NewAdam(0.01, 0)
	for i := 0; i < 5; i++ {
		p.Dense.Grad[0] = 1
		opt.Step([]tensor.Named{p})
		p.Dense.ZeroGrad()
	}
	opt.Reset()

	before := p.Dense.Data[0]
	p.Dense.Grad[0] = 0.7
	opt.Step([]tensor.Named{p})
	want := before - 0.01*0.7/(0.7+1e-6)
	if math.Abs(p.Dense.Data[0]-want) > 1e-9 {
		t.Fatalf("post-reset step moved x to %v, want %v", p.Dense.Data[0], want)
	}
}

func TestSGDStep(t *testing.T) {
	p := scalarParam("x", 1)
	opt := NewSGD(0.1, 0)
	p.Dense.Grad[0] = 0.5
	opt.Step([]tensor.Named{p})
	if math.Abs(p.Dense.Data[0]-0.95) > 1e-12 {
		t.Fatalf("x = %v, want 0.95", p.Dense.Data[0])
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := scalarParam("x", 0)
	opt := NewSGD(0.1, 0.9)
	params := []tensor.Named{p}

	p.Dense.Grad[0] = 1
	opt.Step(params)
	// v1 = 1, x = -0.1
	if math.Abs(p.Dense.Data[0]+0.1) > 1e-12 {
		t.Fatalf("x after first step = %v, want -0.1", p.Dense.Data[0])
	}
	opt.Step(params)
	// v2 = 0.9 + 1 = 1.9, x = -0.1 - 0.19 = -0.29
	if math.Abs(p.Dense.Data[0]+0.29) > 1e-12 {
		t.Fatalf("x after second step = %v, want -0.29", p.Dense.Data[0])
	}
}

func TestSetLR(t *testing.T) {
	for _, opt := range []Optimizer{NewAdam(0.1, 0), NewSGD(0.1, 0)} {
		opt.SetLR(0.025)
		if opt.LR() != 0.025 {
			t.Fatalf("LR = %v, want 0.025", opt.LR())
		}
	}
}

func TestExponentialLR(t *testing.T) {
	s := NewExponentialLR(6e-4, 0.1, 20)
	cases := []struct {
		epoch int
		want  float64
	}{
		{0, 6e-4},
		{19, 6e-4},
		{20, 6e-5},
		{39, 6e-5},
		{40, 6e-6},
		{-3, 6e-4},
	}
	for _, tc := range cases {
		if got := s.LRAt(tc.epoch); math.Abs(got-tc.want) > 1e-15 {
			t.Fatalf("LRAt(%d) = %v, want %v", tc.epoch, got, tc.want)
		}
	}
}

func TestConstantLR(t *testing.T) {
	s := NewConstantLR(3e-3)
	for _, epoch := range []int{0, 7, 1000} {
		if got := s.LRAt(epoch); got != 3e-3 {
			t.Fatalf("LRAt(%d) = %v, want 3e-3", epoch, got)
		}
	}
}

func TestClipGradNorm(t *testing.T) {
	a := scalarParam("a", 0)
	b := scalarParam("b", 0)
	a.Dense.Grad[0] = 3
	b.Dense.Grad[0] = 4
	params := []tensor.Named{a, b}

	if norm := ClipGradNorm(params, 10); math.Abs(norm-5) > 1e-12 {
		t.Fatalf("norm = %v, want 5", norm)
	}
	if a.Dense.Grad[0] != 3 || b.Dense.Grad[0] != 4 {
		t.Fatal("gradients below the threshold must not change")
	}

	if norm := ClipGradNorm(params, 1); math.Abs(norm-5) > 1e-12 {
		t.Fatalf("pre-clip norm = %v, want 5", norm)
	}
	if math.Abs(a.Dense.Grad[0]-0.6) > 1e-12 || math.Abs(b.Dense.Grad[0]-0.8) > 1e-12 {
		t.Fatalf("clipped grads = %v, %v; want 0.6, 0.8", a.Dense.Grad[0], b.Dense.Grad[0])
	}
	if got := GradNorm(params); math.Abs(got-1) > 1e-12 {
		t.Fatalf("post-clip norm = %v, want 1", got)
	}
}

func TestClipGradNormDisabled(t *testing.T) {
	p := scalarParam("a", 0)
	p.Dense.Grad[0] = 100
	if norm := ClipGradNorm([]tensor.Named{p}, 0); math.Abs(norm-100) > 1e-12 {
		t.Fatalf("norm = %v, want 100", norm)
	}
	if p.Dense.Grad[0] != 100 {
		t.Fatal("disabled clipping must leave gradients alone")
	}
}

func TestClipGradNormZeroGradients(t *testing.T) {
	p := scalarParam("a", 1)
	if norm := ClipGradNorm([]tensor.Named{p}, 1); norm != 0 {
		t.Fatalf("norm of zero gradients = %v", norm)
	}
	if p.Dense.Grad[0] != 0 {
		t.Fatal("zero gradients must stay zero")
	}
}
