// Package optim applies gradient updates to named parameter sets and
// provides learning-rate schedules and global-norm gradient clipping.
package optim

import (
	"math"

	"metacount/internal/tensor"
)

// Optimizer consumes accumulated gradients and updates parameter values
// in place. State is keyed by parameter name, so the same parameter set
// must be passed on every step.
type Optimizer interface {
	Step(params []tensor.Named)
	SetLR(lr float64)
	LR() float64
	Reset()
}

// Adam implements the Adam update with bias-corrected moment estimates
// and classic L2 weight decay folded into the gradient.
type Adam struct {
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdam returns an Adam optimizer with the conventional betas and the
// epsilon used throughout the pretraining configurations.
func NewAdam(lr, weightDecay float64) *Adam {
	return NewAdamWith(lr, 0.9, 0.999, 1e-6, weightDecay)
}

func NewAdamWith(lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

func (o *Adam) Step(params []tensor.Named) {
	o.step++
	bc1 := 1 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.beta2, float64(o.step))

	for _, p := range params {
		d := p.Dense
		m := o.m[p.Name]
		if m == nil {
			m = make([]float64, len(d.Data))
			o.m[p.Name] = m
			o.v[p.Name] = make([]float64, len(d.Data))
		}
		v := o.v[p.Name]

		for j := range d.Data {
			g := d.Grad[j] + o.weightDecay*d.Data[j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			d.Data[j] -= o.lr * mHat / (math.Sqrt(vHat) + o.eps)
		}
	}
}

func (o *Adam) SetLR(lr float64) { o.lr = lr }
func (o *Adam) LR() float64      { return o.lr }

func (o *Adam) Reset() {
	o.step = 0
	o.m = make(map[string][]float64)
	o.v = make(map[string][]float64)
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	lr       float64
	momentum float64

	velocity map[string][]float64
}

func NewSGD(lr, momentum float64) *SGD {
	return &SGD{lr: lr, momentum: momentum, velocity: make(map[string][]float64)}
}

func (o *SGD) Step(params []tensor.Named) {
	for _, p := range params {
		d := p.Dense
		if o.momentum == 0 {
			for j := range d.Data {
				d.Data[j] -= o.lr * d.Grad[j]
			}
			continue
		}
		vel := o.velocity[p.Name]
		if vel == nil {
			vel = make([]float64, len(d.Data))
			o.velocity[p.Name] = vel
		}
		for j := range d.Data {
			vel[j] = o.momentum*vel[j] + d.Grad[j]
			d.Data[j] -= o.lr * vel[j]
		}
	}
}

func (o *SGD) SetLR(lr float64) { o.lr = lr }
func (o *SGD) LR() float64      { return o.lr }

func (o *SGD) Reset() {
	o.velocity = make(map[string][]float64)
}
