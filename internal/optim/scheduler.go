package optim

import "math"

// Scheduler maps an epoch index to a learning rate. Schedules are pure;
// the orchestrator supplies the epoch.
type Scheduler interface {
	LRAt(epoch int) float64
}

// ConstantLR keeps the base learning rate for the whole run.
type ConstantLR struct {
	lr float64
}

func NewConstantLR(lr float64) ConstantLR {
	return ConstantLR{lr: lr}
}

func (s ConstantLR) LRAt(int) float64 { return s.lr }

// ExponentialLR multiplies the base learning rate by gamma once every
// `every` epochs: lr(e) = base · gamma^⌊e/every⌋.
type ExponentialLR struct {
	base  float64
	gamma float64
	every int
}

func NewExponentialLR(base, gamma float64, every int) ExponentialLR {
	if every < 1 {
		every = 1
	}
	return ExponentialLR{base: base, gamma: gamma, every: every}
}

func (s ExponentialLR) LRAt(epoch int) float64 {
	if epoch < 0 {
		epoch = 0
	}
	return s.base * math.Pow(s.gamma, float64(epoch/s.every))
}
