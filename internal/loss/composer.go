package loss

import (
	"fmt"
	"strings"

	"metacount/internal/tensor"
)

// Objective selects which loss term the schedule weight multiplies. The
// other term keeps a fixed weight of one.
type Objective int

const (
	ObjectiveAttribute Objective = iota
	ObjectiveRegression
)

// ParseObjective resolves a configuration name to a scheduled objective.
// An empty name defaults to the attribute term.
func ParseObjective(name string) (Objective, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "attribute":
		return ObjectiveAttribute, nil
	case "regression":
		return ObjectiveRegression, nil
	default:
		return 0, fmt.Errorf("loss: unsupported scheduled objective %q", name)
	}
}

func (o Objective) String() string {
	switch o {
	case ObjectiveAttribute:
		return "attribute"
	case ObjectiveRegression:
		return "regression"
	default:
		return fmt.Sprintf("Objective(%d)", int(o))
	}
}

// Breakdown reports the terms of one composed loss evaluation. Reported
// carries the zero-clamped regression loss used for monitoring and early
// stopping; Optimized and Attr are the terms that actually receive
// gradient, and Total is their weighted sum.
type Breakdown struct {
	Reported  float64
	Optimized float64
	Attr      float64
	Weight    float64
	Total     float64
}

// Composer evaluates the full pretraining objective: a regression
// criterion over importance predictions plus the cosine reconstruction
// loss over masked attributes, one of them scaled by the schedule.
type Composer struct {
	reported  Criterion
	optimized Criterion
	schedule  Schedule
	scheduled Objective
}

func NewComposer(reported, optimized Criterion, schedule Schedule, scheduled Objective) *Composer {
	return &Composer{
		reported:  reported,
		optimized: optimized,
		schedule:  schedule,
		scheduled: scheduled,
	}
}

// Schedule exposes the composer's schedule for logging.
func (c *Composer) Schedule() Schedule { return c.schedule }

// PerNode reports the monitored criterion separately for every node.
func (c *Composer) PerNode(pred *tensor.Dense, target []float64) ([]float64, error) {
	return c.reported.PerRow(pred, target)
}

// Compose evaluates both loss terms at the given step, seeding their
// gradients on the tape. attrPred and attrTarget may be nil or empty
// when no nodes were masked; the attribute term then contributes zero.
func (c *Composer) Compose(t *tensor.Tape, pred *tensor.Dense, target []float64, attrPred, attrTarget *tensor.Dense, step, totalSteps int) (Breakdown, error) {
	w := c.schedule.Weight(step, totalSteps)
	regScale, attrScale := 1.0, w
	if c.scheduled == ObjectiveRegression {
		regScale, attrScale = w, 1.0
	}

	reported, err := c.reported.Value(pred, target)
	if err != nil {
		return Breakdown{}, err
	}
	optimized, err := c.optimized.Backprop(t, pred, target, regScale)
	if err != nil {
		return Breakdown{}, err
	}

	attr := 0.0
	if attrPred != nil && attrPred.Rows > 0 {
		attr, err = Cosine(t, attrPred, attrTarget, attrScale)
		if err != nil {
			return Breakdown{}, err
		}
	}

	return Breakdown{
		Reported:  reported,
		Optimized: optimized,
		Attr:      attr,
		Weight:    w,
		Total:     regScale*optimized + attrScale*attr,
	}, nil
}
