package loss

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Shape enumerates the interpolation curves a schedule can follow
// between its start and end weights.
type Shape int

const (
	ShapeConstant Shape = iota
	ShapeLinear
	ShapeLogistic
	ShapeCosine
)

// scheduleCycles is how many times a cyclical schedule restarts over a
// full run.
const scheduleCycles = 4

// logisticSteepness controls how sharply the logistic shape transitions
// around the midpoint of the run.
const logisticSteepness = 12.0

// Schedule interpolates a loss weight across training steps. Monotonic
// schedules sweep start to end once; cyclical ones restart the sweep
// scheduleCycles times.
type Schedule struct {
	shape    Shape
	cyclical bool
	start    float64
	end      float64
}

// Constant returns a schedule pinned to a single weight.
func Constant(w float64) Schedule {
	return Schedule{shape: ShapeConstant, start: w, end: w}
}

// ParseSchedule resolves a schedule specification. A bare number is a
// constant weight; otherwise the form is name$start$end where name is
// one of linear, logistic or cosine, optionally prefixed with anneal_
// (a synonym for the monotonic sweep) or cyclical_.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if w, err := strconv.ParseFloat(spec, 64); err == nil {
		return Constant(w), nil
	}

	parts := strings.Split(spec, "$")
	name := strings.ToLower(parts[0])
	cyclical := false
	name = strings.TrimPrefix(name, "anneal_")
	if trimmed := strings.TrimPrefix(name, "cyclical_"); trimmed != name {
		name = trimmed
		cyclical = true
	}

	var shape Shape
	switch name {
	case "constant":
		shape = ShapeConstant
	case "linear":
		shape = ShapeLinear
	case "logistic":
		shape = ShapeLogistic
	case "cosine":
		shape = ShapeCosine
	default:
		return Schedule{}, fmt.Errorf("loss: unsupported schedule %q", spec)
	}

	if shape == ShapeConstant {
		if len(parts) < 2 {
			return Schedule{}, fmt.Errorf("loss: schedule %q needs a weight", spec)
		}
		w, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return Schedule{}, fmt.Errorf("loss: schedule %q: %w", spec, err)
		}
		return Constant(w), nil
	}

	if len(parts) != 3 {
		return Schedule{}, fmt.Errorf("loss: schedule %q needs start and end weights", spec)
	}
	start, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Schedule{}, fmt.Errorf("loss: schedule %q: %w", spec, err)
	}
	end, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Schedule{}, fmt.Errorf("loss: schedule %q: %w", spec, err)
	}
	return Schedule{shape: shape, cyclical: cyclical, start: start, end: end}, nil
}

// Weight returns the loss weight at step of totalSteps. Steps outside
// [0, totalSteps] clamp to the boundary weights; a non-positive total
// pins the schedule to its start.
func (s Schedule) Weight(step, totalSteps int) float64 {
	if s.shape == ShapeConstant || s.start == s.end || totalSteps <= 0 {
		return s.start
	}

	var u float64
	if s.cyclical {
		cycle := float64(totalSteps) / scheduleCycles
		u = math.Mod(float64(step), cycle) / cycle
		if u < 0 {
			u += 1
		}
	} else {
		u = float64(step) / float64(totalSteps)
		if u < 0 {
			u = 0
		} else if u > 1 {
			u = 1
		}
	}

	var f float64
	switch s.shape {
	case ShapeLinear:
		f = u
	case ShapeCosine:
		f = (1 - math.Cos(math.Pi*u)) / 2
	case ShapeLogistic:
		raw := sigmoid(logisticSteepness * (u - 0.5))
		lo := sigmoid(-logisticSteepness / 2)
		hi := sigmoid(logisticSteepness / 2)
		f = (raw - lo) / (hi - lo)
	default:
		panic(fmt.Sprintf("loss: unknown schedule shape %d", int(s.shape)))
	}
	return s.start + (s.end-s.start)*f
}

func (s Schedule) String() string {
	if s.shape == ShapeConstant || s.start == s.end {
		return strconv.FormatFloat(s.start, 'g', -1, 64)
	}
	name := map[Shape]string{
		ShapeLinear:   "linear",
		ShapeLogistic: "logistic",
		ShapeCosine:   "cosine",
	}[s.shape]
	if s.cyclical {
		name = "cyclical_" + name
	}
	return fmt.Sprintf("%s$%g$%g", name, s.start, s.end)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
