// Package loss provides the regression criteria, the attribute
// reconstruction loss, and the schedule-weighted composition used by the
// pretraining core, plus the view-decorrelation penalty used by the
// fine-tuning heads. Loss kinds and schedules are parsed once at setup;
// unknown names are startup errors.
package loss

import (
	"fmt"
	"math"
	"strings"

	"github.com/viterin/vek"

	"metacount/internal/tensor"
)

// Kind enumerates the supported regression criteria.
type Kind int

const (
	MAE Kind = iota
	MSE
	SmoothMAE
	Huber
)

// huberDelta is the transition point of the Huber criterion.
const huberDelta = 0.1

// leakySlope preserves gradient for slightly negative predictions in the
// optimized loss variant.
const leakySlope = 0.01

// ParseKind resolves a configuration name to a criterion kind. Names
// follow the configuration surface: MAE, MSE, SMSE, HUBER.
func ParseKind(name string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "MAE":
		return MAE, nil
	case "MSE":
		return MSE, nil
	case "SMSE":
		return SmoothMAE, nil
	case "HUBER":
		return Huber, nil
	default:
		return 0, fmt.Errorf("loss: unsupported kind %q", name)
	}
}

func (k Kind) String() string {
	switch k {
	case MAE:
		return "MAE"
	case MSE:
		return "MSE"
	case SmoothMAE:
		return "SMSE"
	case Huber:
		return "HUBER"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rectifier selects the nonlinearity applied to predictions before the
// criterion. Reported losses clamp negatives to zero; optimized losses
// leak a small gradient through them.
type Rectifier int

const (
	RectifyReLU Rectifier = iota
	RectifyLeaky
)

// Criterion is one regression loss variant, dispatched once at setup.
type Criterion struct {
	kind Kind
	rect Rectifier
}

func NewCriterion(kind Kind, rect Rectifier) Criterion {
	return Criterion{kind: kind, rect: rect}
}

func (c Criterion) Kind() Kind { return c.kind }

func (c Criterion) rectify(x float64) (value, deriv float64) {
	switch c.rect {
	case RectifyReLU:
		if x > 0 {
			return x, 1
		}
		return 0, 0
	case RectifyLeaky:
		if x > 0 {
			return x, 1
		}
		return leakySlope * x, leakySlope
	default:
		panic(fmt.Sprintf("loss: unknown rectifier %d", int(c.rect)))
	}
}

// rowLoss returns the loss and its derivative with respect to the
// rectified prediction for a single residual d = rectified − target.
func (c Criterion) rowLoss(d float64) (value, deriv float64) {
	switch c.kind {
	case MAE:
		if d >= 0 {
			return d, 1
		}
		return -d, -1
	case MSE:
		return d * d, 2 * d
	case SmoothMAE:
		if a := math.Abs(d); a < 1 {
			return 0.5 * d * d, d
		} else if d > 0 {
			return a - 0.5, 1
		} else {
			return a - 0.5, -1
		}
	case Huber:
		if a := math.Abs(d); a <= huberDelta {
			return 0.5 * d * d, d
		} else if d > 0 {
			return huberDelta * (a - 0.5*huberDelta), huberDelta
		} else {
			return huberDelta * (a - 0.5*huberDelta), -huberDelta
		}
	default:
		panic(fmt.Sprintf("loss: unknown kind %d", int(c.kind)))
	}
}

func (c Criterion) check(pred *tensor.Dense, target []float64) error {
	if pred.Cols != 1 {
		return fmt.Errorf("loss: predictions must be a column, got %dx%d", pred.Rows, pred.Cols)
	}
	if pred.Rows != len(target) {
		return fmt.Errorf("loss: %d predictions for %d targets", pred.Rows, len(target))
	}
	if pred.Rows == 0 {
		return fmt.Errorf("loss: empty prediction column")
	}
	return nil
}

// PerRow returns each row's loss contribution without touching the tape.
func (c Criterion) PerRow(pred *tensor.Dense, target []float64) ([]float64, error) {
	if err := c.check(pred, target); err != nil {
		return nil, err
	}
	out := make([]float64, pred.Rows)
	for i := range out {
		z, _ := c.rectify(pred.Data[i])
		v, _ := c.rowLoss(z - target[i])
		out[i] = v
	}
	return out, nil
}

// Value returns the mean loss without gradient tracking.
func (c Criterion) Value(pred *tensor.Dense, target []float64) (float64, error) {
	rows, err := c.PerRow(pred, target)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range rows {
		sum += v
	}
	return sum / float64(len(rows)), nil
}

// Backprop returns the mean loss and seeds scale·∂loss/∂pred on the
// tape.
func (c Criterion) Backprop(t *tensor.Tape, pred *tensor.Dense, target []float64, scale float64) (float64, error) {
	if err := c.check(pred, target); err != nil {
		return 0, err
	}
	n := pred.Rows
	sum := 0.0
	grads := make([]float64, n)
	for i := 0; i < n; i++ {
		z, dz := c.rectify(pred.Data[i])
		v, dv := c.rowLoss(z - target[i])
		sum += v
		grads[i] = dv * dz / float64(n)
	}
	t.Record(func() {
		for i, g := range grads {
			pred.Grad[i] += scale * g
		}
	})
	return sum / float64(n), nil
}

// cosineEps floors vector norms the way the reference reconstruction
// loss does, so zero rows contribute zero similarity instead of NaN.
const cosineEps = 1e-8

// Cosine returns the negative mean cosine similarity between matching
// rows of pred and target and seeds scale·∂loss/∂pred on the tape. An
// empty prediction matrix contributes zero.
func Cosine(t *tensor.Tape, pred, target *tensor.Dense, scale float64) (float64, error) {
	if !pred.SameShape(target) {
		return 0, fmt.Errorf("loss: reconstruction %dx%d against original %dx%d", pred.Rows, pred.Cols, target.Rows, target.Cols)
	}
	m := pred.Rows
	if m == 0 {
		return 0, nil
	}

	total := 0.0
	cosines := make([]float64, m)
	normsP := make([]float64, m)
	normsT := make([]float64, m)
	for i := 0; i < m; i++ {
		p, o := pred.Row(i), target.Row(i)
		np := math.Sqrt(vek.Dot(p, p))
		no := math.Sqrt(vek.Dot(o, o))
		if np < cosineEps {
			np = cosineEps
		}
		if no < cosineEps {
			no = cosineEps
		}
		cos := vek.Dot(p, o) / (np * no)
		cosines[i] = cos
		normsP[i] = np
		normsT[i] = no
		total += cos
	}

	t.Record(func() {
		inv := scale / float64(m)
		for i := 0; i < m; i++ {
			p, o := pred.Row(i), target.Row(i)
			g := pred.GradRow(i)
			np, no, cos := normsP[i], normsT[i], cosines[i]
			for j := range g {
				d := o[j]/(np*no) - cos*p[j]/(np*np)
				g[j] -= inv * d
			}
		}
	})
	return -total / float64(m), nil
}
