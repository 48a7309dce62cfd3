package loss

import (
	"fmt"

	"metacount/internal/tensor"
)

// Decorrelate scores two projected views of the same graphs by their
// cross-correlation matrix C = viewAᵀ·viewB / rows: the mean squared
// off-diagonal entry minus the mean diagonal entry. Minimizing it aligns
// matching projection channels while decorrelating distinct ones. The
// gradient, scaled by scale, flows into both views through the tape.
func Decorrelate(t *tensor.Tape, viewA, viewB *tensor.Dense, scale float64) (float64, error) {
	if !viewA.SameShape(viewB) {
		return 0, fmt.Errorf("loss: view shapes %dx%d and %dx%d differ", viewA.Rows, viewA.Cols, viewB.Rows, viewB.Cols)
	}
	if viewA.Rows == 0 || viewA.Cols == 0 {
		return 0, fmt.Errorf("loss: decorrelation requires a non-empty view, got %dx%d", viewA.Rows, viewA.Cols)
	}

	p := viewA.Cols
	c := t.Scale(t.MatMulAT(viewA, viewB), 1/float64(viewA.Rows))

	diag, off := 0.0, 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			v := c.Data[i*p+j]
			if i == j {
				diag += v
			} else {
				off += v * v
			}
		}
	}
	value := -diag / float64(p)
	if p > 1 {
		value += off / float64(p*(p-1))
	}

	t.Record(func() {
		diagStep := scale / float64(p)
		offStep := 0.0
		if p > 1 {
			offStep = 2 * scale / float64(p*(p-1))
		}
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				if i == j {
					c.Grad[i*p+i] -= diagStep
				} else {
					c.Grad[i*p+j] += offStep * c.Data[i*p+j]
				}
			}
		}
	})
	return value, nil
}
