// Package tensor provides dense float64 matrices and reverse-mode
// automatic differentiation recorded on an explicit tape. All shapes are
// two-dimensional and row-major; vectors are 1×C or N×1 matrices.
package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas/blas64"
)

// Dense is a row-major matrix. Grad accumulates the gradient for Data and
// always has the same length. Views produced by RowSlice share both
// backing slices with their parent.
type Dense struct {
	Rows, Cols int
	Data       []float64
	Grad       []float64
}

// NewDense returns a zero-initialized rows×cols matrix.
func NewDense(rows, cols int) *Dense {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("tensor: invalid shape %dx%d", rows, cols))
	}
	return &Dense{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Grad: make([]float64, rows*cols),
	}
}

// FromSlice wraps data as a rows×cols matrix. The slice is used directly
// as backing storage, not copied.
func FromSlice(rows, cols int, data []float64) *Dense {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: %dx%d needs %d values, got %d", rows, cols, rows*cols, len(data)))
	}
	return &Dense{Rows: rows, Cols: cols, Data: data, Grad: make([]float64, rows*cols)}
}

// NewRandDense returns a rows×cols matrix with entries drawn from a
// zero-mean normal distribution with the given standard deviation.
func NewRandDense(rng *rand.Rand, rows, cols int, stddev float64) *Dense {
	d := NewDense(rows, cols)
	for i := range d.Data {
		d.Data[i] = rng.NormFloat64() * stddev
	}
	return d
}

// NewGlorotDense initializes a rows×cols weight matrix with the Glorot
// scheme for a layer mapping rows inputs to cols outputs.
func NewGlorotDense(rng *rand.Rand, rows, cols int) *Dense {
	return NewRandDense(rng, rows, cols, math.Sqrt(2.0/float64(rows+cols)))
}

func (d *Dense) At(i, j int) float64 {
	return d.Data[i*d.Cols+j]
}

func (d *Dense) Set(i, j int, v float64) {
	d.Data[i*d.Cols+j] = v
}

// Row returns row i of the value matrix, sharing backing storage.
func (d *Dense) Row(i int) []float64 {
	return d.Data[i*d.Cols : (i+1)*d.Cols]
}

// GradRow returns row i of the gradient matrix, sharing backing storage.
func (d *Dense) GradRow(i int) []float64 {
	return d.Grad[i*d.Cols : (i+1)*d.Cols]
}

// RowSlice returns the half-open row range [from, to) as a view that
// shares values and gradients with d.
func (d *Dense) RowSlice(from, to int) *Dense {
	if from < 0 || to < from || to > d.Rows {
		panic(fmt.Sprintf("tensor: row slice [%d:%d) outside %d rows", from, to, d.Rows))
	}
	return &Dense{
		Rows: to - from,
		Cols: d.Cols,
		Data: d.Data[from*d.Cols : to*d.Cols],
		Grad: d.Grad[from*d.Cols : to*d.Cols],
	}
}

// Clone returns a deep copy of the values with a fresh zero gradient.
func (d *Dense) Clone() *Dense {
	out := NewDense(d.Rows, d.Cols)
	copy(out.Data, d.Data)
	return out
}

// ZeroGrad clears the accumulated gradient in place.
func (d *Dense) ZeroGrad() {
	for i := range d.Grad {
		d.Grad[i] = 0
	}
}

// SetValues copies vals into the value buffer after checking the length
// matches the matrix shape.
func (d *Dense) SetValues(vals []float64) error {
	if len(vals) != d.Rows*d.Cols {
		return fmt.Errorf("tensor: shape %dx%d expects %d values, got %d", d.Rows, d.Cols, d.Rows*d.Cols, len(vals))
	}
	copy(d.Data, vals)
	return nil
}

// SameShape reports whether d and o have identical dimensions.
func (d *Dense) SameShape(o *Dense) bool {
	return d.Rows == o.Rows && d.Cols == o.Cols
}

func (d *Dense) general() blas64.General {
	return blas64.General{Rows: d.Rows, Cols: d.Cols, Stride: d.Cols, Data: d.Data}
}

func (d *Dense) gradGeneral() blas64.General {
	return blas64.General{Rows: d.Rows, Cols: d.Cols, Stride: d.Cols, Data: d.Grad}
}

// Named pairs a parameter tensor with a stable identifier used for
// optimizer state keys and checkpoint serialization.
type Named struct {
	Name  string
	Dense *Dense
}

// GatherRowsCopy copies the listed rows of src into a new matrix outside
// of any tape. It is used for assembling loss targets from input data,
// where no gradient should flow.
func GatherRowsCopy(src *Dense, idx []int) *Dense {
	out := NewDense(len(idx), src.Cols)
	for k, i := range idx {
		copy(out.Row(k), src.Row(i))
	}
	return out
}
