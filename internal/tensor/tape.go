package tensor

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Tape records backward closures while differentiable operations execute
// and replays them in reverse on Backward. A non-recording tape computes
// forward values only and is used for evaluation passes.
type Tape struct {
	recording bool
	steps     []func()
}

// NewTape returns a tape. When recording is false, operations skip
// gradient bookkeeping entirely.
func NewTape(recording bool) *Tape {
	return &Tape{recording: recording}
}

// Recording reports whether gradients are being tracked.
func (t *Tape) Recording() bool {
	return t.recording
}

// Record appends a backward step. Loss functions use this to seed the
// gradient of their inputs; the step runs before any earlier operation's
// backward step.
func (t *Tape) Record(step func()) {
	if t.recording {
		t.steps = append(t.steps, step)
	}
}

// Backward runs all recorded steps in reverse order, accumulating
// gradients into every participating matrix.
func (t *Tape) Backward() {
	for i := len(t.steps) - 1; i >= 0; i-- {
		t.steps[i]()
	}
}

// MatMul returns a·b.
func (t *Tape) MatMul(a, b *Dense) *Dense {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("tensor: matmul %dx%d · %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := NewDense(a.Rows, b.Cols)
	if a.Rows > 0 && b.Cols > 0 && a.Cols > 0 {
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, a.general(), b.general(), 0, out.general())
	}
	t.Record(func() {
		if a.Rows == 0 || b.Cols == 0 {
			return
		}
		if a.Cols > 0 {
			// dA += dC·Bᵀ ; dB += Aᵀ·dC
			blas64.Gemm(blas.NoTrans, blas.Trans, 1, out.gradGeneral(), b.general(), 1, a.gradGeneral())
			blas64.Gemm(blas.Trans, blas.NoTrans, 1, a.general(), out.gradGeneral(), 1, b.gradGeneral())
		}
	})
	return out
}

// MatMulT returns a·bᵀ.
func (t *Tape) MatMulT(a, b *Dense) *Dense {
	if a.Cols != b.Cols {
		panic(fmt.Sprintf("tensor: matmulT %dx%d · (%dx%d)ᵀ", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := NewDense(a.Rows, b.Rows)
	if a.Rows > 0 && b.Rows > 0 && a.Cols > 0 {
		blas64.Gemm(blas.NoTrans, blas.Trans, 1, a.general(), b.general(), 0, out.general())
	}
	t.Record(func() {
		if a.Rows == 0 || b.Rows == 0 || a.Cols == 0 {
			return
		}
		// dA += dC·B ; dB += dCᵀ·A
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, out.gradGeneral(), b.general(), 1, a.gradGeneral())
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, out.gradGeneral(), a.general(), 1, b.gradGeneral())
	})
	return out
}

// MatMulAT returns aᵀ·b.
func (t *Tape) MatMulAT(a, b *Dense) *Dense {
	if a.Rows != b.Rows {
		panic(fmt.Sprintf("tensor: matmulAT (%dx%d)ᵀ · %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := NewDense(a.Cols, b.Cols)
	if a.Cols > 0 && b.Cols > 0 && a.Rows > 0 {
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, a.general(), b.general(), 0, out.general())
	}
	t.Record(func() {
		if a.Rows == 0 || a.Cols == 0 || b.Cols == 0 {
			return
		}
		// dA += B·dCᵀ ; dB += A·dC
		blas64.Gemm(blas.NoTrans, blas.Trans, 1, b.general(), out.gradGeneral(), 1, a.gradGeneral())
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, a.general(), out.gradGeneral(), 1, b.gradGeneral())
	})
	return out
}

// Add returns a + b for identically shaped matrices.
func (t *Tape) Add(a, b *Dense) *Dense {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("tensor: add %dx%d + %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := NewDense(a.Rows, a.Cols)
	copy(out.Data, a.Data)
	if len(out.Data) > 0 {
		vek.Add_Inplace(out.Data, b.Data)
	}
	t.Record(func() {
		if len(out.Grad) == 0 {
			return
		}
		vek.Add_Inplace(a.Grad, out.Grad)
		vek.Add_Inplace(b.Grad, out.Grad)
	})
	return out
}

// AddBias adds a 1×C bias row to every row of a.
func (t *Tape) AddBias(a, bias *Dense) *Dense {
	if bias.Rows != 1 || bias.Cols != a.Cols {
		panic(fmt.Sprintf("tensor: bias %dx%d against %dx%d", bias.Rows, bias.Cols, a.Rows, a.Cols))
	}
	out := NewDense(a.Rows, a.Cols)
	copy(out.Data, a.Data)
	for i := 0; i < out.Rows; i++ {
		vek.Add_Inplace(out.Row(i), bias.Data)
	}
	t.Record(func() {
		if len(a.Grad) > 0 {
			vek.Add_Inplace(a.Grad, out.Grad)
		}
		for i := 0; i < out.Rows; i++ {
			vek.Add_Inplace(bias.Grad, out.GradRow(i))
		}
	})
	return out
}

// Scale returns s·a.
func (t *Tape) Scale(a *Dense, s float64) *Dense {
	out := NewDense(a.Rows, a.Cols)
	for i, v := range a.Data {
		out.Data[i] = v * s
	}
	t.Record(func() {
		for i, g := range out.Grad {
			a.Grad[i] += s * g
		}
	})
	return out
}

// ScaleRows multiplies each row of a by the matching factor. Factors are
// treated as constants; no gradient flows into them.
func (t *Tape) ScaleRows(a *Dense, factors []float64) *Dense {
	if len(factors) != a.Rows {
		panic(fmt.Sprintf("tensor: %d row factors against %d rows", len(factors), a.Rows))
	}
	out := NewDense(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		f := factors[i]
		row, src := out.Row(i), a.Row(i)
		for j, v := range src {
			row[j] = v * f
		}
	}
	t.Record(func() {
		for i := 0; i < a.Rows; i++ {
			f := factors[i]
			dst, src := a.GradRow(i), out.GradRow(i)
			for j, g := range src {
				dst[j] += f * g
			}
		}
	})
	return out
}

// ReLU applies max(0, x) elementwise.
func (t *Tape) ReLU(a *Dense) *Dense {
	out := NewDense(a.Rows, a.Cols)
	for i, v := range a.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	t.Record(func() {
		for i, v := range a.Data {
			if v > 0 {
				a.Grad[i] += out.Grad[i]
			}
		}
	})
	return out
}

// LeakyReLU applies x for x > 0 and slope·x otherwise.
func (t *Tape) LeakyReLU(a *Dense, slope float64) *Dense {
	out := NewDense(a.Rows, a.Cols)
	for i, v := range a.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = slope * v
		}
	}
	t.Record(func() {
		for i, v := range a.Data {
			if v > 0 {
				a.Grad[i] += out.Grad[i]
			} else {
				a.Grad[i] += slope * out.Grad[i]
			}
		}
	})
	return out
}

// Tanh applies the hyperbolic tangent elementwise.
func (t *Tape) Tanh(a *Dense) *Dense {
	out := NewDense(a.Rows, a.Cols)
	for i, v := range a.Data {
		out.Data[i] = math.Tanh(v)
	}
	t.Record(func() {
		for i, y := range out.Data {
			a.Grad[i] += (1 - y*y) * out.Grad[i]
		}
	})
	return out
}

// SoftmaxRows applies a numerically stable softmax independently to each
// row of a.
func (t *Tape) SoftmaxRows(a *Dense) *Dense {
	out := NewDense(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		src, dst := a.Row(i), out.Row(i)
		if len(src) == 0 {
			continue
		}
		max := src[0]
		for _, v := range src[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for j, v := range src {
			e := math.Exp(v - max)
			dst[j] = e
			sum += e
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	t.Record(func() {
		for i := 0; i < a.Rows; i++ {
			y, dy, dx := out.Row(i), out.GradRow(i), a.GradRow(i)
			if len(y) == 0 {
				continue
			}
			dot := vek.Dot(dy, y)
			for j := range y {
				dx[j] += y[j] * (dy[j] - dot)
			}
		}
	})
	return out
}

// GatherRows selects the listed rows of a into a new matrix; backward
// scatter-adds gradients into the source rows.
func (t *Tape) GatherRows(a *Dense, idx []int) *Dense {
	out := NewDense(len(idx), a.Cols)
	for k, i := range idx {
		copy(out.Row(k), a.Row(i))
	}
	t.Record(func() {
		for k, i := range idx {
			vek.Add_Inplace(a.GradRow(i), out.GradRow(k))
		}
	})
	return out
}

// RepeatRow broadcasts a 1×C row n times.
func (t *Tape) RepeatRow(a *Dense, n int) *Dense {
	if a.Rows != 1 {
		panic(fmt.Sprintf("tensor: repeat expects a single row, got %dx%d", a.Rows, a.Cols))
	}
	out := NewDense(n, a.Cols)
	for i := 0; i < n; i++ {
		copy(out.Row(i), a.Data)
	}
	t.Record(func() {
		for i := 0; i < n; i++ {
			vek.Add_Inplace(a.Grad, out.GradRow(i))
		}
	})
	return out
}

// SegmentSum adds each row i of a into output row seg[i]. It is the
// scatter side of message passing: rows are edge messages, segments are
// destination nodes.
func (t *Tape) SegmentSum(a *Dense, seg []int, segments int) *Dense {
	if len(seg) != a.Rows {
		panic(fmt.Sprintf("tensor: %d segment ids against %d rows", len(seg), a.Rows))
	}
	out := NewDense(segments, a.Cols)
	for i, s := range seg {
		vek.Add_Inplace(out.Row(s), a.Row(i))
	}
	t.Record(func() {
		for i, s := range seg {
			vek.Add_Inplace(a.GradRow(i), out.GradRow(s))
		}
	})
	return out
}

// SegmentMean averages the rows of a belonging to each segment. Empty
// segments yield zero rows.
func (t *Tape) SegmentMean(a *Dense, seg []int, segments int) *Dense {
	if len(seg) != a.Rows {
		panic(fmt.Sprintf("tensor: %d segment ids against %d rows", len(seg), a.Rows))
	}
	counts := make([]float64, segments)
	for _, s := range seg {
		counts[s]++
	}
	out := NewDense(segments, a.Cols)
	for i, s := range seg {
		vek.Add_Inplace(out.Row(s), a.Row(i))
	}
	for s := 0; s < segments; s++ {
		if counts[s] > 1 {
			row := out.Row(s)
			inv := 1 / counts[s]
			for j := range row {
				row[j] *= inv
			}
		}
	}
	t.Record(func() {
		for i, s := range seg {
			inv := 1.0
			if counts[s] > 0 {
				inv = 1 / counts[s]
			}
			dst, src := a.GradRow(i), out.GradRow(s)
			for j, g := range src {
				dst[j] += inv * g
			}
		}
	})
	return out
}

// Concat stacks parts vertically. All parts must share a column count.
func (t *Tape) Concat(parts ...*Dense) *Dense {
	if len(parts) == 0 {
		return NewDense(0, 0)
	}
	cols := parts[0].Cols
	rows := 0
	for _, p := range parts {
		if p.Cols != cols {
			panic(fmt.Sprintf("tensor: concat column mismatch %d vs %d", p.Cols, cols))
		}
		rows += p.Rows
	}
	out := NewDense(rows, cols)
	at := 0
	for _, p := range parts {
		copy(out.Data[at*cols:], p.Data)
		at += p.Rows
	}
	t.Record(func() {
		at := 0
		for _, p := range parts {
			if len(p.Grad) > 0 {
				vek.Add_Inplace(p.Grad, out.Grad[at*cols:(at+p.Rows)*cols])
			}
			at += p.Rows
		}
	})
	return out
}
