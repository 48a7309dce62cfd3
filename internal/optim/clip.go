package optim

import (
	"math"

	"github.com/viterin/vek"

	"metacount/internal/tensor"
)

// GradNorm returns the global L2 norm across all parameter gradients.
func GradNorm(params []tensor.Named) float64 {
	sum := 0.0
	for _, p := range params {
		if len(p.Dense.Grad) > 0 {
			sum += vek.Dot(p.Dense.Grad, p.Dense.Grad)
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales all gradients in place so their global L2 norm
// does not exceed maxNorm, returning the pre-clip norm. A non-positive
// maxNorm disables clipping.
func ClipGradNorm(params []tensor.Named, maxNorm float64) float64 {
	norm := GradNorm(params)
	if maxNorm <= 0 || norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		if len(p.Dense.Grad) > 0 {
			vek.MulNumber_Inplace(p.Dense.Grad, scale)
		}
	}
	return norm
}
