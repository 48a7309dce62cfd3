package pretrain

import (
	"fmt"

	"github.com/viterin/vek"

	"metacount/internal/tensor"
)

// Pair couples a student parameter set with a structurally identical
// teacher set. The teacher is mutated only through Update and never
// receives gradients. Construction copies the student's current values
// into the teacher so both sides start identical.
type Pair struct {
	student []tensor.Named
	teacher []tensor.Named
	scratch []float64
}

// NewPair validates that both parameter sets match by name, order and
// shape, then synchronizes the teacher to the student.
func NewPair(student, teacher []tensor.Named) (*Pair, error) {
	if len(student) != len(teacher) {
		return nil, fmt.Errorf("pretrain: %d student parameters against %d teacher parameters", len(student), len(teacher))
	}
	maxLen := 0
	for i, s := range student {
		t := teacher[i]
		if s.Name != t.Name {
			return nil, fmt.Errorf("pretrain: parameter %d is %q in the student and %q in the teacher", i, s.Name, t.Name)
		}
		if !s.Dense.SameShape(t.Dense) {
			return nil, fmt.Errorf("pretrain: parameter %q is %dx%d in the student and %dx%d in the teacher",
				s.Name, s.Dense.Rows, s.Dense.Cols, t.Dense.Rows, t.Dense.Cols)
		}
		copy(t.Dense.Data, s.Dense.Data)
		if len(s.Dense.Data) > maxLen {
			maxLen = len(s.Dense.Data)
		}
	}
	return &Pair{student: student, teacher: teacher, scratch: make([]float64, maxLen)}, nil
}

// Update applies teacher ← teacher·momentum + student·(1−momentum) to
// every parameter. It must run strictly after the optimizer step it
// shadows.
func (p *Pair) Update(momentum float64) error {
	if momentum < 0 || momentum > 1 {
		return fmt.Errorf("pretrain: momentum %v outside [0, 1]", momentum)
	}
	for i, s := range p.student {
		t := p.teacher[i].Dense
		buf := p.scratch[:len(s.Dense.Data)]
		copy(buf, s.Dense.Data)
		vek.MulNumber_Inplace(buf, 1-momentum)
		vek.MulNumber_Inplace(t.Data, momentum)
		vek.Add_Inplace(t.Data, buf)
	}
	return nil
}

// Teacher returns the teacher-side parameters.
func (p *Pair) Teacher() []tensor.Named { return p.teacher }
