package pretrain

import (
	"math"
	"math/rand"
	"testing"

	"metacount/internal/tensor"
)

func paramSet(rng *rand.Rand) []tensor.Named {
	return []tensor.Named{
		{Name: "w", Dense: tensor.NewRandDense(rng, 3, 4, 1)},
		{Name: "b", Dense: tensor.NewRandDense(rng, 1, 4, 1)},
	}
}

func TestPairSyncsTeacherOnConstruction(t *testing.T) {
	student := paramSet(rand.New(rand.NewSource(1)))
	teacher := paramSet(rand.New(rand.NewSource(2)))
	if _, err := NewPair(student, teacher); err != nil {
		t.Fatal(err)
	}
	for i := range student {
		for j, v := range student[i].Dense.Data {
			if teacher[i].Dense.Data[j] != v {
				t.Fatalf("teacher %s[%d] = %v, want student value %v", student[i].Name, j, teacher[i].Dense.Data[j], v)
			}
		}
	}
}

func TestPairMomentumBoundaries(t *testing.T) {
	student := paramSet(rand.New(rand.NewSource(3)))
	teacher := paramSet(rand.New(rand.NewSource(4)))
	p, err := NewPair(student, teacher)
	if err != nil {
		t.Fatal(err)
	}

	// Diverge the student after the initial sync.
	for _, s := range student {
		for i := range s.Dense.Data {
			s.Dense.Data[i] += 1.5
		}
	}
	before := make([][]float64, len(teacher))
	for i := range teacher {
		before[i] = append([]float64(nil), teacher[i].Dense.Data...)
	}

	// Momentum 1 freezes the teacher.
	if err := p.Update(1); err != nil {
		t.Fatal(err)
	}
	for i := range teacher {
		for j, v := range teacher[i].Dense.Data {
			if v != before[i][j] {
				t.Fatalf("momentum 1 moved teacher %s[%d]: %v -> %v", teacher[i].Name, j, before[i][j], v)
			}
		}
	}

	// Momentum 0 copies the student.
	if err := p.Update(0); err != nil {
		t.Fatal(err)
	}
	for i := range teacher {
		for j, v := range teacher[i].Dense.Data {
			if v != student[i].Dense.Data[j] {
				t.Fatalf("momentum 0 left teacher %s[%d] at %v, student has %v", teacher[i].Name, j, v, student[i].Dense.Data[j])
			}
		}
	}
}

func TestPairEMAInterpolates(t *testing.T) {
	student := paramSet(rand.New(rand.NewSource(5)))
	teacher := paramSet(rand.New(rand.NewSource(6)))
	p, err := NewPair(student, teacher)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range student {
		for i := range s.Dense.Data {
			s.Dense.Data[i] += 2
		}
	}
	before := append([]float64(nil), teacher[0].Dense.Data...)
	if err := p.Update(0.9); err != nil {
		t.Fatal(err)
	}
	for j, v := range teacher[0].Dense.Data {
		want := 0.9*before[j] + 0.1*student[0].Dense.Data[j]
		if math.Abs(v-want) > 1e-12 {
			t.Fatalf("teacher[%d] = %v, want %v", j, v, want)
		}
	}
}

func TestPairValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	student := paramSet(rng)

	short := student[:1]
	if _, err := NewPair(student, short); err == nil {
		t.Fatal("length mismatch should be rejected")
	}

	renamed := []tensor.Named{
		{Name: "w", Dense: tensor.NewDense(3, 4)},
		{Name: "bias", Dense: tensor.NewDense(1, 4)},
	}
	if _, err := NewPair(student, renamed); err == nil {
		t.Fatal("name mismatch should be rejected")
	}

	misshapen := []tensor.Named{
		{Name: "w", Dense: tensor.NewDense(4, 3)},
		{Name: "b", Dense: tensor.NewDense(1, 4)},
	}
	if _, err := NewPair(student, misshapen); err == nil {
		t.Fatal("shape mismatch should be rejected")
	}
}

func TestPairRejectsBadMomentum(t *testing.T) {
	student := paramSet(rand.New(rand.NewSource(8)))
	teacher := paramSet(rand.New(rand.NewSource(9)))
	p, err := NewPair(student, teacher)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Update(-0.1); err == nil {
		t.Fatal("negative momentum should be rejected")
	}
	if err := p.Update(1.1); err == nil {
		t.Fatal("momentum above 1 should be rejected")
	}
}
