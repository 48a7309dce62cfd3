// Package pretrain implements the self-supervised pretraining core: the
// node masking policy, the momentum teacher-student pair, the
// attention-based masked-attribute regressor, and the model that wires
// them onto a graph encoder.
package pretrain

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Mask partitions the nodes of a batch into a hidden and a visible set.
// Exactly round(N·ratio) nodes are hidden. Masks are regenerated per
// batch and never persisted.
type Mask struct {
	numNodes int
	masked   []int
	visible  []int
	hidden   []bool
}

// NewMask samples a mask over numNodes node indices uniformly without
// replacement.
func NewMask(rng *rand.Rand, numNodes int, ratio float64) (*Mask, error) {
	if numNodes < 0 {
		return nil, fmt.Errorf("pretrain: negative node count %d", numNodes)
	}
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("pretrain: mask ratio %v outside [0, 1]", ratio)
	}

	count := int(math.Round(float64(numNodes) * ratio))
	perm := rng.Perm(numNodes)
	masked := append([]int(nil), perm[:count]...)
	sort.Ints(masked)

	m := &Mask{
		numNodes: numNodes,
		masked:   masked,
		visible:  make([]int, 0, numNodes-count),
		hidden:   make([]bool, numNodes),
	}
	for _, i := range masked {
		m.hidden[i] = true
	}
	for i := 0; i < numNodes; i++ {
		if !m.hidden[i] {
			m.visible = append(m.visible, i)
		}
	}
	return m, nil
}

// Masked returns the sorted hidden node indices.
func (m *Mask) Masked() []int { return m.masked }

// Visible returns the sorted visible node indices.
func (m *Mask) Visible() []int { return m.visible }

// Hidden reports whether node i is masked.
func (m *Mask) Hidden(i int) bool { return m.hidden[i] }

// Count returns the number of masked nodes.
func (m *Mask) Count() int { return len(m.masked) }

// NumNodes returns the total node count the mask was drawn over.
func (m *Mask) NumNodes() int { return m.numNodes }
