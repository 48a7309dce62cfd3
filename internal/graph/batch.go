// Package graph defines the packed multi-graph batch consumed by
// encoders and the loaders that produce batches for training.
package graph

import (
	"fmt"

	"metacount/internal/tensor"
)

// Graph is a single graph prior to batching. Edges are directed pairs of
// node indices; undirected graphs list both directions. Importance is the
// per-node regression target and is derived from degree centrality when
// absent. Label is an optional per-graph regression target used by the
// fine-tuning stage.
type Graph struct {
	Features   [][]float64
	Edges      [][2]int
	EdgeFeats  [][]float64
	Importance []float64
	Label      float64
}

// Batch packs one or more graphs into a single node arena. Nodes of each
// graph occupy a contiguous row range recorded in Offsets, so per-graph
// node sets are expressible without padding.
type Batch struct {
	X        *tensor.Dense // N×F node features
	EdgeSrc  []int
	EdgeDst  []int
	EdgeAttr *tensor.Dense // E×Fe, nil when graphs carry no edge features

	GraphID     []int // node row → graph index, non-decreasing
	Offsets     []int // len NumGraphs+1; graph g owns rows [Offsets[g], Offsets[g+1])
	Importance  []float64
	GraphLabels []float64
}

// Pack concatenates graphs into one batch, offsetting edge indices into
// the shared node arena. Importance labels are computed from degree
// centrality for graphs that do not carry them.
func Pack(graphs []Graph) (*Batch, error) {
	if len(graphs) == 0 {
		return nil, fmt.Errorf("graph: pack requires at least one graph")
	}

	featDim := len(graphs[0].Features[0])
	totalNodes := 0
	totalEdges := 0
	edgeDim := 0
	for gi, g := range graphs {
		if len(g.Features) == 0 {
			return nil, fmt.Errorf("graph: graph %d has no nodes", gi)
		}
		for ni, row := range g.Features {
			if len(row) != featDim {
				return nil, fmt.Errorf("graph: graph %d node %d has %d features, expected %d", gi, ni, len(row), featDim)
			}
		}
		if g.Importance != nil && len(g.Importance) != len(g.Features) {
			return nil, fmt.Errorf("graph: graph %d has %d importance labels for %d nodes", gi, len(g.Importance), len(g.Features))
		}
		if g.EdgeFeats != nil {
			if len(g.EdgeFeats) != len(g.Edges) {
				return nil, fmt.Errorf("graph: graph %d has %d edge features for %d edges", gi, len(g.EdgeFeats), len(g.Edges))
			}
			if len(g.EdgeFeats) > 0 {
				if edgeDim == 0 {
					edgeDim = len(g.EdgeFeats[0])
				} else if len(g.EdgeFeats[0]) != edgeDim {
					return nil, fmt.Errorf("graph: graph %d edge feature dim %d, expected %d", gi, len(g.EdgeFeats[0]), edgeDim)
				}
			}
		}
		totalNodes += len(g.Features)
		totalEdges += len(g.Edges)
	}

	b := &Batch{
		X:           tensor.NewDense(totalNodes, featDim),
		EdgeSrc:     make([]int, 0, totalEdges),
		EdgeDst:     make([]int, 0, totalEdges),
		GraphID:     make([]int, totalNodes),
		Offsets:     make([]int, len(graphs)+1),
		Importance:  make([]float64, totalNodes),
		GraphLabels: make([]float64, len(graphs)),
	}
	if edgeDim > 0 {
		b.EdgeAttr = tensor.NewDense(totalEdges, edgeDim)
	}

	row := 0
	edge := 0
	for gi, g := range graphs {
		b.Offsets[gi] = row
		b.GraphLabels[gi] = g.Label
		n := len(g.Features)

		if b.EdgeAttr != nil && len(g.Edges) > 0 && g.EdgeFeats == nil {
			return nil, fmt.Errorf("graph: graph %d carries no edge features while others do", gi)
		}

		importance := g.Importance
		if importance == nil {
			importance = DegreeCentrality(n, g.Edges)
		}
		for ni := 0; ni < n; ni++ {
			copy(b.X.Row(row+ni), g.Features[ni])
			b.GraphID[row+ni] = gi
			b.Importance[row+ni] = importance[ni]
		}
		for ei, e := range g.Edges {
			if e[0] < 0 || e[0] >= n || e[1] < 0 || e[1] >= n {
				return nil, fmt.Errorf("graph: graph %d edge %d references node outside [0,%d)", gi, ei, n)
			}
			b.EdgeSrc = append(b.EdgeSrc, row+e[0])
			b.EdgeDst = append(b.EdgeDst, row+e[1])
			if b.EdgeAttr != nil {
				if len(g.EdgeFeats[ei]) != edgeDim {
					return nil, fmt.Errorf("graph: graph %d edge %d feature dim %d, expected %d", gi, ei, len(g.EdgeFeats[ei]), edgeDim)
				}
				copy(b.EdgeAttr.Row(edge), g.EdgeFeats[ei])
			}
			edge++
		}
		row += n
	}
	b.Offsets[len(graphs)] = row
	return b, nil
}

func (b *Batch) NumNodes() int  { return b.X.Rows }
func (b *Batch) NumGraphs() int { return len(b.Offsets) - 1 }
func (b *Batch) NumEdges() int  { return len(b.EdgeSrc) }

// FeatureDim returns the width of the node feature matrix.
func (b *Batch) FeatureDim() int { return b.X.Cols }

// NodeRange returns the half-open node row range owned by graph g.
func (b *Batch) NodeRange(g int) (int, int) {
	return b.Offsets[g], b.Offsets[g+1]
}

// Validate checks the packing invariants: assignment length, monotone
// offsets, and edge indices referencing valid rows.
func (b *Batch) Validate() error {
	n := b.NumNodes()
	if len(b.GraphID) != n {
		return fmt.Errorf("graph: %d assignment entries for %d nodes", len(b.GraphID), n)
	}
	if len(b.Importance) != n {
		return fmt.Errorf("graph: %d importance labels for %d nodes", len(b.Importance), n)
	}
	if len(b.Offsets) < 2 || b.Offsets[0] != 0 || b.Offsets[len(b.Offsets)-1] != n {
		return fmt.Errorf("graph: offsets do not cover the node arena")
	}
	for g := 0; g < b.NumGraphs(); g++ {
		if b.Offsets[g+1] < b.Offsets[g] {
			return fmt.Errorf("graph: offsets decrease at graph %d", g)
		}
	}
	for i := 1; i < n; i++ {
		if b.GraphID[i] < b.GraphID[i-1] {
			return fmt.Errorf("graph: assignment not sorted at node %d", i)
		}
	}
	if len(b.EdgeSrc) != len(b.EdgeDst) {
		return fmt.Errorf("graph: %d sources for %d destinations", len(b.EdgeSrc), len(b.EdgeDst))
	}
	for i := range b.EdgeSrc {
		if b.EdgeSrc[i] < 0 || b.EdgeSrc[i] >= n || b.EdgeDst[i] < 0 || b.EdgeDst[i] >= n {
			return fmt.Errorf("graph: edge %d references node outside [0,%d)", i, n)
		}
	}
	if b.EdgeAttr != nil && b.EdgeAttr.Rows != len(b.EdgeSrc) {
		return fmt.Errorf("graph: %d edge feature rows for %d edges", b.EdgeAttr.Rows, len(b.EdgeSrc))
	}
	return nil
}
