package graph

import (
	"fmt"
	"math/rand"
)

// SyntheticConfig controls the random graph corpus generator used by the
// demo dataset and tests.
type SyntheticConfig struct {
	Graphs     int
	MinNodes   int
	MaxNodes   int
	FeatureDim int
	EdgeDim    int     // 0 disables edge features
	EdgeProb   float64 // per-pair link probability
}

// GenerateCorpus samples Erdős-Rényi style graphs with normal node
// features. Importance labels come from degree centrality; the per-graph
// label is the mean node degree, giving the fine-tuning stage a
// structural regression target.
func GenerateCorpus(rng *rand.Rand, cfg SyntheticConfig) ([]Graph, error) {
	if cfg.Graphs <= 0 {
		return nil, fmt.Errorf("graph: corpus size must be positive, got %d", cfg.Graphs)
	}
	if cfg.MinNodes < 1 || cfg.MaxNodes < cfg.MinNodes {
		return nil, fmt.Errorf("graph: invalid node range [%d,%d]", cfg.MinNodes, cfg.MaxNodes)
	}
	if cfg.FeatureDim < 1 {
		return nil, fmt.Errorf("graph: feature dim must be positive, got %d", cfg.FeatureDim)
	}
	if cfg.EdgeProb < 0 || cfg.EdgeProb > 1 {
		return nil, fmt.Errorf("graph: edge probability %v outside [0,1]", cfg.EdgeProb)
	}

	out := make([]Graph, 0, cfg.Graphs)
	for gi := 0; gi < cfg.Graphs; gi++ {
		n := cfg.MinNodes
		if cfg.MaxNodes > cfg.MinNodes {
			n += rng.Intn(cfg.MaxNodes - cfg.MinNodes + 1)
		}
		g := Graph{Features: make([][]float64, n)}
		for i := 0; i < n; i++ {
			row := make([]float64, cfg.FeatureDim)
			for j := range row {
				row[j] = rng.NormFloat64()
			}
			g.Features[i] = row
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Float64() >= cfg.EdgeProb {
					continue
				}
				g.Edges = append(g.Edges, [2]int{i, j}, [2]int{j, i})
				if cfg.EdgeDim > 0 {
					feat := make([]float64, cfg.EdgeDim)
					for k := range feat {
						feat[k] = rng.NormFloat64()
					}
					reverse := append([]float64(nil), feat...)
					g.EdgeFeats = append(g.EdgeFeats, feat, reverse)
				}
			}
		}
		g.Importance = DegreeCentrality(n, g.Edges)
		if n > 0 {
			g.Label = float64(len(g.Edges)) / float64(n)
		}
		out = append(out, g)
	}
	return out, nil
}

// Split partitions graphs into train/validation/test slices by fraction.
// Fractions must be positive and leave a nonempty remainder for the test
// split.
func Split(graphs []Graph, trainFrac, valFrac float64) (train, val, test []Graph, err error) {
	if trainFrac <= 0 || valFrac <= 0 || trainFrac+valFrac >= 1 {
		return nil, nil, nil, fmt.Errorf("graph: invalid split fractions %v/%v", trainFrac, valFrac)
	}
	nTrain := int(float64(len(graphs)) * trainFrac)
	nVal := int(float64(len(graphs)) * valFrac)
	if nTrain == 0 || nVal == 0 || nTrain+nVal >= len(graphs) {
		return nil, nil, nil, fmt.Errorf("graph: %d graphs are too few to split %v/%v", len(graphs), trainFrac, valFrac)
	}
	return graphs[:nTrain], graphs[nTrain : nTrain+nVal], graphs[nTrain+nVal:], nil
}
