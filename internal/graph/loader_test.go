package graph

import (
	"math/rand"
	"testing"
)

func makeBatches(t *testing.T, n int) []*Batch {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	graphs, err := GenerateCorpus(rng, SyntheticConfig{
		Graphs:     n * 2,
		MinNodes:   3,
		MaxNodes:   6,
		FeatureDim: 4,
		EdgeProb:   0.5,
	})
	if err != nil {
		t.Fatalf("generate corpus: %v", err)
	}
	batches, err := Batches(graphs, 2)
	if err != nil {
		t.Fatalf("batching failed: %v", err)
	}
	return batches
}

func drain(l Loader) int {
	count := 0
	for {
		if _, ok := l.Next(); !ok {
			return count
		}
		count++
	}
}

func TestSliceLoaderRestartable(t *testing.T) {
	batches := makeBatches(t, 3)
	l := NewSliceLoader(batches, nil)
	if l.Len() != len(batches) {
		t.Fatalf("expected len %d, got %d", len(batches), l.Len())
	}
	if got := drain(l); got != len(batches) {
		t.Fatalf("first epoch yielded %d batches, expected %d", got, len(batches))
	}
	if _, ok := l.Next(); ok {
		t.Fatalf("exhausted loader still produced a batch")
	}
	l.Reset()
	if got := drain(l); got != len(batches) {
		t.Fatalf("second epoch yielded %d batches, expected %d", got, len(batches))
	}
}

func TestSliceLoaderShuffles(t *testing.T) {
	batches := makeBatches(t, 8)
	l := NewSliceLoader(batches, rand.New(rand.NewSource(3)))
	first := make([]*Batch, 0, len(batches))
	for {
		b, ok := l.Next()
		if !ok {
			break
		}
		first = append(first, b)
	}
	// Across several reshuffles at least one epoch must change order.
	changed := false
	for attempt := 0; attempt < 5 && !changed; attempt++ {
		l.Reset()
		for i := 0; ; i++ {
			b, ok := l.Next()
			if !ok {
				break
			}
			if b != first[i] {
				changed = true
			}
		}
	}
	if !changed {
		t.Fatalf("shuffling loader never changed batch order")
	}
}

func TestPrefetchLoaderDeliversAll(t *testing.T) {
	batches := makeBatches(t, 4)
	p := Prefetch(NewSliceLoader(batches, nil), 2)
	defer p.Stop()

	if p.Len() != len(batches) {
		t.Fatalf("expected len %d, got %d", len(batches), p.Len())
	}
	seen := make(map[*Batch]bool)
	for {
		b, ok := p.Next()
		if !ok {
			break
		}
		seen[b] = true
	}
	if len(seen) != len(batches) {
		t.Fatalf("prefetch delivered %d distinct batches, expected %d", len(seen), len(batches))
	}

	p.Reset()
	if got := drain(p); got != len(batches) {
		t.Fatalf("after reset prefetch delivered %d batches, expected %d", got, len(batches))
	}
}
