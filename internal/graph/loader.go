package graph

import (
	"fmt"
	"math/rand"
	"sync"
)

// Loader produces a lazy, restartable, finite sequence of batches. Next
// returns false once the epoch is exhausted; Reset rewinds to a fresh
// epoch.
type Loader interface {
	Reset()
	Next() (*Batch, bool)
}

// Sized is implemented by loaders that know their batch count per epoch.
type Sized interface {
	Len() int
}

// SliceLoader serves pre-built batches from memory. When constructed with
// a rand source it reshuffles the order on every Reset.
type SliceLoader struct {
	batches []*Batch
	order   []int
	pos     int
	rng     *rand.Rand
}

// NewSliceLoader wraps batches in a restartable loader. A nil rng keeps
// the original order stable across epochs.
func NewSliceLoader(batches []*Batch, rng *rand.Rand) *SliceLoader {
	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}
	l := &SliceLoader{batches: batches, order: order, rng: rng}
	l.Reset()
	return l
}

func (l *SliceLoader) Reset() {
	l.pos = 0
	if l.rng != nil {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
}

func (l *SliceLoader) Next() (*Batch, bool) {
	if l.pos >= len(l.order) {
		return nil, false
	}
	b := l.batches[l.order[l.pos]]
	l.pos++
	return b, true
}

func (l *SliceLoader) Len() int { return len(l.batches) }

// Batches chunks graphs into packed batches of at most batchSize graphs.
func Batches(graphs []Graph, batchSize int) ([]*Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("graph: batch size must be positive, got %d", batchSize)
	}
	var out []*Batch
	for at := 0; at < len(graphs); at += batchSize {
		end := at + batchSize
		if end > len(graphs) {
			end = len(graphs)
		}
		b, err := Pack(graphs[at:end])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// PrefetchLoader wraps an inner loader with a bounded-buffer producer
// goroutine so batch preparation overlaps consumption. The consumer side
// still sees one ready batch at a time.
type PrefetchLoader struct {
	inner Loader
	depth int

	mu      sync.Mutex
	out     chan *Batch
	quit    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// Prefetch starts a producer goroutine keeping up to depth batches ready.
func Prefetch(inner Loader, depth int) *PrefetchLoader {
	if depth < 1 {
		depth = 1
	}
	l := &PrefetchLoader{inner: inner, depth: depth}
	l.start()
	return l
}

func (l *PrefetchLoader) start() {
	l.out = make(chan *Batch, l.depth)
	l.quit = make(chan struct{})
	l.stopped = false
	out, quit := l.out, l.quit
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(out)
		for {
			b, ok := l.inner.Next()
			if !ok {
				return
			}
			select {
			case out <- b:
			case <-quit:
				return
			}
		}
	}()
}

// Reset stops the current producer, rewinds the inner loader, and starts
// a fresh epoch.
func (l *PrefetchLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.halt()
	l.inner.Reset()
	l.start()
}

func (l *PrefetchLoader) halt() {
	if l.stopped {
		return
	}
	close(l.quit)
	l.wg.Wait()
	l.stopped = true
}

func (l *PrefetchLoader) Next() (*Batch, bool) {
	l.mu.Lock()
	out := l.out
	l.mu.Unlock()

	b, ok := <-out
	return b, ok
}

// Len reports the inner loader's length when it is known.
func (l *PrefetchLoader) Len() int {
	if s, ok := l.inner.(Sized); ok {
		return s.Len()
	}
	return 0
}

// Stop terminates the producer goroutine. The loader cannot be used
// afterwards.
func (l *PrefetchLoader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.halt()
}
