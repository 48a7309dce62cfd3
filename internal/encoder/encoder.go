// Package encoder defines the graph encoder contract consumed by the
// pretraining core and a registry of reference architectures selectable
// by name.
package encoder

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"metacount/internal/graph"
	"metacount/internal/tensor"
)

var (
	ErrArchitectureExists   = errors.New("architecture already registered")
	ErrArchitectureNotFound = errors.New("architecture not found")
)

// Config describes the encoder dimensions shared by all architectures.
type Config struct {
	InputDim  int
	HiddenDim int
	Layers    int
	EdgeDim   int // 0 when batches carry no edge features
}

func (c Config) validate() error {
	if c.InputDim < 1 {
		return fmt.Errorf("encoder: input dim must be positive, got %d", c.InputDim)
	}
	if c.HiddenDim < 1 {
		return fmt.Errorf("encoder: hidden dim must be positive, got %d", c.HiddenDim)
	}
	if c.Layers < 1 {
		return fmt.Errorf("encoder: layer count must be positive, got %d", c.Layers)
	}
	if c.EdgeDim < 0 {
		return fmt.Errorf("encoder: edge dim must be non-negative, got %d", c.EdgeDim)
	}
	return nil
}

// Encoder turns a packed batch into per-node embeddings. Implementations
// must be differentiable through the tape and tolerate empty-edge graphs.
type Encoder interface {
	Encode(t *tensor.Tape, b *graph.Batch) (*tensor.Dense, error)
	Params() []tensor.Named
	Config() Config
}

// Constructor builds an encoder with freshly initialized parameters.
type Constructor func(cfg Config, rng *rand.Rand) (Encoder, error)

var architectureRegistry = struct {
	mu sync.RWMutex
	m  map[string]Constructor
}{
	m: make(map[string]Constructor),
}

func init() {
	initializeBuiltInArchitectures()
}

func initializeBuiltInArchitectures() {
	MustRegister("gin", func(cfg Config, rng *rand.Rand) (Encoder, error) {
		return NewGIN(cfg, rng)
	})
	MustRegister("gcn", func(cfg Config, rng *rand.Rand) (Encoder, error) {
		return NewGCN(cfg, rng)
	})
}

func Register(name string, ctor Constructor) error {
	if name == "" {
		return errors.New("architecture name is required")
	}
	if ctor == nil {
		return errors.New("architecture constructor is required")
	}

	architectureRegistry.mu.Lock()
	defer architectureRegistry.mu.Unlock()

	if _, exists := architectureRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrArchitectureExists, name)
	}
	architectureRegistry.m[name] = ctor
	return nil
}

func MustRegister(name string, ctor Constructor) {
	if err := Register(name, ctor); err != nil {
		panic(err)
	}
}

// New constructs the named architecture. Unknown names are a startup
// configuration error.
func New(name string, cfg Config, rng *rand.Rand) (Encoder, error) {
	architectureRegistry.mu.RLock()
	ctor, ok := architectureRegistry.m[name]
	architectureRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArchitectureNotFound, name)
	}
	return ctor(cfg, rng)
}

func List() []string {
	architectureRegistry.mu.RLock()
	defer architectureRegistry.mu.RUnlock()

	names := make([]string, 0, len(architectureRegistry.m))
	for name := range architectureRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	architectureRegistry.mu.Lock()
	architectureRegistry.m = make(map[string]Constructor)
	architectureRegistry.mu.Unlock()
	initializeBuiltInArchitectures()
}

func checkBatch(cfg Config, b *graph.Batch) error {
	if b.FeatureDim() != cfg.InputDim {
		return fmt.Errorf("encoder: batch feature dim %d, expected %d", b.FeatureDim(), cfg.InputDim)
	}
	if cfg.EdgeDim > 0 {
		if b.EdgeAttr == nil {
			return fmt.Errorf("encoder: configured for %d edge features but batch carries none", cfg.EdgeDim)
		}
		if b.EdgeAttr.Cols != cfg.EdgeDim {
			return fmt.Errorf("encoder: batch edge feature dim %d, expected %d", b.EdgeAttr.Cols, cfg.EdgeDim)
		}
	}
	return nil
}
