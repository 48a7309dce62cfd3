// Package metrics routes scalar series and progress lines from the
// training core to observers. Sinks are write-only from the core's
// perspective; nothing feeds back into training decisions.
package metrics

import (
	"log/slog"
	"sync"
)

// Sink receives scalar observations keyed by (split, metric, step) plus
// free-text progress lines.
type Sink interface {
	Scalar(split, name string, step int, value float64)
	Progress(msg string)
}

// Point is one recorded scalar observation.
type Point struct {
	Split string
	Name  string
	Step  int
	Value float64
}

// Nop discards everything.
type Nop struct{}

func (Nop) Scalar(string, string, int, float64) {}
func (Nop) Progress(string)                     {}

// Memory retains observations in order. The trainer emits from a single
// goroutine but observers may poll concurrently, so access is locked.
type Memory struct {
	mu     sync.Mutex
	points []Point
	lines  []string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Scalar(split, name string, step int, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, Point{Split: split, Name: name, Step: step, Value: value})
}

func (m *Memory) Progress(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, msg)
}

// Points returns a copy of every recorded observation.
func (m *Memory) Points() []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Point(nil), m.points...)
}

// Series returns the observations for one (split, metric) pair in
// emission order.
func (m *Memory) Series(split, name string) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Point
	for _, p := range m.points {
		if p.Split == split && p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Lines returns a copy of the progress lines.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Log forwards observations to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Scalar(split, name string, step int, value float64) {
	l.logger.Debug("metric", "split", split, "name", name, "step", step, "value", value)
}

func (l *Log) Progress(msg string) {
	l.logger.Info(msg)
}

// Multi fans every observation out to all member sinks in order.
type Multi []Sink

func (m Multi) Scalar(split, name string, step int, value float64) {
	for _, s := range m {
		s.Scalar(split, name, step, value)
	}
}

func (m Multi) Progress(msg string) {
	for _, s := range m {
		s.Progress(msg)
	}
}
