package storage

import (
	"context"
	"sort"
	"sync"

	"metacount/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]model.Checkpoint
	runs        map[string]model.RunRecord
	lossHistory map[string][]model.LossPoint
	reports     map[string]model.EvalReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func reportKey(runID, split string) string {
	return runID + "/" + split
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string]model.Checkpoint)
	s.runs = make(map[string]model.RunRecord)
	s.lossHistory = make(map[string][]model.LossPoint)
	s.reports = make(map[string]model.EvalReport)
	return nil
}

// Reset drops everything and leaves the store ready for reuse.
func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[checkpoint.RunID] = checkpoint
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[runID]
	return checkpoint, ok, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []model.LossPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.LossPoint, len(history))
	copy(copied, history)
	s.lossHistory[runID] = copied
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]model.LossPoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.lossHistory[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LossPoint, len(history))
	copy(copied, history)
	return copied, true, nil
}

func (s *MemoryStore) SaveEvalReport(_ context.Context, report model.EvalReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[reportKey(report.RunID, report.Split)] = report
	return nil
}

func (s *MemoryStore) GetEvalReport(_ context.Context, runID, split string) (model.EvalReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[reportKey(runID, split)]
	return report, ok, nil
}
