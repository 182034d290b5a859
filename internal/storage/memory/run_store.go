// Package memory provides in-process run history for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// RunStore keeps run reports in a map guarded by an RWMutex.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]lurk.RunReport
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]lurk.RunReport)}
}

// SaveRun inserts or replaces a report.
func (s *RunStore) SaveRun(_ context.Context, report lurk.RunReport) error {
	if report.ID == "" {
		return fmt.Errorf("run id is required")
	}
	report.Errors = slices.Clone(report.Errors)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[report.ID] = report
	return nil
}

// GetRun fetches a report by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (lurk.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.runs[id]
	if !ok {
		return lurk.RunReport{}, fmt.Errorf("run %s: %w", id, lurk.ErrNotFound)
	}
	report.Errors = slices.Clone(report.Errors)
	return report, nil
}

// ListRuns returns up to limit reports, newest first. A non-positive limit
// returns every report.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]lurk.RunReport, error) {
	s.mu.RLock()
	out := make([]lurk.RunReport, 0, len(s.runs))
	for _, r := range s.runs {
		r.Errors = slices.Clone(r.Errors)
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (*RunStore) Close() {}
