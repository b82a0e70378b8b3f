package store

import (
	"context"
	"sort"
	"sync"

	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// MemoryColumnarStore is an in-memory ColumnarStore used by tests and
// by any deployment happy to lose data on restart (local dev only).
type MemoryColumnarStore struct {
	mu          sync.Mutex
	spans       map[string]types.Span // key: projectID+"/"+spanID
	events      map[string]types.Event
	costs       map[string]types.ModelCosts
	runMessages map[string][]types.SignalRunMessage // key: projectID+"/"+runID
	runs        map[string]types.SignalRun
	jobSucceeded map[string]int
	jobFailed    map[string]int
}

// NewMemoryColumnarStore constructs an empty store.
func NewMemoryColumnarStore() *MemoryColumnarStore {
	return &MemoryColumnarStore{
		spans:        make(map[string]types.Span),
		events:       make(map[string]types.Event),
		costs:        make(map[string]types.ModelCosts),
		runMessages:  make(map[string][]types.SignalRunMessage),
		runs:         make(map[string]types.SignalRun),
		jobSucceeded: make(map[string]int),
		jobFailed:    make(map[string]int),
	}
}

func spanKey(projectID, spanID string) string { return projectID + "/" + spanID }
func runKey(projectID, runID string) string   { return projectID + "/" + runID }

// InsertSpans upserts by (project_id, span_id): conflicts overwrite
// every field atomically.
func (s *MemoryColumnarStore) InsertSpans(ctx context.Context, spans []types.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range spans {
		s.spans[spanKey(sp.ProjectID, sp.SpanID)] = sp
	}
	return nil
}

func (s *MemoryColumnarStore) InsertEvents(ctx context.Context, events []types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		// Idempotent on event id: a redelivered event write
		// must not produce a second row.
		s.events[e.ID] = e
	}
	return nil
}

func (s *MemoryColumnarStore) GetModelCost(ctx context.Context, key string) (types.ModelCosts, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	costs, ok := s.costs[key]
	return costs, ok, nil
}

// SeedModelCost is a test helper for populating pricing data.
func (s *MemoryColumnarStore) SeedModelCost(key string, costs types.ModelCosts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs[key] = costs
}

func (s *MemoryColumnarStore) GetSignalRunMessages(ctx context.Context, projectID, runID string) ([]types.SignalRunMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append([]types.SignalRunMessage(nil), s.runMessages[runKey(projectID, runID)]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Time.Before(msgs[j].Time) })
	return msgs, nil
}

func (s *MemoryColumnarStore) InsertSignalRunMessages(ctx context.Context, messages []types.SignalRunMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		key := runKey(m.ProjectID, m.RunID)
		s.runMessages[key] = append(s.runMessages[key], m)
	}
	return nil
}

func (s *MemoryColumnarStore) DeleteSignalRunMessages(ctx context.Context, projectID string, runIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range runIDs {
		delete(s.runMessages, runKey(projectID, id))
	}
	return nil
}

func (s *MemoryColumnarStore) InsertSignalRuns(ctx context.Context, runs []types.SignalRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range runs {
		s.runs[runKey(r.ProjectID, r.RunID)] = r
	}
	return nil
}

func (s *MemoryColumnarStore) UpdateJobStats(ctx context.Context, jobID string, succeededDelta, failedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobSucceeded[jobID] += succeededDelta
	s.jobFailed[jobID] += failedDelta
	return nil
}

// JobStats is a test helper exposing the accumulated counters.
func (s *MemoryColumnarStore) JobStats(jobID string) (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobSucceeded[jobID], s.jobFailed[jobID]
}

// GetRun is a test helper.
func (s *MemoryColumnarStore) GetRun(projectID, runID string) (types.SignalRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runKey(projectID, runID)]
	return r, ok
}

func (s *MemoryColumnarStore) GetTraceSpans(ctx context.Context, projectID, traceID string) ([]types.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Span
	for _, sp := range s.spans {
		if sp.ProjectID == projectID && sp.TraceID == traceID {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// MemoryRelationalStore is an in-memory RelationalStore for tests.
type MemoryRelationalStore struct {
	mu      sync.Mutex
	configs map[string]types.WorkspaceConfig
}

// NewMemoryRelationalStore constructs an empty store.
func NewMemoryRelationalStore() *MemoryRelationalStore {
	return &MemoryRelationalStore{configs: make(map[string]types.WorkspaceConfig)}
}

// SetWorkspaceConfig is a test/bootstrap helper.
func (s *MemoryRelationalStore) SetWorkspaceConfig(cfg types.WorkspaceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ProjectID] = cfg
}

func (s *MemoryRelationalStore) GetWorkspaceConfig(ctx context.Context, projectID string) (types.WorkspaceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[projectID]
	if !ok {
		return types.WorkspaceConfig{}, ErrWorkspaceConfigNotFound
	}
	return cfg, nil
}
