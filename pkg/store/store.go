// Package store declares the columnar- and relational-store contracts
// as external collaborators specified by required operations only:
// this package is interfaces plus in-memory test implementations,
// never a generated ORM — see DESIGN.md for why an ent-based store
// could not be reused as-is.
package store

import (
	"context"
	"errors"

	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// ErrWorkspaceConfigNotFound is returned by RelationalStore.GetWorkspaceConfig
// when no row exists for the given project.
var ErrWorkspaceConfigNotFound = errors.New("store: workspace config not found")

// ColumnarStore is the analytical store holding spans, events, and
// signal run state (touched tables).
type ColumnarStore interface {
	InsertSpans(ctx context.Context, spans []types.Span) error
	InsertEvents(ctx context.Context, events []types.Event) error

	// GetModelCost looks up a ModelCosts object by lookup key;
	// found=false is a store miss, not an error, and must not be
	// negatively cached by the caller.
	GetModelCost(ctx context.Context, key string) (costs types.ModelCosts, found bool, err error)

	GetSignalRunMessages(ctx context.Context, projectID, runID string) ([]types.SignalRunMessage, error)
	InsertSignalRunMessages(ctx context.Context, messages []types.SignalRunMessage) error
	DeleteSignalRunMessages(ctx context.Context, projectID string, runIDs []string) error

	InsertSignalRuns(ctx context.Context, runs []types.SignalRun) error
	UpdateJobStats(ctx context.Context, jobID string, succeededDelta, failedDelta int) error

	// GetTraceSpans returns every span of traceID ordered by StartTime,
	// used both for the step-1 trace skeleton and for resolving
	// get_full_span_info tool calls.
	GetTraceSpans(ctx context.Context, projectID, traceID string) ([]types.Span, error)
}

// RelationalStore is the one relational table this core owns directly
// (excludes project/user/API-key relational metadata; this is
// the Write Router's own WorkspaceConfig contract).
type RelationalStore interface {
	GetWorkspaceConfig(ctx context.Context, projectID string) (types.WorkspaceConfig, error)
}
