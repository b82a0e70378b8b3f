package blob

import (
	"context"
	"io"
)

// Noop is the Store used when no bucket is configured: it
// short-circuits without ever touching the network, so span
// enrichment degrades to leaving media payloads inline rather than
// failing. Put always fails with the unexported errNotConfigured.
type Noop struct{}

// NewNoop constructs a Store that always rejects Put calls; callers
// check for a configured store before attempting externalization
// rather than relying on this error.
func NewNoop() Noop { return Noop{} }

func (Noop) Put(ctx context.Context, projectID, key string, data io.Reader, contentType string) (string, error) {
	return "", errNotConfigured
}

var errNotConfigured = noopError("blob: no store configured")

type noopError string

func (e noopError) Error() string { return string(e) }
