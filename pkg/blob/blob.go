// Package blob externalizes inline media payloads found in span
// input/output (step 4): base64 or raw-byte image/document
// content parts are written to blob storage under a project-scoped
// key and replaced with a URL reference, preserving media_type
// metadata.
package blob

import (
	"context"
	"io"
)

// Store writes media payloads to project-scoped keys and returns a
// URL the enriched span can reference in place of the inline bytes.
type Store interface {
	// Put stores data under a key scoped to projectID and returns a
	// URL reference. contentType is the media_type to preserve.
	Put(ctx context.Context, projectID, key string, data io.Reader, contentType string) (url string, err error)
}
