package fetch

import (
	"context"

	"github.com/pkg/errors"
)

// Error classes surfaced by fetchers. Origin rejections carry actionable
// remediation text and abort initialization; plain network errors on node
// payloads are recoverable and retried by the scheduler.
var (
	ErrNetwork        = errors.New("network fetch failed")
	ErrOriginRejected = errors.New("the serving origin rejected the request")
	ErrNotFound       = errors.New("resource not found")
)

// Fetcher returns raw bytes for a locator relative key, optionally limited to
// a byte range. Implementations exist for HTTP sources, local files and in
// memory datasets.
type Fetcher interface {
	// FetchAll returns the whole resource
	FetchAll(ctx context.Context, key string) ([]byte, error)
	// FetchRange returns length bytes starting at offset
	FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Close()
}
