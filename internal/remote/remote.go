// Package remote abstracts the durable configuration store behind the
// in-process cache. The cache is authoritative for serving traffic; the
// remote store is the durability and propagation layer, so its failures are
// reported but never block evaluation.
package remote

import (
	"context"
	"fmt"
)

// Store is the remote configuration store holding serialized snapshots.
type Store interface {
	// FetchLatest returns the raw snapshot content. A nil slice with a nil
	// error means the remote reported no change since the previous poll.
	FetchLatest(ctx context.Context) ([]byte, error)

	// Publish writes content as a new version and triggers its deployment.
	Publish(ctx context.Context, content []byte, description string) error
}

// UpstreamError reports an unreachable or failing remote service. Callers on
// the evaluation path degrade to cached behavior instead of surfacing it.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func wrapUpstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}
