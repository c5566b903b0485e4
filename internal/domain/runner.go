package domain

import "context"

// Captioner produces a caption for the image at sourceURL.
// Implementations range from a deterministic digest to a containerised model or a hosted LLM.
type Captioner interface {
	Caption(ctx context.Context, sourceURL string) (string, error)
}

// ResultStore persists job results keyed by job id.
// Results are written once and never updated in place.
type ResultStore interface {
	// Put stores the result. It is durable once it returns nil.
	Put(ctx context.Context, id string, data []byte) error

	// Get returns the result or ErrResultNotFound.
	Get(ctx context.Context, id string) ([]byte, error)

	Close() error
}
