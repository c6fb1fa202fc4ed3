package excerpt

import "context"

// Fetcher reads a bounded prefix of an external object, used only to
// build a source excerpt when the grounding metadata carries no inline
// text. Implementations must be time-bounded; callers treat any error
// as "excerpt unavailable".
type Fetcher interface {
	Head(ctx context.Context, uri string, maxBytes int) (string, error)
}
