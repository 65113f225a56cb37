package dcontext

import "context"

// DetachedContext returns a context that won't be canceled when the parent
// context is canceled. This is useful for work that should finish even
// after the install that started it has returned (e.g. the snapshot
// engine's best-effort tree-store upload, background cleanup).
//
// The detached context preserves all values from the parent context
// (logger, batch id, etc.) but removes cancellation/deadline behavior.
// Callers bound the detached work with their own timeout instead.
func DetachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
