// Package dcontext provides the logging context threaded through every
// collector operation. It is deliberately small: this repository has no
// HTTP request lifecycle, so only what a batch CLI actually needs is kept.
package dcontext

import "context"

// Background returns a non-nil, empty context carrying the default logger.
// Use it as the root context for a single collector invocation.
func Background() context.Context {
	return WithLogger(context.Background(), GetLogger(context.Background()))
}
