// Package database holds helpers shared by the Postgres repositories.
package database

import (
	"context"
	"time"
)

// Timeouts applied to repository calls.
const (
	QueryTimeout = 5 * time.Second
	WriteTimeout = 10 * time.Second
	// BatchTimeout covers one import batch or a routing transaction.
	BatchTimeout = 30 * time.Second
)

// QueryContext bounds a read.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(parent, QueryTimeout)
}

// WriteContext bounds a single-row write.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(parent, WriteTimeout)
}

// BatchContext bounds a multi-statement transaction.
func BatchContext(parent context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(parent, BatchTimeout)
}

// boundedContext keeps an earlier parent deadline instead of extending it.
func boundedContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
