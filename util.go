package main

import (
	"context"
	"time"
)

// withTimeout bounds one remote call. A non-positive timeout means no bound.
func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
