package engine

import (
	"context"
	"time"
)

// Clock abstracts time for the engine and scheduler so backoff and
// delay behavior is testable without real waiting.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is done.
	Sleep(ctx context.Context, d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
