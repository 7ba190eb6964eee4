package thermo

import (
	"context"
	"time"
)

// Delay abstracts datasheet wait times so conversion sleeps stay
// cancellable and tests can observe requested durations.
type Delay interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// StdDelay sleeps on a timer, returning early with the context error on
// cancellation.
type StdDelay struct{}

func (StdDelay) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
