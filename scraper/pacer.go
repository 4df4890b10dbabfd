package scraper

import (
	"context"
	"time"
)

// Clock sleeps on behalf of a Pacer. Tests swap in a fake.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer is the crawler's backpressure policy. Wait is called after every
// item fetch and after every listing page.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelay pauses for the same duration on every Wait.
type FixedDelay struct {
	Delay time.Duration
	Clock Clock
}

// NewFixedDelay returns a pacer sleeping d on the wall clock.
func NewFixedDelay(d time.Duration) *FixedDelay {
	return &FixedDelay{Delay: d, Clock: realClock{}}
}

// Wait blocks for the configured delay.
func (p *FixedDelay) Wait(ctx context.Context) error {
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	return clock.Sleep(ctx, p.Delay)
}
