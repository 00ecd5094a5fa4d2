package detect

import (
	"context"
	"time"
)

// Scheduler provides the loop's two suspension points: the next display
// refresh and the readiness retry delay.
type Scheduler interface {
	NextFrame(ctx context.Context) error
	Delay(ctx context.Context, d time.Duration) error
}

// TickerScheduler paces NextFrame to a fixed refresh rate.
type TickerScheduler struct {
	ticker *time.Ticker
}

// NewTickerScheduler ticks refreshRate times per second. Rates below 1 fall back to 60.
func NewTickerScheduler(refreshRate int) *TickerScheduler {
	if refreshRate < 1 {
		refreshRate = 60
	}
	return &TickerScheduler{ticker: time.NewTicker(time.Second / time.Duration(refreshRate))}
}

// NextFrame blocks until the next tick. A tick left over from a cycle that
// outlasted the refresh period is dropped, so it never returns early.
func (s *TickerScheduler) NextFrame(ctx context.Context) error {
	select {
	case <-s.ticker.C:
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return nil
	}
}

func (s *TickerScheduler) Delay(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *TickerScheduler) Stop() {
	s.ticker.Stop()
}
