// Package sampler drives a dial.Engine from a polled line source.
//
// The loop is written once against three capabilities (a line source, a
// clock, and an observer) so the same decoding runs whether lines are read
// directly or through a message-passing proxy.
package sampler

import (
	"context"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/line"
)

// LineSource returns the current contact states. Reads may block and may fail.
type LineSource interface {
	ReadLines(ctx context.Context) (dial.Snapshot, error)
}

// Clock supplies the current time and suspends the loop.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Direct adapts a line.Reader for use on the caller's goroutine.
func Direct(r line.Reader) LineSource {
	return direct{r: r}
}

type direct struct {
	r line.Reader
}

func (d direct) ReadLines(ctx context.Context) (dial.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return dial.Snapshot{}, err
	}
	return d.r.Read()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
