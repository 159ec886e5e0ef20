package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

// ErrAlreadyRunning is returned by Start, Reset and ResetCycle while a
// loop is active on the engine.
var ErrAlreadyRunning = errors.New("sampler: loop already running")

// Defaults for Options.
const (
	DefaultPoll           = time.Millisecond
	DefaultSignalThrottle = 33 * time.Millisecond
)

// Options configures a Loop. Zero values use the defaults.
type Options struct {
	Poll           time.Duration
	SignalThrottle time.Duration
	Logger         *slog.Logger
}

// Loop polls a LineSource, confirms the pulse contact by re-reading after
// the debounce delay, and feeds confirmed samples to the engine.
type Loop struct {
	engine *dial.Engine
	src    LineSource
	clock  Clock
	obs    Observer
	poll   time.Duration
	every  time.Duration
	logger *slog.Logger

	debounce atomic.Int32
	running  atomic.Bool

	mu   sync.Mutex
	done chan struct{}

	// owned by the loop goroutine
	lastSignal time.Time
}

// New creates a stopped loop. The loop takes ownership of engine: callers
// must not touch it while the loop runs.
func New(engine *dial.Engine, src LineSource, clock Clock, obs Observer, opts Options) *Loop {
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.SignalThrottle <= 0 {
		opts.SignalThrottle = DefaultSignalThrottle
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}
	l := &Loop{
		engine: engine,
		src:    src,
		clock:  clock,
		obs:    obs,
		poll:   opts.Poll,
		every:  opts.SignalThrottle,
		logger: opts.Logger,
	}
	l.debounce.Store(int32(engine.Debounce()))
	return l
}

// SetDebounce changes the debounce delay. It is clamped like
// dial.Engine.SetDebounce and applies from the next iteration.
func (l *Loop) SetDebounce(ms int) {
	l.debounce.Store(int32(dial.ClampDebounce(ms)))
}

// Debounce returns the most recently requested debounce delay.
func (l *Loop) Debounce() int {
	return int(l.debounce.Load())
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Start reads a fresh snapshot, initializes the engine with it and starts
// polling in a new goroutine. Buffered edges from a previous Stop are kept.
// An open pulse contact is reported as an advisory; the loop still starts.
func (l *Loop) Start(ctx context.Context) (dial.Advisory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return dial.AdvisoryNone, ErrAlreadyRunning
	}
	if l.done != nil {
		// Let a stopped loop finish its in-flight suspension.
		<-l.done
	}

	snap, err := l.src.ReadLines(ctx)
	if err != nil {
		return dial.AdvisoryNone, fmt.Errorf("read initial lines: %w", err)
	}
	l.engine.SetDebounce(l.Debounce())
	adv := l.engine.Initialize(snap)
	if adv != dial.AdvisoryNone {
		l.logger.Warn("pulse contact open at start; waiting for first closure", "advisory", adv)
	}

	l.running.Store(true)
	l.lastSignal = time.Time{}
	done := make(chan struct{})
	l.done = done
	go l.run(ctx, done)

	l.logger.Info("sampling started", "poll", l.poll, "debounce_ms", l.Debounce())
	return adv, nil
}

// Stop asks the loop to exit after its current suspension. Engine state is
// kept so a later Start resumes the capture.
func (l *Loop) Stop() {
	if l.running.Swap(false) {
		l.logger.Info("sampling stopped")
	}
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset clears all engine state including line levels. Use on disconnect.
func (l *Loop) Reset() error {
	return l.withEngine(func(e *dial.Engine) { e.ResetAll() })
}

// ResetCycle discards buffered edges, keeping line levels.
func (l *Loop) ResetCycle() error {
	return l.withEngine(func(e *dial.Engine) { e.ResetCycle() })
}

func (l *Loop) withEngine(fn func(*dial.Engine)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running.Load() {
		return ErrAlreadyRunning
	}
	if l.done != nil {
		<-l.done
	}
	fn(l.engine)
	return nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for l.running.Load() {
		err := l.iterate(ctx)
		if err == nil {
			continue
		}
		l.running.Store(false)
		if ctx.Err() != nil {
			l.logger.Info("sampling cancelled")
			return
		}
		l.logger.Error("line read failed; sampling stopped", "error", err)
		l.obs.OnError(err)
		return
	}
}

// iterate runs one read, confirm, process, wait step.
func (l *Loop) iterate(ctx context.Context) error {
	l.engine.SetDebounce(l.Debounce())

	raw, err := l.src.ReadLines(ctx)
	if err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	l.signal(raw)

	if ms := l.engine.Debounce(); ms > 0 {
		if err := l.clock.Sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return err
		}
		confirm, err := l.src.ReadLines(ctx)
		if err != nil {
			return fmt.Errorf("confirm lines: %w", err)
		}
		if confirm.Primary != raw.Primary {
			l.logger.Debug("debounce mismatch; sample discarded")
			return l.clock.Sleep(ctx, l.poll)
		}
	}

	if c := l.engine.ProcessSample(raw, l.clock.Now()).Cycle; c != nil {
		l.logger.Info("cycle complete",
			"digit", c.Digit,
			"pulses", c.PulseCount,
			"hz", c.FrequencyHz,
			"closed_pct", c.ClosedDutyPercent,
			"warnings", c.Warnings)
		l.obs.OnCycle(c)
	}
	return l.clock.Sleep(ctx, l.poll)
}

func (l *Loop) signal(s dial.Snapshot) {
	now := l.clock.Now()
	if !l.lastSignal.IsZero() && now.Sub(l.lastSignal) < l.every {
		return
	}
	l.lastSignal = now
	l.obs.OnSignal(s)
}
