// Package status provides a thread-safe status tracker for the dial-tester daemon.
// It is fed by the sampling loop as an observer and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

// RecentLimit is the number of cycles kept for display.
const RecentLimit = 20

// Config contains daemon configuration for display.
type Config struct {
	Driver      string
	Device      string
	Host        string
	PollMs      int64
	DebounceMs  int64
	Broker      string
	TopicPrefix string
	HTTPAddr    string
}

// Lines is the last sampled level of each contact.
type Lines struct {
	Primary   dial.Level
	Secondary dial.Level
	Suppress  dial.Level
}

// Counts accumulates decoded cycles since startup.
type Counts struct {
	Cycles          int
	Digits          [10]int // indexed by dialed digit 0..9; ten pulses count as 0
	DialSpeed       int
	PulsePauseRatio int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Lines         Lines
	Running       bool
	Debounce      int
	Advisory      dial.Advisory
	Fault         string
	FaultAt       time.Time
	LastCycle     *dial.Cycle
	Recent        []*dial.Cycle // newest first
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements the
// sampling loop's observer interface.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	recent []*dial.Cycle // oldest first, at most RecentLimit
	now    func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Debounce:  int(cfg.DebounceMs),
			Config:    cfg,
		},
		now: time.Now,
	}
}

// OnSignal records the latest line levels.
func (t *Tracker) OnSignal(s dial.Snapshot) {
	var l Lines
	l.Primary, l.Secondary, l.Suppress = s.Levels()
	t.mu.Lock()
	t.snap.Lines = l
	t.mu.Unlock()
}

// OnCycle records a decoded cycle. A cycle also clears the start advisory:
// the pulse contact has evidently closed.
func (t *Tracker) OnCycle(c *dial.Cycle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.LastCycle = c
	t.snap.Advisory = dial.AdvisoryNone
	t.snap.Counts.Cycles++
	if c.Digit >= 0 && c.Digit < len(t.snap.Counts.Digits) {
		t.snap.Counts.Digits[c.Digit]++
	}
	for _, w := range c.Warnings {
		switch w {
		case dial.WarningDialSpeed:
			t.snap.Counts.DialSpeed++
		case dial.WarningPulsePauseRatio:
			t.snap.Counts.PulsePauseRatio++
		}
	}

	if len(t.recent) == RecentLimit {
		copy(t.recent, t.recent[1:])
		t.recent = t.recent[:RecentLimit-1]
	}
	t.recent = append(t.recent, c)
}

// OnError records a loop fault. The loop has stopped when this is called.
func (t *Tracker) OnError(err error) {
	t.mu.Lock()
	t.snap.Fault = err.Error()
	t.snap.FaultAt = t.now()
	t.snap.Running = false
	t.mu.Unlock()
}

// SetRunning records whether the sampling loop is active. Starting clears
// any previous fault.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.snap.Running = running
	if running {
		t.snap.Fault = ""
		t.snap.FaultAt = time.Time{}
	}
	t.mu.Unlock()
}

// SetAdvisory records the advisory returned by the last start.
func (t *Tracker) SetAdvisory(a dial.Advisory) {
	t.mu.Lock()
	t.snap.Advisory = a
	t.mu.Unlock()
}

// SetDebounce records the effective debounce in milliseconds.
func (t *Tracker) SetDebounce(ms int) {
	t.mu.Lock()
	t.snap.Debounce = ms
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// ClearCycles forgets decoded history and counts, as after an engine reset.
func (t *Tracker) ClearCycles() {
	t.mu.Lock()
	t.snap.LastCycle = nil
	t.snap.Counts = Counts{}
	t.recent = nil
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Recent = make([]*dial.Cycle, len(t.recent))
	for i, c := range t.recent {
		s.Recent[len(t.recent)-1-i] = c
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
