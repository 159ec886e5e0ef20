// Package dial decodes pulse-dial contact histories into per-digit measurements.
// This package has NO external dependencies (no serial, GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package dial

import "time"

// Snapshot holds the three contact states sampled at one instant.
// true means the contact is closed (signal asserted).
type Snapshot struct {
	Primary   bool // pulse contact: closed at rest, opens on each pulse
	Secondary bool // off-normal contact: open at rest, closed while dialing
	Suppress  bool // pulse-suppression contact, absent on most mechanisms
}

// Level is the stored state of one line. Unknown until the first sample.
type Level uint8

const (
	Unknown Level = iota
	Open
	Closed
)

func (l Level) String() string {
	switch l {
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

func levelOf(closed bool) Level {
	if closed {
		return Closed
	}
	return Open
}

// Levels returns the sampled state of each line.
func (s Snapshot) Levels() (primary, secondary, suppress Level) {
	return levelOf(s.Primary), levelOf(s.Secondary), levelOf(s.Suppress)
}

// Advisory is a non-fatal condition worth showing to the operator.
type Advisory string

const (
	AdvisoryNone Advisory = ""
	// AdvisoryAwaitingClosure means the pulse contact was open at start.
	// Measurement can proceed once it closes.
	AdvisoryAwaitingClosure Advisory = "AWAITING_FIRST_CLOSURE"
)

// Warning marks a measurement outside mechanical tolerance.
type Warning string

const (
	WarningDialSpeed       Warning = "DIAL_SPEED"
	WarningPulsePauseRatio Warning = "PULSE_PAUSE_RATIO"
)

// Tolerance limits for a healthy dial.
const (
	MinFrequencyHz   = 7.0
	MaxFrequencyHz   = 13.0
	MinClosedPercent = 10
	MaxClosedPercent = 70
)

// MaxDebounceMs is the upper bound accepted by SetDebounce.
const MaxDebounceMs = 10

const (
	discardAfter  = 90 * time.Millisecond
	finalizeAfter = 100 * time.Millisecond
)

// Cycle is the measurement of one dialed digit. It is never modified
// after the engine returns it.
type Cycle struct {
	CreatedAt time.Time
	// Origin is the raw time of the first primary edge. All *Ms fields
	// are relative to it.
	Origin            time.Time
	PrimaryEdgesMs    []int64
	PulseCount        int
	Digit             int
	FrequencyHz       float64
	ClosedDutyPercent int
	SecondaryOpenMs   *int64
	SuppressOnMs      *int64
	DebounceMs        int
	HasSecondary      bool
	HasSuppress       bool
	Warnings          []Warning
}

// HasWarning reports whether w was raised for this cycle.
func (c *Cycle) HasWarning(w Warning) bool {
	for _, got := range c.Warnings {
		if got == w {
			return true
		}
	}
	return false
}

// Result is what ProcessSample returns. Cycle is nil unless a dial
// cycle completed on this sample.
type Result struct {
	Cycle *Cycle
}
