// Package mqtt publishes dial measurements with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "dial/tester"

// Topics returns the cycle and system topics under prefix.
func Topics(prefix string) (cycles, system string) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/cycles", prefix + "/system"
}

// Publisher publishes measurements to MQTT.
type Publisher interface {
	// PublishCycle sends a completed dial cycle to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishCycle(c *dial.Cycle) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// System event names.
const (
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
	EventFault    = "FAULT"
	EventAdvisory = "ADVISORY"
	EventOffline  = "OFFLINE"
)

// SystemEvent represents a lifecycle event (startup, shutdown, fault, advisory).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // signal name, fault text or advisory code
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// CyclePayload is the MQTT message payload for a dial cycle.
type CyclePayload struct {
	Cycle CycleInner `json:"cycle"`
}

// CycleInner contains the cycle measurements. Times are milliseconds from
// the first pulse edge.
type CycleInner struct {
	Timestamp         string   `json:"timestamp"`
	Digit             int      `json:"digit"`
	Pulses            int      `json:"pulses"`
	FrequencyHz       float64  `json:"frequency_hz"`
	ClosedDutyPercent int      `json:"closed_duty_percent"`
	EdgesMs           []int64  `json:"edges_ms"`
	SecondaryOpenMs   *int64   `json:"secondary_open_ms"`
	SuppressOnMs      *int64   `json:"suppress_on_ms"`
	DebounceMs        int      `json:"debounce_ms"`
	Warnings          []string `json:"warnings"`
}

// FormatCyclePayload creates the JSON payload for a dial cycle.
func FormatCyclePayload(c *dial.Cycle) ([]byte, error) {
	warnings := make([]string, len(c.Warnings))
	for i, w := range c.Warnings {
		warnings[i] = string(w)
	}
	edges := c.PrimaryEdgesMs
	if edges == nil {
		edges = []int64{}
	}
	payload := CyclePayload{
		Cycle: CycleInner{
			Timestamp:         c.CreatedAt.UTC().Format(time.RFC3339),
			Digit:             c.Digit,
			Pulses:            c.PulseCount,
			FrequencyHz:       c.FrequencyHz,
			ClosedDutyPercent: c.ClosedDutyPercent,
			EdgesMs:           edges,
			SecondaryOpenMs:   c.SecondaryOpenMs,
			SuppressOnMs:      c.SuppressOnMs,
			DebounceMs:        c.DebounceMs,
			Warnings:          warnings,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
