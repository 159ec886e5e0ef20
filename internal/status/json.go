package status

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Lines         LinesJSON  `json:"lines"`
	Running       bool       `json:"running"`
	DebounceMs    int        `json:"debounce_ms"`
	Advisory      string     `json:"advisory,omitempty"`
	Fault         *FaultJSON `json:"fault,omitempty"`
	LastCycle     *CycleJSON `json:"last_cycle"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"cycle_counts"`
	Config        ConfigJSON `json:"config"`
}

// LinesJSON reports each contact as OPEN, CLOSED or UNKNOWN.
type LinesJSON struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Suppress  string `json:"suppress"`
}

// FaultJSON describes the error that stopped the loop.
type FaultJSON struct {
	Message string `json:"message"`
	At      string `json:"at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of cycle counts. Digits maps
// "0".."9" to occurrences; digits never seen are omitted.
type CountsJSON struct {
	Cycles          int            `json:"cycles"`
	Digits          map[string]int `json:"digits"`
	DialSpeed       int            `json:"dial_speed_warnings"`
	PulsePauseRatio int            `json:"pulse_pause_ratio_warnings"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Driver      string `json:"driver"`
	Device      string `json:"device,omitempty"`
	Host        string `json:"host"`
	PollMs      int64  `json:"poll_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
}

// CycleJSON is the JSON representation of one decoded cycle. Times are
// milliseconds from the first pulse edge; absent contacts are null.
type CycleJSON struct {
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

// NewCycleJSON converts a cycle for output.
func NewCycleJSON(c *dial.Cycle) CycleJSON {
	warnings := make([]string, len(c.Warnings))
	for i, w := range c.Warnings {
		warnings[i] = string(w)
	}
	edges := c.PrimaryEdgesMs
	if edges == nil {
		edges = []int64{}
	}
	return CycleJSON{
		Timestamp:         c.CreatedAt.UTC().Format(time.RFC3339Nano),
		Digit:             c.Digit,
		Pulses:            c.PulseCount,
		FrequencyHz:       c.FrequencyHz,
		ClosedDutyPercent: c.ClosedDutyPercent,
		EdgesMs:           edges,
		SecondaryOpenMs:   c.SecondaryOpenMs,
		SuppressOnMs:      c.SuppressOnMs,
		DebounceMs:        c.DebounceMs,
		Warnings:          warnings,
	}
}

// RecentJSON converts the recent cycles of snap, newest first.
func RecentJSON(snap Snapshot) []CycleJSON {
	out := make([]CycleJSON, len(snap.Recent))
	for i, c := range snap.Recent {
		out[i] = NewCycleJSON(c)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	digits := make(map[string]int)
	for d, n := range snap.Counts.Digits {
		if n > 0 {
			digits[strconv.Itoa(d)] = n
		}
	}

	inner := StatusInner{
		Lines: LinesJSON{
			Primary:   snap.Lines.Primary.String(),
			Secondary: snap.Lines.Secondary.String(),
			Suppress:  snap.Lines.Suppress.String(),
		},
		Running:       snap.Running,
		DebounceMs:    snap.Debounce,
		Advisory:      string(snap.Advisory),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Cycles:          snap.Counts.Cycles,
			Digits:          digits,
			DialSpeed:       snap.Counts.DialSpeed,
			PulsePauseRatio: snap.Counts.PulsePauseRatio,
		},
		Config: ConfigJSON{
			Driver:      snap.Config.Driver,
			Device:      snap.Config.Device,
			Host:        snap.Config.Host,
			PollMs:      snap.Config.PollMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.Fault != "" {
		inner.Fault = &FaultJSON{Message: snap.Fault, At: snap.FaultAt.UTC().Format(time.RFC3339)}
	}
	if snap.LastCycle != nil {
		c := NewCycleJSON(snap.LastCycle)
		inner.LastCycle = &c
	}
	return inner
}

// NewStatusJSON converts snap for output without an event.
func NewStatusJSON(snap Snapshot) StatusJSON {
	return StatusJSON{Status: buildInner(snap)}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(NewStatusJSON(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
