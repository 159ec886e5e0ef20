package dial

import (
	"math"
	"time"
)

// minEdges is the shortest primary history that describes a full pulse.
const minEdges = 4

// computeCycle derives a Cycle from raw edge logs. Returns nil if the
// primary log is too short to measure.
func computeCycle(primary, secondary, suppress edgeLog, debounceMs int, now time.Time) *Cycle {
	n := len(primary)
	if n < minEdges {
		return nil
	}

	origin := primary[0]
	t := make([]int64, n)
	for i, raw := range primary {
		t[i] = offsetMs(origin, raw)
	}

	pulses := n / 2
	digit := pulses
	if pulses == 10 {
		digit = 0
	}

	var secondaryOpen *int64
	switch {
	case len(secondary) >= 2:
		v := offsetMs(origin, secondary[1])
		secondaryOpen = &v
	case len(secondary) == 1:
		v := offsetMs(origin, secondary[0])
		secondaryOpen = &v
	}

	var suppressOn *int64
	if len(suppress) >= 1 {
		v := offsetMs(origin, suppress[0])
		suppressOn = &v
	}

	// Skip the lead-in before the first full pulse.
	var openTotal, closedTotal int64
	for i := 2; i+1 < n; i += 2 {
		openTotal += t[i+1] - t[i]
	}
	for i := 2; i < n; i += 2 {
		closedTotal += t[i] - t[i-1]
	}

	freq, duty := rates(openTotal, closedTotal, n)

	c := &Cycle{
		CreatedAt:         now,
		Origin:            origin,
		PrimaryEdgesMs:    t,
		PulseCount:        pulses,
		Digit:             digit,
		FrequencyHz:       freq,
		ClosedDutyPercent: duty,
		SecondaryOpenMs:   secondaryOpen,
		SuppressOnMs:      suppressOn,
		DebounceMs:        debounceMs,
		HasSecondary:      secondaryOpen != nil,
		HasSuppress:       suppressOn != nil,
		Warnings:          []Warning{},
	}
	if freq < MinFrequencyHz || freq > MaxFrequencyHz {
		c.Warnings = append(c.Warnings, WarningDialSpeed)
	}
	if duty < MinClosedPercent || duty > MaxClosedPercent {
		c.Warnings = append(c.Warnings, WarningPulsePauseRatio)
	}
	return c
}

// rates returns pulse frequency in Hz (one decimal) and the closed share
// of each period in percent.
func rates(openTotal, closedTotal int64, edges int) (float64, int) {
	// An odd edge count ends on a half period.
	periods := math.Max(1, float64(edges)/2-1)
	total := openTotal + closedTotal
	avgPeriod := float64(total) / periods

	var freq float64
	if avgPeriod > 0 {
		freq = roundHalfUp(1000/avgPeriod*10) / 10
	}
	var duty int
	if total > 0 {
		duty = int(roundHalfUp(float64(closedTotal*100) / float64(total)))
	}
	return freq, duty
}

// offsetMs is the whole-millisecond distance from origin, never negative.
func offsetMs(origin, raw time.Time) int64 {
	d := raw.Sub(origin)
	if d < 0 {
		return 0
	}
	return int64(roundHalfUp(float64(d) / float64(time.Millisecond)))
}

func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}
