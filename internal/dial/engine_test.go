package dial

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// step is one confirmed sample fed to the engine.
type step struct {
	ms int
	s  Snapshot
}

// feed runs steps through e and returns every cycle produced.
func feed(e *Engine, steps []step) []*Cycle {
	var cycles []*Cycle
	for _, st := range steps {
		if c := e.ProcessSample(st.s, at(st.ms)).Cycle; c != nil {
			cycles = append(cycles, c)
		}
	}
	return cycles
}

// hold returns samples of s every 10ms in [from, to].
func hold(s Snapshot, from, to int) []step {
	var out []step
	for ms := from; ms <= to; ms += 10 {
		out = append(out, step{ms, s})
	}
	return out
}

// pulses returns a primary train starting at start with the given half
// period: open at start, closed at start+half, and so on.
func pulses(n, start, half int, secondary bool) []step {
	var out []step
	for i := 0; i < n; i++ {
		open := start + 2*i*half
		out = append(out,
			step{open, Snapshot{Primary: false, Secondary: secondary}},
			step{open + half, Snapshot{Primary: true, Secondary: secondary}},
		)
	}
	return out
}

func TestNewEngine(t *testing.T) {
	e := NewEngine()
	p, s, u := e.Levels()
	if p != Unknown || s != Unknown || u != Unknown {
		t.Errorf("expected all lines unknown, got %s %s %s", p, s, u)
	}
	if e.Debounce() != 0 {
		t.Errorf("expected debounce 0, got %d", e.Debounce())
	}
	if e.Evaluated() {
		t.Error("new engine should not be evaluated")
	}
}

func TestSetDebounceClamps(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-4, 0},
		{0, 0},
		{5, 5},
		{10, 10},
		{20, 10},
	}
	for _, tt := range tests {
		e := NewEngine()
		e.SetDebounce(tt.in)
		if got := e.Debounce(); got != tt.want {
			t.Errorf("SetDebounce(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInitializePrimaryOpenAdvisory(t *testing.T) {
	e := NewEngine()
	adv := e.Initialize(Snapshot{Primary: false})
	if adv != AdvisoryAwaitingClosure {
		t.Errorf("expected %q, got %q", AdvisoryAwaitingClosure, adv)
	}
	if p, _, _ := e.Levels(); p != Open {
		t.Errorf("expected primary OPEN, got %s", p)
	}
}

func TestInitializePrimaryClosed(t *testing.T) {
	e := NewEngine()
	adv := e.Initialize(Snapshot{Primary: true, Secondary: true, Suppress: false})
	if adv != AdvisoryNone {
		t.Errorf("expected no advisory, got %q", adv)
	}
	p, s, u := e.Levels()
	if p != Closed || s != Closed || u != Open {
		t.Errorf("unexpected levels: %s %s %s", p, s, u)
	}
	if p, s, u := e.EdgeCounts(); p+s+u != 0 {
		t.Errorf("initialize must not record edges, got %d %d %d", p, s, u)
	}
}

func TestProcessSampleAdoptsUnknownLines(t *testing.T) {
	e := NewEngine()
	// No Initialize: the first sample is adopted without edges.
	e.ProcessSample(Snapshot{Primary: false, Secondary: true, Suppress: true}, at(0))
	if p, s, u := e.EdgeCounts(); p+s+u != 0 {
		t.Fatalf("expected no edges on adoption, got %d %d %d", p, s, u)
	}
	p, s, u := e.Levels()
	if p != Open || s != Closed || u != Closed {
		t.Errorf("unexpected levels after adoption: %s %s %s", p, s, u)
	}

	e.ProcessSample(Snapshot{Primary: true, Secondary: true, Suppress: true}, at(10))
	if p, _, _ := e.EdgeCounts(); p != 1 {
		t.Errorf("expected 1 primary edge, got %d", p)
	}
}

func TestStableSamplesRecordNothing(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})
	cycles := feed(e, hold(Snapshot{Primary: true}, 0, 1000))
	if len(cycles) != 0 {
		t.Errorf("expected no cycles, got %d", len(cycles))
	}
	if p, s, u := e.EdgeCounts(); p+s+u != 0 {
		t.Errorf("expected no edges, got %d %d %d", p, s, u)
	}
}

func TestTwoPulsesProduceOneCycle(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	steps := pulses(2, 0, 50, false)
	steps = append(steps, hold(Snapshot{Primary: true}, 160, 600)...)
	cycles := feed(e, steps)

	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	c := cycles[0]
	if c.PulseCount != 2 {
		t.Errorf("PulseCount: got %d, want 2", c.PulseCount)
	}
	if c.Digit != 2 {
		t.Errorf("Digit: got %d, want 2", c.Digit)
	}
	if c.FrequencyHz != 10.0 {
		t.Errorf("FrequencyHz: got %v, want 10.0", c.FrequencyHz)
	}
	if c.ClosedDutyPercent != 50 {
		t.Errorf("ClosedDutyPercent: got %d, want 50", c.ClosedDutyPercent)
	}
	if c.HasSecondary || c.HasSuppress {
		t.Errorf("expected no secondary/suppress, got %v/%v", c.HasSecondary, c.HasSuppress)
	}
	if len(c.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", c.Warnings)
	}
	// Produced on the first sample more than 100ms after the last edge.
	if !c.CreatedAt.Equal(at(260)) {
		t.Errorf("CreatedAt: got %v, want %v", c.CreatedAt, at(260))
	}
	if !c.Origin.Equal(at(0)) {
		t.Errorf("Origin: got %v, want %v", c.Origin, at(0))
	}
}

func TestThreeWireBufferClearedAfterCycle(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	feed(e, pulses(3, 0, 50, false))
	feed(e, hold(Snapshot{Primary: true}, 260, 460))

	// Evaluated buffer is discarded by the 90ms branch on a later sample.
	if p, _, _ := e.EdgeCounts(); p != 0 {
		t.Errorf("expected primary log cleared, got %d edges", p)
	}
	if e.Evaluated() {
		t.Error("expected evaluated flag cleared")
	}

	// A second digit decodes independently.
	steps := pulses(4, 1000, 50, false)
	steps = append(steps, hold(Snapshot{Primary: true}, 1360, 1600)...)
	cycles := feed(e, steps)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle for second digit, got %d", len(cycles))
	}
	if cycles[0].Digit != 4 {
		t.Errorf("second digit: got %d, want 4", cycles[0].Digit)
	}
	if cycles[0].PrimaryEdgesMs[0] != 0 {
		t.Errorf("edges must be normalized to zero, got %v", cycles[0].PrimaryEdgesMs)
	}
}

func TestShortBurstDiscarded(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	// A single pulse is noise.
	steps := pulses(1, 0, 50, false)
	steps = append(steps, hold(Snapshot{Primary: true}, 60, 400)...)
	cycles := feed(e, steps)

	if len(cycles) != 0 {
		t.Errorf("expected no cycles for a short burst, got %d", len(cycles))
	}
	if p, _, _ := e.EdgeCounts(); p != 0 {
		t.Errorf("expected short burst discarded, got %d edges", p)
	}
}

func TestThreeEdgesFinalizeIsNoOp(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	// Off-normal closes, so the 90ms discard branch is skipped and the
	// 100ms branch sees only three primary edges.
	steps := []step{
		{0, Snapshot{Primary: true, Secondary: true}},
		{10, Snapshot{Primary: false, Secondary: true}},
		{60, Snapshot{Primary: true, Secondary: true}},
		{110, Snapshot{Primary: false, Secondary: true}},
	}
	steps = append(steps, hold(Snapshot{Primary: false, Secondary: true}, 120, 500)...)
	cycles := feed(e, steps)

	if len(cycles) != 0 {
		t.Errorf("expected no cycle from three edges, got %d", len(cycles))
	}
	if e.Evaluated() {
		t.Error("insufficient data must not mark the buffer evaluated")
	}
	if p, _, _ := e.EdgeCounts(); p != 3 {
		t.Errorf("expected 3 buffered edges, got %d", p)
	}
}

func TestFourWireCycle(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	steps := []step{{-20, Snapshot{Primary: true, Secondary: true}}}
	steps = append(steps, pulses(3, 0, 50, true)...)
	steps = append(steps, step{300, Snapshot{Primary: true, Secondary: false}})
	steps = append(steps, hold(Snapshot{Primary: true}, 310, 800)...)
	cycles := feed(e, steps)

	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	c := cycles[0]
	if c.Digit != 3 {
		t.Errorf("Digit: got %d, want 3", c.Digit)
	}
	if !c.HasSecondary || c.SecondaryOpenMs == nil {
		t.Fatal("expected secondary timing")
	}
	if *c.SecondaryOpenMs != 300 {
		t.Errorf("SecondaryOpenMs: got %d, want 300", *c.SecondaryOpenMs)
	}
	// Buffers persist after evaluation while off-normal edges exist.
	if p, s, _ := e.EdgeCounts(); p != 6 || s != 2 {
		t.Errorf("expected buffers kept (6, 2), got (%d, %d)", p, s)
	}
	if !e.Evaluated() {
		t.Error("expected evaluated after cycle")
	}
}

func TestEvaluatedBufferNotReevaluated(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	steps := []step{{0, Snapshot{Primary: true, Secondary: true}}}
	steps = append(steps, pulses(2, 10, 50, true)...)
	steps = append(steps, hold(Snapshot{Primary: true, Secondary: true}, 220, 400)...)
	// More pulses on the same, already evaluated buffer.
	steps = append(steps, pulses(2, 410, 50, true)...)
	steps = append(steps, hold(Snapshot{Primary: true, Secondary: true}, 620, 900)...)
	cycles := feed(e, steps)

	if len(cycles) != 1 {
		t.Errorf("expected exactly 1 cycle until reset, got %d", len(cycles))
	}
}

func TestNextDialResetsOnThirdOffNormalEdge(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	steps := []step{{-20, Snapshot{Primary: true, Secondary: true}}}
	steps = append(steps, pulses(2, 0, 50, true)...)
	steps = append(steps, step{250, Snapshot{Primary: true, Secondary: false}})
	steps = append(steps, hold(Snapshot{Primary: true}, 260, 500)...)
	if got := len(feed(e, steps)); got != 1 {
		t.Fatalf("expected first dial to produce 1 cycle, got %d", got)
	}

	// Off-normal closes again for the next digit.
	e.ProcessSample(Snapshot{Primary: true, Secondary: true}, at(1000))
	p, s, u := e.EdgeCounts()
	if p != 0 || s != 1 || u != 0 {
		t.Errorf("expected (0, 1, 0) after implicit reset, got (%d, %d, %d)", p, s, u)
	}
	if e.Evaluated() {
		t.Error("expected evaluated cleared by implicit reset")
	}
}

// The third off-normal transition clears every log, including primary
// edges of a pulse train still in progress. This is kept as-is.
func TestThirdOffNormalEdgeDropsInProgressPulses(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	feed(e, []step{
		{0, Snapshot{Primary: true, Secondary: true}},
		{10, Snapshot{Primary: true, Secondary: false}},
		{20, Snapshot{Primary: false, Secondary: false}},
		{70, Snapshot{Primary: true, Secondary: false}},
	})
	if p, s, _ := e.EdgeCounts(); p != 2 || s != 2 {
		t.Fatalf("setup: expected (2, 2), got (%d, %d)", p, s)
	}

	e.ProcessSample(Snapshot{Primary: false, Secondary: true}, at(80))
	p, s, _ := e.EdgeCounts()
	if p != 0 {
		t.Errorf("expected primary edges dropped, got %d", p)
	}
	if s != 1 {
		t.Errorf("expected the new off-normal edge recorded, got %d", s)
	}
}

func TestSuppressTiming(t *testing.T) {
	e := NewEngine()
	e.Initialize(Snapshot{Primary: true})

	steps := []step{{-30, Snapshot{Primary: true, Secondary: true}}}
	steps = append(steps, pulses(3, 0, 50, true)...)
	// Suppress closes with the first pulse.
	for i := 1; i < len(steps); i++ {
		steps[i].s.Suppress = true
	}
	steps = append(steps, step{270, Snapshot{Primary: true, Secondary: true, Suppress: false}})
	steps = append(steps, hold(Snapshot{Primary: true, Secondary: true}, 280, 500)...)
	cycles := feed(e, steps)

	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	c := cycles[0]
	if !c.HasSuppress || c.SuppressOnMs == nil {
		t.Fatal("expected suppress timing")
	}
	if *c.SuppressOnMs != 0 {
		t.Errorf("SuppressOnMs: got %d, want 0", *c.SuppressOnMs)
	}
	if c.SecondaryOpenMs == nil || *c.SecondaryOpenMs != 0 {
		t.Errorf("single off-normal edge before origin should clamp to 0, got %v", c.SecondaryOpenMs)
	}
}

func TestDebounceCopiedIntoCycle(t *testing.T) {
	e := NewEngine()
	e.SetDebounce(3)
	e.Initialize(Snapshot{Primary: true})

	steps := pulses(2, 0, 50, false)
	steps = append(steps, hold(Snapshot{Primary: true}, 160, 300)...)
	cycles := feed(e, steps)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	if cycles[0].DebounceMs != 3 {
		t.Errorf("DebounceMs: got %d, want 3", cycles[0].DebounceMs)
	}
}

func TestResetCycleIdempotent(t *testing.T) {
	e := NewEngine()
	e.SetDebounce(4)
	e.Initialize(Snapshot{Primary: true, Secondary: true})
	feed(e, []step{
		{0, Snapshot{Primary: false, Secondary: true}},
		{50, Snapshot{Primary: true, Secondary: false}},
	})

	e.ResetCycle()
	once := *e
	e.ResetCycle()

	if p, s, u := e.EdgeCounts(); p+s+u != 0 {
		t.Errorf("expected empty logs, got %d %d %d", p, s, u)
	}
	if e.Evaluated() {
		t.Error("expected evaluated=false")
	}
	if e.Debounce() != once.debounceMs || e.Debounce() != 4 {
		t.Errorf("debounce changed: %d", e.Debounce())
	}
	p1, s1, u1 := once.primary.level, once.secondary.level, once.suppress.level
	p2, s2, u2 := e.Levels()
	if p1 != p2 || s1 != s2 || u1 != u2 {
		t.Errorf("levels changed: (%s %s %s) -> (%s %s %s)", p1, s1, u1, p2, s2, u2)
	}
	if p2 != Closed || s2 != Open {
		t.Errorf("expected levels preserved from samples, got %s %s", p2, s2)
	}
}

func TestResetAll(t *testing.T) {
	e := NewEngine()
	e.SetDebounce(7)
	e.Initialize(Snapshot{Primary: true})
	e.ProcessSample(Snapshot{Primary: false}, at(0))

	e.ResetAll()

	p, s, u := e.Levels()
	if p != Unknown || s != Unknown || u != Unknown {
		t.Errorf("expected unknown levels, got %s %s %s", p, s, u)
	}
	if p, s, u := e.EdgeCounts(); p+s+u != 0 {
		t.Errorf("expected empty logs, got %d %d %d", p, s, u)
	}
	if e.Debounce() != 7 {
		t.Errorf("debounce should survive ResetAll, got %d", e.Debounce())
	}
}

func TestLevelString(t *testing.T) {
	tests := map[Level]string{Unknown: "UNKNOWN", Open: "OPEN", Closed: "CLOSED"}
	for l, want := range tests {
		if got := l.String(); got != want {
			t.Errorf("Level(%d).String(): got %q, want %q", l, got, want)
		}
	}
}
