package dial

import "time"

// edgeLog is the ordered list of transition times for one line.
type edgeLog []time.Time

func (e edgeLog) last() time.Time {
	return e[len(e)-1]
}

// lineState tracks the stored level and edge history of a single line.
type lineState struct {
	level Level
	edges edgeLog
}

// record applies one sampled value. Returns true if an edge was appended.
func (l *lineState) record(closed bool, now time.Time) bool {
	v := levelOf(closed)
	if l.level == Unknown {
		// First sight of this line: adopt without an edge.
		l.level = v
		return false
	}
	if v == l.level {
		return false
	}
	l.edges = append(l.edges, now)
	l.level = v
	return true
}

// Engine decodes dial cycles from confirmed samples.
// Not safe for concurrent use; exactly one sampling loop owns it.
type Engine struct {
	primary    lineState
	secondary  lineState
	suppress   lineState
	evaluated  bool
	debounceMs int
}

// NewEngine returns an engine with all lines unknown and debounce 0.
func NewEngine() *Engine {
	return &Engine{}
}

// SetDebounce stores ms clamped to [0, MaxDebounceMs].
func (e *Engine) SetDebounce(ms int) {
	e.debounceMs = ClampDebounce(ms)
}

// ClampDebounce clamps ms to the range accepted by SetDebounce.
func ClampDebounce(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > MaxDebounceMs {
		return MaxDebounceMs
	}
	return ms
}

// Debounce returns the current debounce setting in milliseconds.
func (e *Engine) Debounce() int {
	return e.debounceMs
}

// Initialize records the line values at connection time. No edges are
// recorded. Returns AdvisoryAwaitingClosure if the pulse contact is open.
func (e *Engine) Initialize(s Snapshot) Advisory {
	e.primary.level = levelOf(s.Primary)
	e.secondary.level = levelOf(s.Secondary)
	e.suppress.level = levelOf(s.Suppress)
	if !s.Primary {
		return AdvisoryAwaitingClosure
	}
	return AdvisoryNone
}

// ProcessSample applies one confirmed sample taken at now and returns a
// Cycle when the buffered burst has finished.
func (e *Engine) ProcessSample(s Snapshot, now time.Time) Result {
	e.primary.record(s.Primary, now)

	// A third off-normal transition means a new dial started before the
	// previous result was reset. This also drops buffered primary edges.
	if e.secondary.level != Unknown && levelOf(s.Secondary) != e.secondary.level &&
		len(e.secondary.edges) >= 2 {
		e.ResetCycle()
	}
	e.secondary.record(s.Secondary, now)
	e.suppress.record(s.Suppress, now)

	return Result{Cycle: e.finalize(now)}
}

func (e *Engine) finalize(now time.Time) *Cycle {
	p := e.primary.edges
	if len(e.secondary.edges) == 0 && len(p) > 0 && now.Sub(p.last()) > discardAfter {
		if len(p) < 4 || e.evaluated {
			e.ResetCycle()
			return nil
		}
	}

	if len(p) > 2 && !e.evaluated && now.Sub(p.last()) > finalizeAfter {
		c := computeCycle(p, e.secondary.edges, e.suppress.edges, e.debounceMs, now)
		if c == nil {
			return nil
		}
		e.evaluated = true
		return c
	}
	return nil
}

// ResetCycle clears all edge logs and the evaluated flag. Line levels and
// debounce are kept.
func (e *Engine) ResetCycle() {
	e.primary.edges = nil
	e.secondary.edges = nil
	e.suppress.edges = nil
	e.evaluated = false
}

// ResetAll clears everything except the debounce setting, including line
// levels. Used when a connection opens or closes.
func (e *Engine) ResetAll() {
	e.ResetCycle()
	e.primary.level = Unknown
	e.secondary.level = Unknown
	e.suppress.level = Unknown
}

// Levels returns the stored level of each line.
func (e *Engine) Levels() (primary, secondary, suppress Level) {
	return e.primary.level, e.secondary.level, e.suppress.level
}

// EdgeCounts returns the number of buffered edges per line.
func (e *Engine) EdgeCounts() (primary, secondary, suppress int) {
	return len(e.primary.edges), len(e.secondary.edges), len(e.suppress.edges)
}

// Evaluated reports whether the buffered edges already produced a cycle.
func (e *Engine) Evaluated() bool {
	return e.evaluated
}
