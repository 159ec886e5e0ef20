package sampler

import "github.com/sweeney/dial-tester/internal/dial"

// Observer receives loop output. Calls are made from the loop goroutine
// and must not block for long.
type Observer interface {
	// OnSignal receives raw snapshots, throttled. Display only.
	OnSignal(s dial.Snapshot)
	// OnCycle receives each completed dial cycle.
	OnCycle(c *dial.Cycle)
	// OnError receives the fatal read error that stopped the loop.
	OnError(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Signal func(dial.Snapshot)
	Cycle  func(*dial.Cycle)
	Error  func(error)
}

func (f ObserverFuncs) OnSignal(s dial.Snapshot) {
	if f.Signal != nil {
		f.Signal(s)
	}
}

func (f ObserverFuncs) OnCycle(c *dial.Cycle) {
	if f.Cycle != nil {
		f.Cycle(c)
	}
}

func (f ObserverFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Multi fans each notification out to every observer in order.
func Multi(obs ...Observer) Observer {
	return multi(obs)
}

type multi []Observer

func (m multi) OnSignal(s dial.Snapshot) {
	for _, o := range m {
		o.OnSignal(s)
	}
}

func (m multi) OnCycle(c *dial.Cycle) {
	for _, o := range m {
		o.OnCycle(c)
	}
}

func (m multi) OnError(err error) {
	for _, o := range m {
		o.OnError(err)
	}
}
