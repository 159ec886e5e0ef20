package line

import (
	"errors"
	"sync"

	"github.com/sweeney/dial-tester/internal/dial"
)

// FakeReader is a test double that returns scripted snapshots.
// It is safe to read from one goroutine while another inspects it.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted snapshots to return.
	// Each call to Read() consumes the next sample.
	Samples []dial.Snapshot

	// index tracks current position in Samples
	index int

	// reads counts calls to Read
	reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error

	// FailAfter, if > 0, makes every Read after that many successful
	// reads return ReadError (or a generic error if ReadError is nil).
	FailAfter int
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []dial.Snapshot) *FakeReader {
	return &FakeReader{Samples: samples}
}

var errFault = errors.New("line fault")

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (dial.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.FailAfter > 0 && f.reads > f.FailAfter {
		if f.ReadError != nil {
			return dial.Snapshot{}, f.ReadError
		}
		return dial.Snapshot{}, errFault
	}
	if f.FailAfter == 0 && f.ReadError != nil {
		return dial.Snapshot{}, f.ReadError
	}
	if len(f.Samples) == 0 {
		return dial.Snapshot{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Reads returns the number of Read calls so far.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeReader) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	f.index = 0
	f.reads = 0
	f.Closed = false
	f.mu.Unlock()
}
