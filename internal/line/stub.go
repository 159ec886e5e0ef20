//go:build !linux

package line

import (
	"errors"

	"github.com/sweeney/dial-tester/internal/dial"
)

var errUnsupported = errors.New("line: not supported on this platform (requires Linux)")

// GPIOReader is not available on non-Linux platforms.
type GPIOReader struct{}

// NewGPIOReader returns an error on non-Linux platforms.
func NewGPIOReader(chip string, primary, secondary, suppress int) (*GPIOReader, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *GPIOReader) Read() (dial.Snapshot, error) {
	return dial.Snapshot{}, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *GPIOReader) Close() error {
	return nil
}

// SerialReader is not available on non-Linux platforms.
type SerialReader struct{}

// NewSerialReader returns an error on non-Linux platforms.
func NewSerialReader(device string, m SerialMapping) (*SerialReader, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *SerialReader) Read() (dial.Snapshot, error) {
	return dial.Snapshot{}, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *SerialReader) Close() error {
	return nil
}
