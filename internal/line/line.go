// Package line reads the dial's contact lines with hardware abstraction.
// The serial implementation reads modem status lines of a USB-serial adapter.
// The GPIO implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package line

import "github.com/sweeney/dial-tester/internal/dial"

// Reader reads the three contact lines.
type Reader interface {
	// Read returns the current contact states. true = contact closed.
	Read() (dial.Snapshot, error)

	// Close releases the underlying device.
	Close() error
}

// Signal names a modem status line on a serial adapter.
type Signal string

const (
	SignalCTS  Signal = "cts"
	SignalDSR  Signal = "dsr"
	SignalDCD  Signal = "dcd"
	SignalRI   Signal = "ri"
	SignalNone Signal = "none"
)

// Valid reports whether s is a known signal name.
func (s Signal) Valid() bool {
	switch s {
	case SignalCTS, SignalDSR, SignalDCD, SignalRI, SignalNone:
		return true
	}
	return false
}

// SerialMapping assigns a modem signal to each contact.
type SerialMapping struct {
	Primary   Signal
	Secondary Signal
	Suppress  Signal
}

// DefaultSerialMapping matches the usual adapter wiring.
var DefaultSerialMapping = SerialMapping{
	Primary:   SignalCTS,
	Secondary: SignalDSR,
	Suppress:  SignalDCD,
}

// GPIO line offsets (BCM numbering). NoPin marks an absent contact.
const (
	DefaultPinPrimary   = 17
	DefaultPinSecondary = 27
	DefaultPinSuppress  = -1
	NoPin               = -1
)
