//go:build linux

package line

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sweeney/dial-tester/internal/dial"
)

// SerialReader reads the contacts from the modem status lines of a serial
// adapter. DTR and RTS are raised to feed the contacts; a closed contact
// asserts its status line.
type SerialReader struct {
	fd      int
	device  string
	mapping SerialMapping
}

// NewSerialReader opens device and raises DTR/RTS.
func NewSerialReader(device string, m SerialMapping) (*SerialReader, error) {
	for _, s := range []Signal{m.Primary, m.Secondary, m.Suppress} {
		if !s.Valid() {
			return nil, fmt.Errorf("unknown signal %q", s)
		}
	}
	if m.Primary == SignalNone {
		return nil, fmt.Errorf("primary signal is required")
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR|unix.TIOCM_RTS); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("raise DTR/RTS on %s: %w", device, err)
	}
	return &SerialReader{fd: fd, device: device, mapping: m}, nil
}

// Read returns the contact states from one TIOCMGET.
func (r *SerialReader) Read() (dial.Snapshot, error) {
	bits, err := unix.IoctlGetInt(r.fd, unix.TIOCMGET)
	if err != nil {
		return dial.Snapshot{}, fmt.Errorf("read modem lines on %s: %w", r.device, err)
	}
	return dial.Snapshot{
		Primary:   asserted(bits, r.mapping.Primary),
		Secondary: asserted(bits, r.mapping.Secondary),
		Suppress:  asserted(bits, r.mapping.Suppress),
	}, nil
}

func asserted(bits int, s Signal) bool {
	switch s {
	case SignalCTS:
		return bits&unix.TIOCM_CTS != 0
	case SignalDSR:
		return bits&unix.TIOCM_DSR != 0
	case SignalDCD:
		return bits&unix.TIOCM_CD != 0
	case SignalRI:
		return bits&unix.TIOCM_RI != 0
	}
	return false
}

// Close drops DTR/RTS and closes the device.
func (r *SerialReader) Close() error {
	var errs []error
	if err := unix.IoctlSetPointerInt(r.fd, unix.TIOCMBIC, unix.TIOCM_DTR|unix.TIOCM_RTS); err != nil {
		errs = append(errs, fmt.Errorf("drop DTR/RTS: %w", err))
	}
	if err := unix.Close(r.fd); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", r.device, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
