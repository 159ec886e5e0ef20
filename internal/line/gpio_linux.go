//go:build linux

package line

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/dial-tester/internal/dial"
)

// GPIOReader reads the contacts from GPIO lines using the Linux GPIO
// character device. Contacts pull the line low when closed.
type GPIOReader struct {
	chip  *gpiocdev.Chip
	lines [3]*gpiocdev.Line // primary, secondary, suppress; nil = absent
}

// NewGPIOReader requests the given line offsets on chip as pulled-up inputs.
// Pass NoPin for an absent contact.
func NewGPIOReader(chip string, primary, secondary, suppress int) (*GPIOReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &GPIOReader{chip: c}
	names := [3]string{"primary", "secondary", "suppress"}
	for i, pin := range [3]int{primary, secondary, suppress} {
		if pin == NoPin {
			continue
		}
		l, err := c.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", names[i], pin, err)
		}
		r.lines[i] = l
	}
	if r.lines[0] == nil {
		r.Close()
		return nil, fmt.Errorf("primary pin is required")
	}
	return r, nil
}

// Read returns the contact states. Raw 0 (pulled low) = closed.
func (r *GPIOReader) Read() (dial.Snapshot, error) {
	var closed [3]bool
	for i, l := range r.lines {
		if l == nil {
			continue
		}
		v, err := l.Value()
		if err != nil {
			return dial.Snapshot{}, fmt.Errorf("read pin %d: %w", l.Offset(), err)
		}
		closed[i] = v == 0
	}
	return dial.Snapshot{Primary: closed[0], Secondary: closed[1], Suppress: closed[2]}, nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults)
// before closing.
func (r *GPIOReader) Close() error {
	var errs []error
	for _, l := range r.lines {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", l.Offset(), err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", l.Offset(), err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
