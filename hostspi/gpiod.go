//go:build linux

package hostspi

import (
	"fmt"

	"github.com/soypat/as6500"
	"github.com/warthog618/gpiod"
	"go.uber.org/multierr"
)

// GPIODPins drives pins as lines of a GPIO character device, where the pin
// number is the line offset on the chip.
type GPIODPins struct {
	chip  *gpiod.Chip
	lines map[as6500.Pin]*gpiod.Line
}

var _ as6500.Pins = (*GPIODPins)(nil)

// NewGPIODPins opens the GPIO chip by name, such as "gpiochip0".
func NewGPIODPins(chipName string) (*GPIODPins, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer("as6500"))
	if err != nil {
		return nil, err
	}
	return &GPIODPins{chip: chip, lines: make(map[as6500.Pin]*gpiod.Line)}, nil
}

// ConfigureOutput requests the line as an output driven high.
func (g *GPIODPins) ConfigureOutput(pin as6500.Pin) error {
	if l, ok := g.lines[pin]; ok {
		return l.SetValue(1)
	}
	l, err := g.chip.RequestLine(int(pin), gpiod.AsOutput(1))
	if err != nil {
		return err
	}
	g.lines[pin] = l
	return nil
}

func (g *GPIODPins) Set(pin as6500.Pin, high bool) error {
	l, ok := g.lines[pin]
	if !ok {
		return fmt.Errorf("hostspi: line %d not requested", pin)
	}
	v := 0
	if high {
		v = 1
	}
	return l.SetValue(v)
}

// Close releases all requested lines and the chip.
func (g *GPIODPins) Close() (err error) {
	for pin, l := range g.lines {
		err = multierr.Append(err, l.Close())
		delete(g.lines, pin)
	}
	return multierr.Append(err, g.chip.Close())
}
