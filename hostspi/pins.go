package hostspi

import (
	"fmt"
	"strconv"

	"github.com/soypat/as6500"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// PeriphPins resolves pins through the periph.io gpioreg registry by name,
// Prefix followed by the pin number ("GPIO8" for pin 8 with the default prefix).
type PeriphPins struct {
	Prefix string
	pins   map[as6500.Pin]gpio.PinIO
}

var _ as6500.Pins = (*PeriphPins)(nil)

func NewPeriphPins() *PeriphPins {
	return &PeriphPins{Prefix: "GPIO"}
}

// ConfigureOutput looks up the pin and drives it high.
func (p *PeriphPins) ConfigureOutput(pin as6500.Pin) error {
	name := p.Prefix + strconv.Itoa(int(pin))
	io := gpioreg.ByName(name)
	if io == nil {
		return fmt.Errorf("hostspi: gpio %q not found", name)
	}
	if err := io.Out(gpio.High); err != nil {
		return err
	}
	if p.pins == nil {
		p.pins = make(map[as6500.Pin]gpio.PinIO)
	}
	p.pins[pin] = io
	return nil
}

func (p *PeriphPins) Set(pin as6500.Pin, high bool) error {
	io, ok := p.pins[pin]
	if !ok {
		return fmt.Errorf("hostspi: pin %d not configured as output", pin)
	}
	return io.Out(gpio.Level(high))
}
