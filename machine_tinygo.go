//go:build tinygo

package as6500

import "machine"

// MachinePins drives chip select through machine.Pin GPIOs.
type MachinePins struct{}

var _ Pins = MachinePins{}

func (MachinePins) ConfigureOutput(pin Pin) error {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (MachinePins) Set(pin Pin, high bool) error {
	machine.Pin(pin).Set(high)
	return nil
}

// NewMachineBus returns a Bus over a hardware SPI peripheral. The peripheral
// is (re)configured with the profile each transaction asks for. Chip select
// is left to the Device.
func NewMachineBus(spi *machine.SPI, sck, sdo, sdi machine.Pin) *SPIBus {
	return &SPIBus{
		SPI: spi,
		Reconfigure: func(cfg BusConfig) error {
			return spi.Configure(machine.SPIConfig{
				Frequency: cfg.Frequency,
				SCK:       sck,
				SDO:       sdo,
				SDI:       sdi,
				LSBFirst:  cfg.BitOrder == LSBFirst,
				Mode:      cfg.Mode,
			})
		},
	}
}
