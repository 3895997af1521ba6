//go:build rp2040 || rp2350

package as6500

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// NewPIOBus claims a state machine of block and returns a Bus that runs SPI
// mode 0 on it. The PIO program shifts most significant bit first only.
func NewPIOBus(block *pio.PIO, sck, sdo, sdi machine.Pin) (*SPIBus, error) {
	sm, err := block.ClaimStateMachine()
	if err != nil {
		return nil, err
	}
	spi, err := piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: DefaultFrequency,
		SCK:       sck,
		SDO:       sdo,
		SDI:       sdi,
		Mode:      0,
	})
	if err != nil {
		sm.Unclaim()
		return nil, err
	}
	return &SPIBus{
		SPI: spi,
		Reconfigure: func(cfg BusConfig) error {
			if cfg.Mode != 0 || cfg.BitOrder != MSBFirst {
				return errUnsupportedMode
			}
			whole, frac, err := pio.ClkDivFromFrequency(cfg.Frequency, machine.CPUFrequency())
			if err != nil {
				return err
			}
			sm.SetClkDiv(whole, frac)
			return nil
		},
	}, nil
}
