//go:build tinygo

package as6500

import (
	"device"
	"errors"
	"machine"
)

// SPIbb is a dumb bit-bang implementation of SPI protocol that is hardcoded
// to mode 0. Chip select is not handled; the Device drives it through Pins.
type SPIbb struct {
	SCK machine.Pin
	SDI machine.Pin
	SDO machine.Pin
	// Delay is the number of nops in a quarter clock cycle.
	Delay    uint32
	LSBFirst bool
}

// NewBitbangBus returns a Bus that shifts bits through s.
func NewBitbangBus(s *SPIbb) *SPIBus {
	return &SPIBus{SPI: s, Reconfigure: s.Reconfigure}
}

// Configure sets up the SCK and SDO pins as outputs and sets them low.
func (s *SPIbb) Configure() {
	s.SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.SDO.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.SDI.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	s.SCK.Low()
	s.SDO.Low()
	if s.Delay == 0 {
		s.Delay = 1
	}
}

// Reconfigure applies the bit order of cfg. The frequency is set through
// Delay since a nop count depends on the CPU clock.
func (s *SPIbb) Reconfigure(cfg BusConfig) error {
	if cfg.Mode != 0 {
		return errUnsupportedMode
	}
	s.LSBFirst = cfg.BitOrder == LSBFirst
	return nil
}

// Tx matches signature of machine.SPI.Tx(). w and r may be nil; when both
// are set they must be the same length.
func (s *SPIbb) Tx(w []byte, r []byte) error {
	switch {
	case len(r) == len(w):
		for i, b := range w {
			r[i] = s.transfer(b)
		}
	case len(r) == 0:
		for _, b := range w {
			s.transfer(b)
		}
	case len(w) == 0:
		for i := range r {
			r[i] = s.transfer(0)
		}
	default:
		return errors.New("unhandled SPI buffer length mismatch case")
	}
	return nil
}

// Transfer matches signature of machine.SPI.Transfer(). No error will ever be returned.
func (s *SPIbb) Transfer(b byte) (out byte, _ error) {
	return s.transfer(b), nil
}

func (s *SPIbb) transfer(b byte) (out byte) {
	if s.LSBFirst {
		for i := 0; i < 8; i++ {
			out |= b2u8(s.bitTransfer(b&(1<<i) != 0)) << i
		}
		return out
	}
	for i := 7; i >= 0; i-- {
		out |= b2u8(s.bitTransfer(b&(1<<i) != 0)) << i
	}
	return out
}

// bitTransfer puts b on SDO while SCK is low and samples SDI on the rising edge.
//
//go:inline
func (s *SPIbb) bitTransfer(b bool) bool {
	s.SDO.Set(b)
	s.delay()
	s.SCK.High()
	s.delay()
	inputBit := s.SDI.Get()
	s.delay()
	s.SCK.Low()
	s.delay()
	return inputBit
}

// delay represents a quarter of the clock cycle
//
//go:inline
func (s *SPIbb) delay() {
	for i := uint32(0); i < s.Delay; i++ {
		device.Asm("nop")
	}
}

//go:inline
func b2u8(b bool) byte {
	if b {
		return 1
	}
	return 0
}
