package as6500

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// BitOrder is the order in which bits of a byte are shifted onto the bus.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

// BusConfig is the transaction profile handed to the Bus at the start of
// every register transaction.
type BusConfig struct {
	// Clock frequency in Hz.
	Frequency uint32
	BitOrder  BitOrder
	// SPI mode: CPOL is bit 1, CPHA is bit 0. The AS6500 runs in mode 0.
	Mode uint8
}

// Bus is the SPI transport the Device talks through. The Device drives the
// chip select line itself through Pins so implementations must not toggle it.
type Bus interface {
	// Begin initializes the bus hardware. Called once by Device.Begin.
	Begin() error
	// BeginTransaction acquires the bus and applies cfg for the transfers
	// that follow until EndTransaction.
	BeginTransaction(cfg BusConfig) error
	// Transfer shifts b out and returns the byte shifted in at the same time.
	Transfer(b byte) (byte, error)
	EndTransaction() error
}

// Pin identifies a GPIO line, such as the AS6500 chip select.
type Pin uint8

// Pins is the GPIO provider used for the chip select line.
type Pins interface {
	ConfigureOutput(pin Pin) error
	Set(pin Pin, high bool) error
}

// Clock is the timing provider. Any github.com/benbjohnson/clock Clock
// implements it.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

var (
	errBusNotStarted   = errors.New("as6500: transaction on bus that was not begun")
	errUnsupportedMode = errors.New("as6500: unsupported SPI mode")
)

// SPIBus adapts a tinygo drivers.SPI (machine.SPI, SPIbb, PIO SPI, ...) into
// a Bus. Reconfigure, when set, is called whenever a transaction asks for a
// profile different from the last one applied.
type SPIBus struct {
	SPI         drivers.SPI
	Reconfigure func(BusConfig) error
	current     BusConfig
	configured  bool
	begun       bool
}

var _ Bus = (*SPIBus)(nil)

// Begin marks the bus as ready. The underlying SPI is expected to be
// configured by the board setup code.
func (b *SPIBus) Begin() error {
	if b.SPI == nil {
		return errors.New("as6500: nil SPI")
	}
	b.begun = true
	return nil
}

func (b *SPIBus) BeginTransaction(cfg BusConfig) error {
	if !b.begun {
		return errBusNotStarted
	}
	if b.Reconfigure != nil && (!b.configured || cfg != b.current) {
		if err := b.Reconfigure(cfg); err != nil {
			return err
		}
		b.current = cfg
		b.configured = true
	}
	return nil
}

func (b *SPIBus) Transfer(c byte) (byte, error) {
	return b.SPI.Transfer(c)
}

func (b *SPIBus) EndTransaction() error { return nil }
