// Package hostspi runs the as6500 driver from a Linux host. The SPI port is
// reached through periph.io spidev drivers with kernel chip select disabled;
// chip select is a plain GPIO toggled by the Device through PeriphPins or
// GPIODPins.
package hostspi

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/soypat/as6500"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	errClosed        = errors.New("hostspi: bus closed")
	errNotBegun      = errors.New("hostspi: bus not begun")
	errProfileChange = errors.New("hostspi: spidev connection profile cannot change once connected")
)

// Bus is an as6500.Bus over a periph.io SPI port. The port connection is
// made on the first transaction with that transaction's profile.
type Bus struct {
	name   string
	port   spi.PortCloser
	conn   spi.Conn
	cfg    as6500.BusConfig
	logger *slog.Logger
	closed bool
	w, r   [1]byte
}

var _ as6500.Bus = (*Bus)(nil)

// New returns a Bus for the port registered as name in spireg, such as
// "SPI0.0" or "/dev/spidev0.0". An empty name selects the first port.
// The port is opened by Begin.
func New(name string, logger *slog.Logger) *Bus {
	return &Bus{name: name, logger: logger}
}

// NewFromPort returns a Bus over an already opened port. Begin is a no-op.
func NewFromPort(port spi.PortCloser, logger *slog.Logger) *Bus {
	return &Bus{port: port, logger: logger}
}

// Begin loads the periph.io host drivers and opens the port.
func (b *Bus) Begin() error {
	if b.closed {
		return errClosed
	}
	if b.port != nil {
		return nil
	}
	state, err := host.Init()
	if err != nil {
		return err
	}
	if b.logger != nil {
		b.logger.Debug("hostspi:init", slog.Int("loaded", len(state.Loaded)), slog.Int("failed", len(state.Failed)))
	}
	port, err := spireg.Open(b.name)
	if err != nil {
		return fmt.Errorf("hostspi: open %q: %w", b.name, err)
	}
	b.port = port
	return nil
}

func (b *Bus) BeginTransaction(cfg as6500.BusConfig) error {
	if b.closed {
		return errClosed
	}
	if b.port == nil {
		return errNotBegun
	}
	if b.conn != nil {
		if cfg != b.cfg {
			return errProfileChange
		}
		return nil
	}
	mode := spi.Mode(cfg.Mode&0b11) | spi.NoCS
	if cfg.BitOrder == as6500.LSBFirst {
		mode |= spi.LSBFirst
	}
	conn, err := b.port.Connect(physic.Frequency(cfg.Frequency)*physic.Hertz, mode, 8)
	if err != nil {
		return err
	}
	if b.logger != nil {
		b.logger.Info("hostspi:connect", slog.String("port", b.name), slog.String("conn", conn.String()), slog.Uint64("freq", uint64(cfg.Frequency)))
	}
	b.conn = conn
	b.cfg = cfg
	return nil
}

func (b *Bus) Transfer(c byte) (byte, error) {
	if b.closed {
		return 0, errClosed
	} else if b.conn == nil {
		return 0, errNotBegun
	}
	b.w[0] = c
	err := b.conn.Tx(b.w[:], b.r[:])
	return b.r[0], err
}

func (b *Bus) EndTransaction() error { return nil }

// Close releases the port.
func (b *Bus) Close() (err error) {
	if b.closed {
		return errClosed
	}
	b.closed = true
	if b.port != nil {
		err = multierr.Combine(err, b.port.Close())
	}
	return err
}
