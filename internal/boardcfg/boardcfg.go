// Package boardcfg loads YAML board descriptions and opens an AS6500 on the
// described backend.
package boardcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/as6500"
	"github.com/soypat/as6500/hostspi"
	"github.com/soypat/as6500/tdcsim"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Backends.
const (
	BackendSim    = "sim"
	BackendPeriph = "periph"
	BackendGPIOD  = "gpiod"
)

// Board describes how the AS6500 is attached and how it is set up after Begin.
type Board struct {
	// Backend is one of sim, periph or gpiod. Empty selects sim.
	Backend string `yaml:"backend"`
	// Port is the periph.io SPI port name, i.e: "SPI0.0" or "/dev/spidev0.0".
	Port string `yaml:"port"`
	// GPIOChip is the character device used for chip select with the gpiod backend.
	GPIOChip string `yaml:"gpiochip"`
	// CS is the chip select pin: a GPIO number for periph, a line offset for gpiod.
	CS        uint8  `yaml:"cs"`
	Frequency uint32 `yaml:"frequency"`
	// Mode is "single-shot" or "continuous". Empty leaves the reset default.
	Mode      string `yaml:"mode"`
	Timeout   *uint8 `yaml:"timeout"`
	Averaging *uint8 `yaml:"averaging"`
	Sim       Sim    `yaml:"sim"`
}

// Sim configures the simulated chip of the sim backend.
type Sim struct {
	ChipID *uint8 `yaml:"chip_id"`
	// CalibrationDelay of 0 selects the simulator default, negative never completes.
	CalibrationDelay time.Duration `yaml:"calibration_delay"`
	CalibrationValue *uint16       `yaml:"calibration_value"`
	MeasurementDelay time.Duration `yaml:"measurement_delay"`
	// Results are returned by successive measurements in picoseconds.
	Results []uint32 `yaml:"results"`
}

// Load decodes and validates a board description. Unknown fields are errors.
func Load(r io.Reader) (Board, error) {
	var b Board
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&b)
	if err != nil && !errors.Is(err, io.EOF) {
		return b, fmt.Errorf("boardcfg: %w", err)
	}
	if b.Backend == "" {
		b.Backend = BackendSim
	}
	return b, b.Validate()
}

// LoadFile loads the board description at path.
func LoadFile(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, err
	}
	return Load(bytes.NewReader(data))
}

// Validate checks field values without touching hardware.
func (b Board) Validate() error {
	switch b.Backend {
	case BackendSim, BackendPeriph:
	case BackendGPIOD:
		if b.GPIOChip == "" {
			return errors.New("boardcfg: gpiod backend requires gpiochip")
		}
	default:
		return fmt.Errorf("boardcfg: unknown backend %q", b.Backend)
	}
	if _, err := b.mode(); err != nil {
		return err
	}
	return nil
}

func (b Board) mode() (as6500.Mode, error) {
	switch b.Mode {
	case "", "single-shot", "single":
		return as6500.ModeSingleShot, nil
	case "continuous":
		return as6500.ModeContinuous, nil
	}
	return 0, fmt.Errorf("boardcfg: unknown mode %q", b.Mode)
}

// Handle owns an opened Device and the resources behind it.
type Handle struct {
	Device *as6500.Device
	// Sim is the simulated chip of the sim backend, nil otherwise.
	Sim     *tdcsim.Chip
	closers []io.Closer
}

// Close releases the bus and pins.
func (h *Handle) Close() (err error) {
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, h.closers[i].Close())
	}
	h.closers = nil
	return err
}

// Open constructs the Device for b. When begin is set the Device is brought
// up and the configured mode, timeout and averaging are applied.
func Open(b Board, logger *slog.Logger, begin bool) (h *Handle, err error) {
	if err = b.Validate(); err != nil {
		return nil, err
	}
	h = &Handle{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, h.Close())
			h = nil
		}
	}()
	cfg := as6500.Config{Logger: logger}
	cs := as6500.Pin(b.CS)
	switch b.Backend {
	case BackendSim:
		h.Device, h.Sim = tdcsim.NewDevice(b.Sim.config(cs), cfg)
		h.Sim.QueueResult(b.Sim.Results...)
	case BackendPeriph:
		bus := hostspi.New(b.Port, logger)
		h.closers = append(h.closers, bus)
		h.Device = as6500.New(bus, hostspi.NewPeriphPins(), cs, cfg)
	case BackendGPIOD:
		bus := hostspi.New(b.Port, logger)
		h.closers = append(h.closers, bus)
		pins, err := openGPIODPins(b.GPIOChip)
		if err != nil {
			return h, err
		}
		h.closers = append(h.closers, pins)
		h.Device = as6500.New(bus, pins, cs, cfg)
	}
	if !begin {
		return h, nil
	}
	return h, b.Setup(h.Device)
}

// Setup runs Begin and applies the measurement settings of b.
func (b Board) Setup(dev *as6500.Device) error {
	err := dev.Begin(b.Frequency)
	if err != nil {
		return err
	}
	if b.Mode != "" {
		mode, _ := b.mode()
		if err = dev.SetMode(mode); err != nil {
			return err
		}
	}
	if b.Timeout != nil {
		if err = dev.SetTimeout(*b.Timeout); err != nil {
			return err
		}
	}
	if b.Averaging != nil {
		err = dev.SetAveragingCycles(*b.Averaging)
	}
	return err
}

func (s Sim) config(cs as6500.Pin) tdcsim.Config {
	cfg := tdcsim.DefaultConfig()
	cfg.CS = cs
	if s.ChipID != nil {
		cfg.ChipID = *s.ChipID
	}
	if s.CalibrationDelay < 0 {
		cfg.CalibrationDelay = tdcsim.Never
	} else if s.CalibrationDelay > 0 {
		cfg.CalibrationDelay = s.CalibrationDelay
	}
	if s.CalibrationValue != nil {
		cfg.CalibrationValue = *s.CalibrationValue
	}
	if s.MeasurementDelay > 0 {
		cfg.MeasurementDelay = s.MeasurementDelay
	}
	return cfg
}
