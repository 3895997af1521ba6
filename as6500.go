/*
Package as6500 drives the AS6500 time-to-digital converter over SPI.

# Notes on the bus protocol

Every register access is one SPI transaction in mode 0 (clock idle low,
sample on the leading edge), most significant bit first:

  - chip select is driven low and held for at least 1µs,
  - an address byte is sent: bit 7 set for a read, clear for a write,
    bits 0-6 hold the register address,
  - payload bytes follow; the chip increments its register pointer after
    every byte,
  - chip select is driven high after another 1µs.

Multi-byte values (the 32 bit time result and the 16 bit calibration value)
are little endian: lowest address holds the least significant byte.

Status "interrupts" are polled bits in RegIntStatus. There is no interrupt line.
*/
package as6500

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/exp/constraints"
)

// Config holds optional Device collaborators.
type Config struct {
	// Logger receives driver logs. Nil disables logging.
	Logger *slog.Logger
	// Clock provides sleeps and elapsed time. Defaults to the wall clock.
	Clock Clock
}

// Device is a handle to a single AS6500. It is not safe for concurrent use:
// the bus and chip select line are assumed to be owned by the Device.
type Device struct {
	bus           Bus
	pins          Pins
	clk           Clock
	cs            Pin
	busCfg        BusConfig
	state         State
	calibration   uint16
	logger        *slog.Logger
	_traceenabled bool
	buf           [4]byte
}

// New returns an uninitialized Device using cs as its active-low chip select.
// Begin must be called before measurements are taken.
func New(bus Bus, pins Pins, cs Pin, cfg Config) *Device {
	d := &Device{
		bus:    bus,
		pins:   pins,
		cs:     cs,
		clk:    cfg.Clock,
		logger: cfg.Logger,
		state:  StateUninitialized,
	}
	if d.clk == nil {
		d.clk = clock.New()
	}
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	return d
}

// Begin brings the chip up: chip select configuration, bus initialization,
// reset, chip ID verification and an initial calibration. Pending interrupt
// flags are cleared on success. A frequency of 0 selects DefaultFrequency.
//
// On failure the Device is left in StateFailed and the returned error is an
// *InitError. Begin may be called again to retry.
func (d *Device) Begin(frequency uint32) (err error) {
	if frequency == 0 {
		frequency = DefaultFrequency
	}
	d.info("Begin:start", slog.Uint64("freq", uint64(frequency)))
	start := d.clk.Now()
	d.state = StateUninitialized
	defer func() {
		if err != nil {
			phase := d.state
			d.state = StateFailed
			err = &InitError{Phase: phase, Err: err}
			d.logerr("Begin:failed", slog.String("phase", phase.String()), errattr(err))
		}
	}()
	if err = d.pins.ConfigureOutput(d.cs); err != nil {
		return err
	}
	if err = d.pins.Set(d.cs, true); err != nil {
		return err
	}
	if err = d.bus.Begin(); err != nil {
		return err
	}
	d.busCfg = BusConfig{
		Frequency: frequency,
		BitOrder:  MSBFirst,
		Mode:      0,
	}

	d.state = StatePoweringUp
	d.clk.Sleep(powerUpDelay)

	d.state = StateResetting
	if err = d.Reset(); err != nil {
		return err
	}
	d.clk.Sleep(resetDelay)

	d.state = StateCheckingID
	id, err := d.ChipID()
	if err != nil {
		return err
	}
	if id != ChipIDValue {
		return fmt.Errorf("%w: got %#x, want %#x", ErrChipID, id, ChipIDValue)
	}
	d.debug("Begin:chip-id", u8attr("id", id))

	d.state = StateCalibrating
	if err = d.Calibrate(); err != nil {
		return err
	}
	if err = d.ClearInterrupts(IntAll); err != nil {
		return err
	}
	d.state = StateReady
	d.info("Begin:done", slog.Duration("took", d.clk.Now().Sub(start)), slog.Uint64("cal", uint64(d.calibration)))
	return nil
}

// State returns the initialization state.
func (d *Device) State() State { return d.state }

// Reset pulses the reset bit of CONFIG0 and leaves CONFIG0 zeroed.
func (d *Device) Reset() error {
	d.debug("Reset")
	err := d.WriteRegister(RegConfig0, config0Reset)
	if err != nil {
		return err
	}
	d.clk.Sleep(resetDelay)
	return d.WriteRegister(RegConfig0, 0)
}

// Enable sets or clears the enable bit of CONFIG0 preserving the other bits.
func (d *Device) Enable(enable bool) error {
	if enable {
		return d.modifyRegister(RegConfig0, 0, config0Enable)
	}
	return d.modifyRegister(RegConfig0, config0Enable, 0)
}

// Calibrate starts a calibration cycle and waits up to CalibrationTimeout for
// the calibration-done flag. On success the flag is cleared and the
// calibration value is cached. On timeout the cached value is left untouched.
//
// The calibrate bit of CONFIG0 is set but never cleared by the driver.
func (d *Device) Calibrate() error {
	err := d.modifyRegister(RegConfig0, 0, config0Calibrate)
	if err != nil {
		return err
	}
	start := d.clk.Now()
	for d.clk.Now().Sub(start) < CalibrationTimeout {
		status, err := d.InterruptStatus()
		if err != nil {
			return err
		}
		if status.CalibrationDone() {
			if err = d.ClearInterrupts(IntCalibrationDone); err != nil {
				return err
			}
			cal, err := d.CalibrationValue()
			if err != nil {
				return err
			}
			d.calibration = cal
			d.debug("Calibrate:done", slog.Uint64("cal", uint64(cal)))
			return nil
		}
		d.clk.Sleep(pollInterval)
	}
	return ErrCalibrationTimeout
}

// Calibration returns the value cached by the last successful Calibrate.
func (d *Device) Calibration() uint16 { return d.calibration }

// SetMode selects single shot or continuous measurement.
func (d *Device) SetMode(mode Mode) error {
	var set uint8 = config0Mode1
	if mode == ModeContinuous {
		set = config0Mode2
	}
	return d.modifyRegister(RegConfig0, config0ModeMask, set)
}

// SetTimeout sets the 4 bit measurement timeout field of CONFIG1.
// Values above 15 are clamped.
func (d *Device) SetTimeout(timeout uint8) error {
	timeout = clamp(timeout, 0, maxTimeout)
	return d.modifyRegister(RegConfig1, config1TimeoutMask, timeout&config1TimeoutMask)
}

// SetAveragingCycles sets the averaging field of CONFIG1. 0..3 select
// 1, 2, 4 or 8 averages; values above 3 are clamped.
func (d *Device) SetAveragingCycles(cycles uint8) error {
	cycles = clamp(cycles, 0, maxAveraging)
	return d.modifyRegister(RegConfig1, config1AvgMask, (cycles<<config1AvgShift)&config1AvgMask)
}

// StartMeasurement triggers a measurement. There is no acknowledgement;
// poll IsResultReady or use WaitResult.
func (d *Device) StartMeasurement() error {
	return d.WriteRegister(RegFire, 0x01)
}

// IsResultReady reports whether the new-result flag is set. The flag is
// not cleared.
func (d *Device) IsResultReady() (bool, error) {
	status, err := d.InterruptStatus()
	return status.NewResult(), err
}

// ReadResult reads the time result into dst. If no new result is flagged
// dst is marked invalid and ErrNotReady is returned without further bus
// traffic. On success the new-result flag is cleared.
func (d *Device) ReadResult(dst *Result) error {
	if dst == nil {
		return errNilResult
	}
	ready, err := d.IsResultReady()
	if err != nil || !ready {
		dst.Valid = false
		if err == nil {
			err = ErrNotReady
		}
		return err
	}
	buf := d.buf[:4]
	if err = d.ReadRegisters(RegTimeResult0, buf); err != nil {
		dst.Valid = false
		return err
	}
	dst.Time = uint32(buf[3])<<24 | uint32(buf[2])<<16 | uint32(buf[1])<<8 | uint32(buf[0])
	dst.Valid = true
	dst.Channel = 0
	return d.ClearInterrupts(IntNewResult)
}

// TimePicoseconds reads a result and returns its time in picoseconds or 0
// when no valid result is available.
func (d *Device) TimePicoseconds() (uint32, error) {
	var r Result
	err := d.ReadResult(&r)
	if !r.Valid {
		return 0, err
	}
	return r.Time, err
}

// TimeNanoseconds is TimePicoseconds divided by 1000.
func (d *Device) TimeNanoseconds() (float64, error) {
	ps, err := d.TimePicoseconds()
	return float64(ps) / 1000.0, err
}

// WaitResult polls the new-result flag every millisecond until it is set or
// timeout elapses. It returns early with ErrMeasurementTimeout if the chip
// raises its own timeout flag, which is left set.
func (d *Device) WaitResult(timeout time.Duration) error {
	start := d.clk.Now()
	for {
		status, err := d.InterruptStatus()
		if err != nil {
			return err
		} else if status.NewResult() {
			return nil
		} else if status.Timeout() {
			d.debug("WaitResult:chip-timeout")
			return ErrMeasurementTimeout
		}
		if d.clk.Now().Sub(start) >= timeout {
			return ErrMeasurementTimeout
		}
		d.clk.Sleep(pollInterval)
	}
}

// NextResult waits up to timeout for a result and reads it into dst. Used in
// continuous mode or after StartMeasurement. On a chip timeout the flag is
// cleared before ErrMeasurementTimeout is returned so the next call waits for
// a fresh result.
func (d *Device) NextResult(dst *Result, timeout time.Duration) error {
	err := d.WaitResult(timeout)
	if errors.Is(err, ErrMeasurementTimeout) {
		if cerr := d.ClearInterrupts(IntTimeout); cerr != nil {
			return cerr
		}
		return err
	} else if err != nil {
		return err
	}
	return d.ReadResult(dst)
}

// Measure clears a stale chip timeout flag, triggers a measurement and waits
// up to MeasurementTimeout for it.
func (d *Device) Measure() (r Result, err error) {
	if err = d.ClearInterrupts(IntTimeout); err != nil {
		return r, err
	}
	if err = d.StartMeasurement(); err != nil {
		return r, err
	}
	if err = d.WaitResult(MeasurementTimeout); err != nil {
		return r, err
	}
	err = d.ReadResult(&r)
	return r, err
}

// InterruptStatus reads the interrupt status register.
func (d *Device) InterruptStatus() (Interrupts, error) {
	v, err := d.ReadRegister(RegIntStatus)
	return Interrupts(v), err
}

// ClearInterrupts clears the status flags set in flags. Use IntAll to clear
// every flag.
func (d *Device) ClearInterrupts(flags Interrupts) error {
	return d.WriteRegister(RegIntStatus, uint8(flags))
}

// SetInterruptMask writes the interrupt mask register.
func (d *Device) SetInterruptMask(mask Interrupts) error {
	return d.WriteRegister(RegIntMask, uint8(mask))
}

// ChipID reads the chip identification register.
func (d *Device) ChipID() (uint8, error) {
	return d.ReadRegister(RegChipID)
}

// CalibrationValue reads the 16 bit calibration result from the chip. It
// does not update the value returned by Calibration.
func (d *Device) CalibrationValue() (uint16, error) {
	buf := d.buf[:2]
	err := d.ReadRegisters(RegCalibrationResult, buf)
	if err != nil {
		return 0, err
	}
	return uint16(buf[1])<<8 | uint16(buf[0]), nil
}

var errNilResult = errors.New("as6500: nil result")

func clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	} else if v > hi {
		return hi
	}
	return v
}
