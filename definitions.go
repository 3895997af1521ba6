package as6500

import (
	"errors"
	"strconv"
	"time"
)

// Register addresses. The address byte sent on the bus carries only the low
// 7 bits; bit 7 selects read (1) or write (0).
const (
	RegConfig0     = 0x00
	RegConfig1     = 0x01
	RegConfig2     = 0x02
	RegIntStatus   = 0x03
	RegIntMask     = 0x04
	RegFire        = 0x05
	RegTimeResult0 = 0x10 // Least significant result byte. Followed by 0x11..0x13.
	RegTimeResult1 = 0x11
	RegTimeResult2 = 0x12
	RegTimeResult3 = 0x13
	RegCalibration = 0x20
	// Calibration result, 16 bit little endian at 0x21 and 0x22.
	RegCalibrationResult = 0x21
	RegChipID            = 0x30
)

// Address byte command bits.
const (
	cmdWrite = 0x00
	cmdRead  = 0x80
	addrMask = 0x7f
)

// CONFIG0 bits.
const (
	config0Enable    = 0x01
	config0Reset     = 0x02
	config0Calibrate = 0x04
	config0ModeMask  = 0x18
	config0Mode1     = 0x00 // Single shot.
	config0Mode2     = 0x08 // Continuous.
)

// CONFIG1 bits.
const (
	config1TimeoutMask = 0x0f
	config1AvgMask     = 0x30
	config1AvgShift    = 4
)

const (
	// ChipIDValue is the content of RegChipID on a genuine part.
	ChipIDValue = 0x65
	// DefaultFrequency is the SPI clock used when Begin is passed 0.
	DefaultFrequency = 1_000_000
	// CalibrationTimeout bounds the wait for the calibration-done flag.
	CalibrationTimeout = 100 * time.Millisecond
	// MeasurementTimeout is the default wait used by Measure.
	MeasurementTimeout = 1000 * time.Millisecond

	powerUpDelay = 10 * time.Millisecond
	resetDelay   = 10 * time.Millisecond
	pollInterval = time.Millisecond
	// Chip select setup and hold time.
	settleDelay = time.Microsecond

	maxTimeout   = 15
	maxAveraging = 3
)

var (
	// ErrChipID is returned by Begin when RegChipID does not read ChipIDValue.
	ErrChipID = errors.New("as6500: chip id mismatch")
	// ErrCalibrationTimeout is returned when calibration-done is not raised within CalibrationTimeout.
	ErrCalibrationTimeout = errors.New("as6500: calibration timeout")
	// ErrNotReady is returned by ReadResult when no new result is flagged.
	ErrNotReady = errors.New("as6500: result not ready")
	// ErrMeasurementTimeout is returned by WaitResult.
	ErrMeasurementTimeout = errors.New("as6500: measurement timeout")
)

// Mode selects the measurement mode in CONFIG0.
type Mode uint8

const (
	ModeSingleShot Mode = iota
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeSingleShot:
		return "single-shot"
	case ModeContinuous:
		return "continuous"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// Interrupts is the content of the interrupt status and mask registers.
// Status bits are write-one-to-clear.
type Interrupts uint8

const (
	IntNewResult       Interrupts = 0x01
	IntTimeout         Interrupts = 0x02
	IntCalibrationDone Interrupts = 0x04
	IntError           Interrupts = 0x08
	IntAll             Interrupts = 0xff
)

func (i Interrupts) NewResult() bool       { return i&IntNewResult != 0 }
func (i Interrupts) Timeout() bool         { return i&IntTimeout != 0 }
func (i Interrupts) CalibrationDone() bool { return i&IntCalibrationDone != 0 }
func (i Interrupts) HasError() bool        { return i&IntError != 0 }

func (i Interrupts) String() (str string) {
	if i == 0 {
		return "none"
	}
	if i.NewResult() {
		str += "newresult "
	}
	if i.Timeout() {
		str += "timeout "
	}
	if i.CalibrationDone() {
		str += "caldone "
	}
	if i.HasError() {
		str += "error "
	}
	if rest := i &^ (IntNewResult | IntTimeout | IntCalibrationDone | IntError); rest != 0 {
		str += "0x" + strconv.FormatUint(uint64(rest), 16) + " "
	}
	return str[:len(str)-1]
}

// State is the initialization state of a Device. Begin walks the states in
// declaration order until StateReady or StateFailed.
type State uint8

const (
	StateUninitialized State = iota
	StatePoweringUp
	StateResetting
	StateCheckingID
	StateCalibrating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePoweringUp:
		return "powering-up"
	case StateResetting:
		return "resetting"
	case StateCheckingID:
		return "checking-id"
	case StateCalibrating:
		return "calibrating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// InitError is returned by Begin. Phase is the state Begin was in when it failed.
type InitError struct {
	Phase State
	Err   error
}

func (e *InitError) Error() string {
	return "as6500 init failed while " + e.Phase.String() + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error { return e.Err }

// Result is a single time measurement. The AS6500 is driven single channel
// so Channel is always zero.
type Result struct {
	// Time in picoseconds.
	Time    uint32
	Valid   bool
	Channel uint8
}

// Nanoseconds returns the measured time in nanoseconds.
func (r Result) Nanoseconds() float64 {
	return float64(r.Time) / 1000.0
}

// Duration returns the measured time truncated to nanosecond resolution.
func (r Result) Duration() time.Duration {
	return time.Duration(r.Time/1000) * time.Nanosecond
}

// RegisterName returns a human readable register name for the address.
// Unknown addresses are formatted in hexadecimal.
func RegisterName(reg uint8) string {
	switch reg & addrMask {
	case RegConfig0:
		return "CONFIG0"
	case RegConfig1:
		return "CONFIG1"
	case RegConfig2:
		return "CONFIG2"
	case RegIntStatus:
		return "INT_STATUS"
	case RegIntMask:
		return "INT_MASK"
	case RegFire:
		return "FIRE"
	case RegTimeResult0:
		return "TIME_RESULT0"
	case RegTimeResult1:
		return "TIME_RESULT1"
	case RegTimeResult2:
		return "TIME_RESULT2"
	case RegTimeResult3:
		return "TIME_RESULT3"
	case RegCalibration:
		return "CALIBRATION"
	case RegCalibrationResult:
		return "CALIBRATION_RES"
	case RegCalibrationResult + 1:
		return "CALIBRATION_RES1"
	case RegChipID:
		return "CHIP_ID"
	}
	return "0x" + strconv.FormatUint(uint64(reg&addrMask), 16)
}
