// Package tdcsim simulates an AS6500 behind the as6500.Bus and as6500.Pins
// interfaces. The simulated chip decodes the bit-exact register protocol
// so the driver can be exercised without hardware.
package tdcsim

import (
	"errors"
	"fmt"
	"time"

	"github.com/soypat/as6500"
)

// Never disables an event when used as a delay.
const Never time.Duration = -1

// Register bits the simulator acts on.
const (
	config0Reset     = 0x02
	config0Calibrate = 0x04
	numRegisters     = 128
	// Minimum chip select setup and hold time.
	minSettle = time.Microsecond
)

var (
	errNotSelected   = errors.New("tdcsim: transfer with chip select deasserted")
	errNoTransaction = errors.New("tdcsim: transfer outside of transaction")
	errNotOutput     = errors.New("tdcsim: chip select pin not configured as output")
	errBusNotBegun   = errors.New("tdcsim: bus not begun")
)

// Config configures a simulated chip.
type Config struct {
	// CS is the chip select pin the chip listens on.
	CS     as6500.Pin
	ChipID uint8
	// CalibrationDelay is the time between a calibrate request and the
	// calibration-done flag. Never disables calibration completion.
	CalibrationDelay time.Duration
	CalibrationValue uint16
	// SelfClearCalibrate clears the CONFIG0 calibrate bit when calibration
	// completes.
	SelfClearCalibrate bool
	// MeasurementDelay is the time between a fire and the new-result flag.
	MeasurementDelay time.Duration
}

// DefaultConfig returns the configuration of a genuine part that calibrates
// in 5ms.
func DefaultConfig() Config {
	return Config{
		ChipID:           as6500.ChipIDValue,
		CalibrationDelay: 5 * time.Millisecond,
		CalibrationValue: 0x1234,
		MeasurementDelay: 100 * time.Microsecond,
	}
}

// Transaction is a decoded register transaction as seen on the wire.
type Transaction struct {
	Read bool
	Addr uint8
	Data []byte
}

func (tx Transaction) String() string {
	dir := "write"
	if tx.Read {
		dir = "read"
	}
	return fmt.Sprintf("%s %s % x", dir, as6500.RegisterName(tx.Addr), tx.Data)
}

// Chip is a simulated AS6500. It implements as6500.Bus and as6500.Pins.
type Chip struct {
	cfg  Config
	clk  *Clock
	regs [numRegisters]byte

	outputs    map[as6500.Pin]bool
	levels     map[as6500.Pin]bool
	begun      bool
	inTx       bool
	busCfg     as6500.BusConfig
	selected   bool
	csLowAt    time.Time
	lastXferAt time.Time
	haveAddr   bool
	ptr        uint8
	cur        Transaction
	log        []Transaction
	violations int

	calPending   bool
	calStart     time.Time
	calibrations int
	firePending  bool
	fireAt       time.Time
	queue        []uint32
}

var (
	_ as6500.Bus  = (*Chip)(nil)
	_ as6500.Pins = (*Chip)(nil)
)

// New returns a powered up chip using its own simulated Clock.
func New(cfg Config) *Chip {
	c := &Chip{
		cfg:     cfg,
		clk:     NewClock(),
		outputs: make(map[as6500.Pin]bool),
		levels:  make(map[as6500.Pin]bool),
	}
	c.powerOn()
	return c
}

// NewDevice returns a Device wired to a new simulated chip and its clock.
func NewDevice(cfg Config, devcfg as6500.Config) (*as6500.Device, *Chip) {
	c := New(cfg)
	devcfg.Clock = c.clk
	return as6500.New(c, c, cfg.CS, devcfg), c
}

// Clock returns the simulated clock. Pass it as the Device clock.
func (c *Chip) Clock() *Clock { return c.clk }

func (c *Chip) powerOn() {
	c.regs = [numRegisters]byte{}
	c.regs[as6500.RegChipID] = c.cfg.ChipID
	c.calPending = false
	c.firePending = false
}

// SetChipID changes the value read from the chip ID register.
func (c *Chip) SetChipID(id uint8) {
	c.cfg.ChipID = id
	c.regs[as6500.RegChipID] = id
}

// SetCalibrationDelay changes the calibration time of later calibrations.
func (c *Chip) SetCalibrationDelay(d time.Duration) { c.cfg.CalibrationDelay = d }

// SetCalibrationValue changes the value reported by later calibrations.
func (c *Chip) SetCalibrationValue(v uint16) { c.cfg.CalibrationValue = v }

// QueueResult appends results returned by subsequent fires, in order.
func (c *Chip) QueueResult(ps ...uint32) { c.queue = append(c.queue, ps...) }

// SetResult loads ps into the result registers and raises the new-result flag.
func (c *Chip) SetResult(ps uint32) {
	c.loadResult(ps)
}

// Peek returns a register value without going through the bus.
func (c *Chip) Peek(addr uint8) uint8 {
	c.update()
	return c.regs[addr%numRegisters]
}

// Poke sets a register value without going through the bus or triggering
// register side effects.
func (c *Chip) Poke(addr, v uint8) { c.regs[addr%numRegisters] = v }

// Transactions returns the decoded transactions since the last ClearLog.
func (c *Chip) Transactions() []Transaction { return c.log }

// ClearLog discards the transaction log.
func (c *Chip) ClearLog() { c.log = c.log[:0] }

// SettleViolations counts transactions whose chip select setup or hold time
// was shorter than 1µs.
func (c *Chip) SettleViolations() int { return c.violations }

// Calibrations returns the number of calibrations started since power on.
func (c *Chip) Calibrations() int { return c.calibrations }

// Selected reports whether chip select is asserted.
func (c *Chip) Selected() bool { return c.selected }

// BusConfig returns the profile of the last transaction.
func (c *Chip) BusConfig() as6500.BusConfig { return c.busCfg }

// Level returns the last level driven on pin.
func (c *Chip) Level(pin as6500.Pin) bool { return c.levels[pin] }

func (c *Chip) Begin() error {
	c.begun = true
	return nil
}

func (c *Chip) BeginTransaction(cfg as6500.BusConfig) error {
	if !c.begun {
		return errBusNotBegun
	}
	if c.inTx {
		return errors.New("tdcsim: nested transaction")
	}
	if cfg.Mode != 0 || cfg.BitOrder != as6500.MSBFirst {
		return fmt.Errorf("tdcsim: unsupported bus profile mode=%d order=%d", cfg.Mode, cfg.BitOrder)
	}
	if cfg.Frequency == 0 {
		return errors.New("tdcsim: zero bus frequency")
	}
	c.busCfg = cfg
	c.inTx = true
	return nil
}

func (c *Chip) Transfer(b byte) (byte, error) {
	if !c.inTx {
		return 0, errNoTransaction
	}
	if !c.selected {
		return 0, errNotSelected
	}
	now := c.clk.Now()
	c.lastXferAt = now
	if !c.haveAddr {
		if now.Sub(c.csLowAt) < minSettle {
			c.violations++
		}
		c.haveAddr = true
		c.ptr = b & 0x7f
		c.cur = Transaction{Read: b&0x80 != 0, Addr: c.ptr}
		return 0, nil
	}
	var out byte
	if c.cur.Read {
		out = c.read(c.ptr)
		c.cur.Data = append(c.cur.Data, out)
	} else {
		c.write(c.ptr, b)
		c.cur.Data = append(c.cur.Data, b)
	}
	c.ptr = (c.ptr + 1) % numRegisters
	return out, nil
}

func (c *Chip) EndTransaction() error {
	if !c.inTx {
		return errNoTransaction
	}
	c.inTx = false
	if c.selected {
		return errors.New("tdcsim: transaction ended with chip select asserted")
	}
	return nil
}

func (c *Chip) ConfigureOutput(pin as6500.Pin) error {
	c.outputs[pin] = true
	return nil
}

func (c *Chip) Set(pin as6500.Pin, high bool) error {
	if !c.outputs[pin] {
		return errNotOutput
	}
	c.levels[pin] = high
	if pin != c.cfg.CS {
		return nil
	}
	now := c.clk.Now()
	switch {
	case !high && !c.selected:
		c.selected = true
		c.csLowAt = now
		c.haveAddr = false
	case high && c.selected:
		c.selected = false
		if c.haveAddr {
			if now.Sub(c.lastXferAt) < minSettle {
				c.violations++
			}
			c.log = append(c.log, c.cur)
		}
		c.haveAddr = false
	}
	return nil
}

func (c *Chip) read(addr uint8) uint8 {
	c.update()
	return c.regs[addr]
}

func (c *Chip) write(addr, v uint8) {
	c.update()
	switch addr {
	case as6500.RegConfig0:
		c.regs[addr] = v
		if v&config0Reset != 0 {
			c.softReset()
		}
		if v&config0Calibrate != 0 {
			c.calibrations++
			c.calPending = true
			c.calStart = c.clk.Now()
		}
	case as6500.RegIntStatus:
		c.regs[addr] &^= v
	case as6500.RegFire:
		c.regs[addr] = v
		if v != 0 {
			c.firePending = true
			c.fireAt = c.clk.Now().Add(c.cfg.MeasurementDelay)
		}
	case as6500.RegChipID,
		as6500.RegTimeResult0, as6500.RegTimeResult1, as6500.RegTimeResult2, as6500.RegTimeResult3,
		as6500.RegCalibrationResult, as6500.RegCalibrationResult + 1:
		// Read only.
	default:
		c.regs[addr] = v
	}
}

// softReset clears every register but CONFIG0 and the chip ID.
func (c *Chip) softReset() {
	cfg0 := c.regs[as6500.RegConfig0]
	c.powerOn()
	c.regs[as6500.RegConfig0] = cfg0 &^ config0Calibrate
}

// update applies time based events.
func (c *Chip) update() {
	now := c.clk.Now()
	if c.calPending && c.cfg.CalibrationDelay >= 0 && !now.Before(c.calStart.Add(c.cfg.CalibrationDelay)) {
		c.calPending = false
		c.regs[as6500.RegCalibrationResult] = byte(c.cfg.CalibrationValue)
		c.regs[as6500.RegCalibrationResult+1] = byte(c.cfg.CalibrationValue >> 8)
		c.regs[as6500.RegIntStatus] |= uint8(as6500.IntCalibrationDone)
		if c.cfg.SelfClearCalibrate {
			c.regs[as6500.RegConfig0] &^= config0Calibrate
		}
	}
	if c.firePending && c.cfg.MeasurementDelay >= 0 && !now.Before(c.fireAt) {
		c.firePending = false
		if len(c.queue) == 0 {
			c.regs[as6500.RegIntStatus] |= uint8(as6500.IntTimeout)
			return
		}
		ps := c.queue[0]
		c.queue = c.queue[1:]
		c.loadResult(ps)
	}
}

func (c *Chip) loadResult(ps uint32) {
	c.regs[as6500.RegTimeResult0] = byte(ps)
	c.regs[as6500.RegTimeResult1] = byte(ps >> 8)
	c.regs[as6500.RegTimeResult2] = byte(ps >> 16)
	c.regs[as6500.RegTimeResult3] = byte(ps >> 24)
	c.regs[as6500.RegIntStatus] |= uint8(as6500.IntNewResult)
}
