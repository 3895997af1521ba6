package as6500

import (
	"log/slog"

	"go.uber.org/multierr"
)

// as_io.go contains the register level primitives. A transaction is:
// chip select low, one address byte (bit 7 set for reads), one or more
// payload bytes, chip select high. The chip auto-increments its register
// pointer across payload bytes so multi-byte reads send the address once.

// WriteRegister writes a single register.
func (d *Device) WriteRegister(reg, value uint8) (err error) {
	if err = d.beginTransaction(); err != nil {
		return err
	}
	_, err = d.bus.Transfer(addrByte(false, reg))
	if err == nil {
		_, err = d.bus.Transfer(value)
	}
	err = multierr.Append(err, d.endTransaction())
	d.trace("as65:write", slog.String("reg", RegisterName(reg)), u8attr("val", value), errattr(err))
	return err
}

// ReadRegister reads a single register.
func (d *Device) ReadRegister(reg uint8) (value uint8, err error) {
	if err = d.beginTransaction(); err != nil {
		return 0, err
	}
	_, err = d.bus.Transfer(addrByte(true, reg))
	if err == nil {
		value, err = d.bus.Transfer(0)
	}
	err = multierr.Append(err, d.endTransaction())
	d.trace("as65:read", slog.String("reg", RegisterName(reg)), u8attr("val", value), errattr(err))
	return value, err
}

// ReadRegisters reads len(dst) consecutive registers starting at reg in a
// single transaction.
func (d *Device) ReadRegisters(reg uint8, dst []byte) (err error) {
	if err = d.beginTransaction(); err != nil {
		return err
	}
	_, err = d.bus.Transfer(addrByte(true, reg))
	for i := 0; i < len(dst) && err == nil; i++ {
		dst[i], err = d.bus.Transfer(0)
	}
	err = multierr.Append(err, d.endTransaction())
	d.trace("as65:readn", slog.String("reg", RegisterName(reg)), slog.Int("n", len(dst)), errattr(err))
	return err
}

// modifyRegister performs a read-modify-write clearing the clear bits and
// then setting the set bits.
func (d *Device) modifyRegister(reg, clear, set uint8) error {
	v, err := d.ReadRegister(reg)
	if err != nil {
		return err
	}
	return d.WriteRegister(reg, v&^clear|set)
}

func (d *Device) beginTransaction() error {
	err := d.bus.BeginTransaction(d.busCfg)
	if err != nil {
		return err
	}
	err = d.pins.Set(d.cs, false)
	if err != nil {
		return multierr.Append(err, d.bus.EndTransaction())
	}
	d.clk.Sleep(settleDelay)
	return nil
}

func (d *Device) endTransaction() error {
	d.clk.Sleep(settleDelay)
	err := d.pins.Set(d.cs, true)
	return multierr.Append(err, d.bus.EndTransaction())
}

// addrByte encodes the register address and direction into the first byte
// of a transaction.
//
//go:inline
func addrByte(read bool, reg uint8) byte {
	if read {
		return cmdRead | reg&addrMask
	}
	return cmdWrite | reg&addrMask
}

func errattr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", err.Error())
}
