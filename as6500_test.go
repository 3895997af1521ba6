package as6500_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/soypat/as6500"
	"github.com/soypat/as6500/tdcsim"
)

const testCS as6500.Pin = 17

func newSim(t *testing.T, cfg tdcsim.Config) (*as6500.Device, *tdcsim.Chip) {
	t.Helper()
	cfg.CS = testCS
	return tdcsim.NewDevice(cfg, as6500.Config{})
}

func newReady(t *testing.T) (*as6500.Device, *tdcsim.Chip) {
	t.Helper()
	dev, chip := newSim(t, tdcsim.DefaultConfig())
	err := dev.Begin(1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	chip.ClearLog()
	return dev, chip
}

func TestBegin(t *testing.T) {
	dev, chip := newSim(t, tdcsim.DefaultConfig())
	if dev.State() != as6500.StateUninitialized {
		t.Fatal("new device not uninitialized:", dev.State())
	}
	start := chip.Clock().Now()
	err := dev.Begin(1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if dev.State() != as6500.StateReady {
		t.Error("want ready state, got", dev.State())
	}
	if dev.Calibration() != 0x1234 {
		t.Errorf("cached calibration %#x, want 0x1234", dev.Calibration())
	}
	wantCfg := as6500.BusConfig{Frequency: 1_000_000, BitOrder: as6500.MSBFirst, Mode: 0}
	if chip.BusConfig() != wantCfg {
		t.Errorf("bus config %+v, want %+v", chip.BusConfig(), wantCfg)
	}
	if !chip.Level(testCS) || chip.Selected() {
		t.Error("chip select left asserted")
	}
	if n := chip.SettleViolations(); n != 0 {
		t.Error("chip select settle violations:", n)
	}
	if status := as6500.Interrupts(chip.Peek(as6500.RegIntStatus)); status != 0 {
		t.Error("pending interrupts after begin:", status)
	}
	took := chip.Clock().Now().Sub(start)
	if took < 30*time.Millisecond || took > 60*time.Millisecond {
		t.Error("unexpected begin duration", took)
	}

	// Reset, id check and calibration start, in that order.
	wantPrefix := []tdcsim.Transaction{
		{Read: false, Addr: as6500.RegConfig0, Data: []byte{0x02}},
		{Read: false, Addr: as6500.RegConfig0, Data: []byte{0x00}},
		{Read: true, Addr: as6500.RegChipID, Data: []byte{as6500.ChipIDValue}},
		{Read: true, Addr: as6500.RegConfig0, Data: []byte{0x00}},
		{Read: false, Addr: as6500.RegConfig0, Data: []byte{0x04}},
	}
	got := chip.Transactions()
	if len(got) < len(wantPrefix) {
		t.Fatal("too few transactions", got)
	}
	if diff := cmp.Diff(wantPrefix, got[:len(wantPrefix)]); diff != "" {
		t.Error("begin sequence mismatch (-want +got):\n" + diff)
	}
	wantSuffix := []tdcsim.Transaction{
		{Read: false, Addr: as6500.RegIntStatus, Data: []byte{uint8(as6500.IntCalibrationDone)}},
		{Read: true, Addr: as6500.RegCalibrationResult, Data: []byte{0x34, 0x12}},
		{Read: false, Addr: as6500.RegIntStatus, Data: []byte{0xff}},
	}
	if diff := cmp.Diff(wantSuffix, got[len(got)-len(wantSuffix):]); diff != "" {
		t.Error("begin tail mismatch (-want +got):\n" + diff)
	}
}

func TestBeginDefaultFrequency(t *testing.T) {
	dev, chip := newSim(t, tdcsim.DefaultConfig())
	if err := dev.Begin(0); err != nil {
		t.Fatal(err)
	}
	if chip.BusConfig().Frequency != as6500.DefaultFrequency {
		t.Error("want default frequency, got", chip.BusConfig().Frequency)
	}
}

func TestBeginChipIDMismatch(t *testing.T) {
	cfg := tdcsim.DefaultConfig()
	cfg.ChipID = 0x99
	dev, chip := newSim(t, cfg)
	err := dev.Begin(1_000_000)
	if !errors.Is(err, as6500.ErrChipID) {
		t.Fatal("want chip id error, got", err)
	}
	var ierr *as6500.InitError
	if !errors.As(err, &ierr) || ierr.Phase != as6500.StateCheckingID {
		t.Errorf("want failure while checking id, got %v", err)
	}
	if dev.State() != as6500.StateFailed {
		t.Error("want failed state, got", dev.State())
	}
	if chip.Calibrations() != 0 {
		t.Error("calibration attempted after id mismatch")
	}

	// Retrying from the failed state succeeds once the chip answers.
	chip.SetChipID(as6500.ChipIDValue)
	if err = dev.Begin(1_000_000); err != nil {
		t.Fatal("retry:", err)
	}
	if dev.State() != as6500.StateReady {
		t.Error("retry did not reach ready state")
	}
}

func TestBeginCalibrationTimeout(t *testing.T) {
	cfg := tdcsim.DefaultConfig()
	cfg.CalibrationDelay = tdcsim.Never
	dev, _ := newSim(t, cfg)
	err := dev.Begin(1_000_000)
	if !errors.Is(err, as6500.ErrCalibrationTimeout) {
		t.Fatal("want calibration timeout, got", err)
	}
	var ierr *as6500.InitError
	if !errors.As(err, &ierr) || ierr.Phase != as6500.StateCalibrating {
		t.Errorf("want failure while calibrating, got %v", err)
	}
	if dev.State() != as6500.StateFailed {
		t.Error("want failed state, got", dev.State())
	}
}

func TestCalibrateTimeoutKeepsCachedValue(t *testing.T) {
	dev, chip := newReady(t)
	chip.SetCalibrationDelay(tdcsim.Never)
	chip.SetCalibrationValue(0xbeef)
	start := chip.Clock().Now()
	err := dev.Calibrate()
	if !errors.Is(err, as6500.ErrCalibrationTimeout) {
		t.Fatal("want timeout, got", err)
	}
	if waited := chip.Clock().Now().Sub(start); waited < as6500.CalibrationTimeout {
		t.Error("returned before calibration timeout elapsed:", waited)
	}
	if dev.Calibration() != 0x1234 {
		t.Errorf("cached calibration changed to %#x", dev.Calibration())
	}

	chip.SetCalibrationDelay(2 * time.Millisecond)
	if err = dev.Calibrate(); err != nil {
		t.Fatal(err)
	}
	if dev.Calibration() != 0xbeef {
		t.Errorf("cached calibration %#x, want 0xbeef", dev.Calibration())
	}
	if chip.Peek(as6500.RegConfig0)&0x04 == 0 {
		t.Error("calibrate bit was cleared by driver")
	}
}

func TestRegisterReadback(t *testing.T) {
	dev, _ := newReady(t)
	writable := []uint8{
		as6500.RegConfig1,
		as6500.RegConfig2,
		as6500.RegIntMask,
		as6500.RegCalibration,
		0x40, 0x7f,
	}
	for _, reg := range writable {
		for _, v := range []uint8{0x00, 0x01, 0x5a, 0xa5, 0xff} {
			if err := dev.WriteRegister(reg, v); err != nil {
				t.Fatal(err)
			}
			got, err := dev.ReadRegister(reg)
			if err != nil {
				t.Fatal(err)
			}
			if got != v {
				t.Errorf("%s: wrote %#x, read %#x", as6500.RegisterName(reg), v, got)
			}
		}
	}
	// CONFIG0 without the self-acting reset and calibrate bits.
	for _, v := range []uint8{0x01, 0x08, 0x18, 0xf9} {
		dev.WriteRegister(as6500.RegConfig0, v)
		got, _ := dev.ReadRegister(as6500.RegConfig0)
		if got != v {
			t.Errorf("CONFIG0: wrote %#x, read %#x", v, got)
		}
	}
}

func TestReadResult(t *testing.T) {
	dev, chip := newReady(t)
	var r as6500.Result
	r.Valid = true
	err := dev.ReadResult(&r)
	if !errors.Is(err, as6500.ErrNotReady) {
		t.Fatal("want not ready, got", err)
	}
	if r.Valid {
		t.Error("result marked valid when not ready")
	}
	want := []tdcsim.Transaction{{Read: true, Addr: as6500.RegIntStatus, Data: []byte{0}}}
	if diff := cmp.Diff(want, chip.Transactions()); diff != "" {
		t.Error("not-ready read touched the bus (-want +got):\n" + diff)
	}

	chip.ClearLog()
	chip.SetResult(123456)
	if err = dev.ReadResult(&r); err != nil {
		t.Fatal(err)
	}
	if !r.Valid || r.Time != 123456 || r.Channel != 0 {
		t.Errorf("unexpected result %+v", r)
	}
	want = []tdcsim.Transaction{
		{Read: true, Addr: as6500.RegIntStatus, Data: []byte{0x01}},
		{Read: true, Addr: as6500.RegTimeResult0, Data: []byte{0x40, 0xe2, 0x01, 0x00}},
		{Read: false, Addr: as6500.RegIntStatus, Data: []byte{0x01}},
	}
	if diff := cmp.Diff(want, chip.Transactions()); diff != "" {
		t.Error("result read sequence mismatch (-want +got):\n" + diff)
	}
	if as6500.Interrupts(chip.Peek(as6500.RegIntStatus)).NewResult() {
		t.Error("new result flag not cleared")
	}
	// Flag cleared exactly once per result.
	if err = dev.ReadResult(&r); !errors.Is(err, as6500.ErrNotReady) || r.Valid {
		t.Error("second read of same result succeeded")
	}
}

func TestReadyFlagHeldUntilRead(t *testing.T) {
	dev, chip := newReady(t)
	chip.SetResult(1)
	for i := 0; i < 3; i++ {
		ready, err := dev.IsResultReady()
		if err != nil {
			t.Fatal(err)
		}
		if !ready {
			t.Fatal("ready flag dropped without read")
		}
	}
}

func TestResultByteOrder(t *testing.T) {
	dev, chip := newReady(t)
	chip.Poke(as6500.RegTimeResult0, 0x10)
	chip.Poke(as6500.RegTimeResult1, 0x20)
	chip.Poke(as6500.RegTimeResult2, 0x30)
	chip.Poke(as6500.RegTimeResult3, 0x40)
	var buf [4]byte
	if err := dev.ReadRegisters(as6500.RegTimeResult0, buf[:]); err != nil {
		t.Fatal(err)
	}
	if buf != [4]byte{0x10, 0x20, 0x30, 0x40} {
		t.Error("multi-byte read mismatch", buf)
	}
	chip.Poke(as6500.RegIntStatus, uint8(as6500.IntNewResult))
	var r as6500.Result
	if err := dev.ReadResult(&r); err != nil {
		t.Fatal(err)
	}
	if r.Time != 0x40302010 {
		t.Errorf("time %#x, want 0x40302010", r.Time)
	}
}

func TestTimeNanoseconds(t *testing.T) {
	dev, chip := newReady(t)
	for _, ps := range []uint32{0, 1, 999, 1000, 1500, 123456789, 0xffffffff} {
		chip.SetResult(ps)
		ns, err := dev.TimeNanoseconds()
		if err != nil {
			t.Fatal(err)
		}
		chip.SetResult(ps)
		gotps, err := dev.TimePicoseconds()
		if err != nil {
			t.Fatal(err)
		}
		if gotps != ps {
			t.Errorf("picoseconds %d, want %d", gotps, ps)
		}
		if ns != float64(gotps)/1000.0 {
			t.Errorf("nanoseconds %v, want %v", ns, float64(gotps)/1000.0)
		}
	}
	ps, err := dev.TimePicoseconds()
	if ps != 0 || !errors.Is(err, as6500.ErrNotReady) {
		t.Error("want 0 and not ready without result, got", ps, err)
	}
	ns, _ := dev.TimeNanoseconds()
	if ns != 0 {
		t.Error("want 0ns without result, got", ns)
	}
}

func TestConfig1Fields(t *testing.T) {
	dev, chip := newReady(t)
	const other = 0xc0
	if err := dev.WriteRegister(as6500.RegConfig1, other|0x25); err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		timeout uint8
		want    uint8
	}{
		{0, 0}, {7, 7}, {15, 15}, {16, 15}, {200, 15}, {255, 15},
	} {
		if err := dev.SetTimeout(test.timeout); err != nil {
			t.Fatal(err)
		}
		got := chip.Peek(as6500.RegConfig1)
		if got&0x0f != test.want {
			t.Errorf("SetTimeout(%d): field %d, want %d", test.timeout, got&0x0f, test.want)
		}
		if got&0xf0 != other|0x20 {
			t.Errorf("SetTimeout(%d) clobbered other bits: %#x", test.timeout, got)
		}
	}
	dev.SetTimeout(9)
	for _, test := range []struct {
		cycles uint8
		want   uint8
	}{
		{0, 0}, {1, 1}, {3, 3}, {4, 3}, {255, 3},
	} {
		if err := dev.SetAveragingCycles(test.cycles); err != nil {
			t.Fatal(err)
		}
		got := chip.Peek(as6500.RegConfig1)
		if (got>>4)&0x3 != test.want {
			t.Errorf("SetAveragingCycles(%d): field %d, want %d", test.cycles, (got>>4)&3, test.want)
		}
		if got&^0x30 != other|9 {
			t.Errorf("SetAveragingCycles(%d) clobbered other bits: %#x", test.cycles, got)
		}
	}
}

func TestConfig0Fields(t *testing.T) {
	dev, chip := newReady(t)
	if err := dev.WriteRegister(as6500.RegConfig0, 0xe0); err != nil {
		t.Fatal(err)
	}
	dev.Enable(true)
	if got := chip.Peek(as6500.RegConfig0); got != 0xe1 {
		t.Errorf("enable: %#x, want 0xe1", got)
	}
	dev.SetMode(as6500.ModeContinuous)
	if got := chip.Peek(as6500.RegConfig0); got != 0xe9 {
		t.Errorf("continuous: %#x, want 0xe9", got)
	}
	chip.Poke(as6500.RegConfig0, 0xf9)
	dev.SetMode(as6500.ModeSingleShot)
	if got := chip.Peek(as6500.RegConfig0); got != 0xe1 {
		t.Errorf("single shot: %#x, want 0xe1", got)
	}
	dev.Enable(false)
	if got := chip.Peek(as6500.RegConfig0); got != 0xe0 {
		t.Errorf("disable: %#x, want 0xe0", got)
	}
}

func TestInterruptRegisters(t *testing.T) {
	dev, chip := newReady(t)
	chip.Poke(as6500.RegIntStatus, 0x0f)
	status, err := dev.InterruptStatus()
	if err != nil {
		t.Fatal(err)
	}
	if status != 0x0f {
		t.Errorf("status %v", status)
	}
	dev.ClearInterrupts(as6500.IntTimeout | as6500.IntError)
	if got := chip.Peek(as6500.RegIntStatus); got != 0x05 {
		t.Errorf("after partial clear %#x, want 0x05", got)
	}
	dev.ClearInterrupts(as6500.IntAll)
	if got := chip.Peek(as6500.RegIntStatus); got != 0 {
		t.Errorf("after clear all %#x", got)
	}
	dev.SetInterruptMask(as6500.IntNewResult | as6500.IntError)
	if got := chip.Peek(as6500.RegIntMask); got != 0x09 {
		t.Errorf("mask %#x, want 0x09", got)
	}
}

func TestChipIDAndCalibrationValue(t *testing.T) {
	dev, chip := newReady(t)
	id, err := dev.ChipID()
	if err != nil || id != as6500.ChipIDValue {
		t.Error("chip id", id, err)
	}
	chip.Poke(as6500.RegCalibrationResult, 0xcd)
	chip.Poke(as6500.RegCalibrationResult+1, 0xab)
	cal, err := dev.CalibrationValue()
	if err != nil || cal != 0xabcd {
		t.Errorf("calibration value %#x %v", cal, err)
	}
	if dev.Calibration() == 0xabcd {
		t.Error("CalibrationValue updated cached calibration")
	}
}

func TestMeasure(t *testing.T) {
	dev, chip := newReady(t)
	chip.QueueResult(5000, 7000)
	for _, want := range []uint32{5000, 7000} {
		r, err := dev.Measure()
		if err != nil {
			t.Fatal(err)
		}
		if !r.Valid || r.Time != want {
			t.Errorf("measure got %+v, want time %d", r, want)
		}
	}
	// Fire with nothing to measure raises the chip timeout flag only.
	if err := dev.StartMeasurement(); err != nil {
		t.Fatal(err)
	}
	err := dev.WaitResult(5 * time.Millisecond)
	if !errors.Is(err, as6500.ErrMeasurementTimeout) {
		t.Error("want measurement timeout, got", err)
	}
	status, _ := dev.InterruptStatus()
	if !status.Timeout() {
		t.Error("want chip timeout flag, got", status)
	}
	// Stale timeout flag does not fail the next measurement.
	chip.QueueResult(9000)
	r, err := dev.Measure()
	if err != nil || r.Time != 9000 {
		t.Error("measure after chip timeout:", r, err)
	}
}

func TestNextResultClearsChipTimeout(t *testing.T) {
	const timeout = 5 * time.Millisecond
	dev, chip := newReady(t)
	clk := chip.Clock()
	var r as6500.Result
	// Fire with nothing queued: chip raises its timeout flag.
	if err := dev.StartMeasurement(); err != nil {
		t.Fatal(err)
	}
	err := dev.NextResult(&r, timeout)
	if !errors.Is(err, as6500.ErrMeasurementTimeout) {
		t.Fatal("want measurement timeout, got", err)
	}
	if status, _ := dev.InterruptStatus(); status.Timeout() {
		t.Error("chip timeout flag left set", status)
	}
	// Without a fire every pass waits out the full timeout.
	for i := 0; i < 3; i++ {
		start := clk.Now()
		err = dev.NextResult(&r, timeout)
		if !errors.Is(err, as6500.ErrMeasurementTimeout) {
			t.Fatalf("pass %d: want measurement timeout, got %v", i, err)
		}
		if took := clk.Now().Sub(start); took < timeout {
			t.Errorf("pass %d returned after %s, want at least %s", i, took, timeout)
		}
	}
	chip.QueueResult(4200)
	if err = dev.StartMeasurement(); err != nil {
		t.Fatal(err)
	}
	if err = dev.NextResult(&r, timeout); err != nil || !r.Valid || r.Time != 4200 {
		t.Error("next result after cleared timeout:", r, err)
	}
}

func TestReset(t *testing.T) {
	dev, chip := newReady(t)
	dev.WriteRegister(as6500.RegConfig1, 0x3f)
	dev.Enable(true)
	if err := dev.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := chip.Peek(as6500.RegConfig0); got != 0 {
		t.Errorf("CONFIG0 %#x after reset", got)
	}
	if got := chip.Peek(as6500.RegConfig1); got != 0 {
		t.Errorf("CONFIG1 %#x after reset", got)
	}
	if got := chip.Peek(as6500.RegChipID); got != as6500.ChipIDValue {
		t.Errorf("chip id lost on reset: %#x", got)
	}
}

func TestResultHelpers(t *testing.T) {
	r := as6500.Result{Time: 1_234_567, Valid: true}
	if r.Nanoseconds() != 1234.567 {
		t.Error("nanoseconds", r.Nanoseconds())
	}
	if r.Duration() != 1234*time.Nanosecond {
		t.Error("duration", r.Duration())
	}
}

func TestStringers(t *testing.T) {
	for _, test := range []struct {
		got, want string
	}{
		{as6500.Interrupts(0).String(), "none"},
		{(as6500.IntNewResult | as6500.IntCalibrationDone).String(), "newresult caldone"},
		{as6500.Interrupts(0x18).String(), "error 0x10"},
		{as6500.StateCheckingID.String(), "checking-id"},
		{as6500.State(42).String(), "State(42)"},
		{as6500.ModeContinuous.String(), "continuous"},
		{as6500.RegisterName(as6500.RegChipID | 0x80), "CHIP_ID"},
		{as6500.RegisterName(0x41), "0x41"},
	} {
		if test.got != test.want {
			t.Errorf("got %q, want %q", test.got, test.want)
		}
	}
}
