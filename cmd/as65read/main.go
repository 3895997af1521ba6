package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/soypat/as6500"
	"github.com/soypat/as6500/internal/boardcfg"
)

// record is a single measurement as streamed to the output.
type record struct {
	Seq uint64 `cbor:"1,keyasint"`
	// Picoseconds.
	Time uint32 `cbor:"2,keyasint"`
	// Calibration value in use when the measurement was taken.
	Calibration uint16 `cbor:"3,keyasint"`
	// Unix nanoseconds at read time.
	Timestamp int64 `cbor:"4,keyasint"`
}

type encoder interface {
	Encode(v any) error
}

type textEncoder struct{ w io.Writer }

func (t textEncoder) Encode(v any) error {
	r := v.(record)
	_, err := fmt.Fprintf(t.w, "%d\t%d\t%.3f\t%#04x\n", r.Seq, r.Time, float64(r.Time)/1000, r.Calibration)
	return err
}

type reader struct {
	dev *as6500.Device
	clk clock.Clock
	enc encoder
	log *slog.Logger
	// N is the number of measurements, 0 reads until a measurement fails.
	N        uint64
	Interval time.Duration
	// Recalibrate every this many measurements. 0 disables.
	Recalibrate uint64
}

func main() {
	flagBoard := flag.String("board", "", "YAML board file. Empty runs against the simulator.")
	flagN := flag.Uint64("n", 0, "Number of measurements. 0 reads until failure.")
	flagInterval := flag.Duration("interval", 100*time.Millisecond, "Time between measurements.")
	flagFormat := flag.String("format", "text", "Output format: text or cbor.")
	flagOutput := flag.String("o", "-", "Output file. '-' is stdout.")
	flagRecal := flag.Uint64("recal", 0, "Recalibrate every n measurements. 0 disables.")
	flagLevel := flag.String("v", "info", "Log level: trace, debug, info, warn or error.")
	flag.Parse()
	lvl, err := parseLevel(*flagLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	err = run(logger, *flagBoard, *flagFormat, *flagOutput, *flagN, *flagInterval, *flagRecal)
	if err != nil {
		logger.Error("as65read", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

// parseLevel accepts slog level names plus "trace", one below debug.
func parseLevel(s string) (lvl slog.Level, err error) {
	if s == "trace" {
		return slog.LevelDebug - 1, nil
	}
	err = lvl.UnmarshalText([]byte(s))
	return lvl, err
}

func run(logger *slog.Logger, boardFile, format, output string, n uint64, interval time.Duration, recal uint64) (err error) {
	board := boardcfg.Board{Backend: boardcfg.BackendSim}
	if boardFile != "" {
		board, err = boardcfg.LoadFile(boardFile)
		if err != nil {
			return err
		}
	}
	h, err := boardcfg.Open(board, logger, true)
	if err != nil {
		return err
	}
	defer h.Close()
	w := io.Writer(os.Stdout)
	if output != "-" {
		fp, err := os.Create(output)
		if err != nil {
			return err
		}
		defer fp.Close()
		w = fp
	}
	enc, err := newEncoder(format, w)
	if err != nil {
		return err
	}
	rd := reader{dev: h.Device, clk: clock.New(), enc: enc, log: logger, N: n, Interval: interval, Recalibrate: recal}
	if h.Sim != nil {
		rd.clk = h.Sim.Clock()
	}
	_, err = rd.run()
	return err
}

func newEncoder(format string, w io.Writer) (encoder, error) {
	switch format {
	case "text":
		return textEncoder{w: w}, nil
	case "cbor":
		return cbor.NewEncoder(w), nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// run streams measurements and returns how many were written. Running out
// of measurements with N unset is not an error.
func (rd *reader) run() (count uint64, err error) {
	for rd.N == 0 || count < rd.N {
		if rd.Recalibrate > 0 && count > 0 && count%rd.Recalibrate == 0 {
			if err = rd.dev.Calibrate(); err != nil {
				return count, err
			}
		}
		r, err := rd.dev.Measure()
		if err != nil {
			if rd.N == 0 && errors.Is(err, as6500.ErrMeasurementTimeout) {
				rd.log.Info("no more measurements", slog.Uint64("count", count))
				return count, nil
			}
			return count, err
		}
		err = rd.enc.Encode(record{
			Seq:         count,
			Time:        r.Time,
			Calibration: rd.dev.Calibration(),
			Timestamp:   rd.clk.Now().UnixNano(),
		})
		if err != nil {
			return count, err
		}
		count++
		if rd.Interval > 0 && (rd.N == 0 || count < rd.N) {
			rd.clk.Sleep(rd.Interval)
		}
	}
	return count, nil
}
