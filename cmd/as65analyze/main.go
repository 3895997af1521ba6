package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/as6500"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// Decoder turns SPI frames into AS6500 register transactions.
type Decoder struct {
	OmitRead  bool
	OmitWrite bool
	// OmitData drops payloads, leaving register accesses only.
	OmitData bool
	// NoCollapse disables merging of identical consecutive transactions.
	NoCollapse bool
}

// regtx is a decoded register transaction.
type regtx struct {
	Num   int
	Read  bool
	Addr  uint8
	Data  []byte
	Start float64
}

func (tx regtx) String() string {
	dir := "write"
	if tx.Read {
		dir = "read "
	}
	return fmt.Sprintf("x%-3d %s %-16s data=%#x", tx.Num, dir, as6500.RegisterName(tx.Addr), tx.Data)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "as65analyze - Process Binary Saleae digital data files corresponding to AS6500 register transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	fcs := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS data.")
	fclk := flag.String("f-clk", "digital_1.bin", "Input filename: SPI SCK data.")
	fmosi := flag.String("f-mosi", "digital_2.bin", "Input filename: SPI MOSI (host to chip) data.")
	fmiso := flag.String("f-miso", "digital_3.bin", "Input filename: SPI MISO (chip to host) data. Empty omits read data.")
	output := flag.String("o", "-", "Output filename of AS6500 register transactions. '-' is stdout.")
	timingsOutput := flag.String("o-time", "", "Output timing data to a file corresponding to output transaction history line-by-line.")
	var dec Decoder
	flag.BoolVar(&dec.OmitRead, "omit-read", false, "Choose to omit read transactions in output.")
	flag.BoolVar(&dec.OmitWrite, "omit-write", false, "Choose to omit write transactions in output.")
	flag.BoolVar(&dec.OmitData, "omit-data", false, "Choose to omit transaction data in output.")
	flag.BoolVar(&dec.NoCollapse, "no-collapse", false, "Do not merge identical consecutive transactions.")
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if dec.OmitRead && dec.OmitWrite {
		logger.Error("cannot omit both read and write transactions")
		os.Exit(1)
	}
	start := time.Now()
	txs, err := scanFiles(*fcs, *fclk, *fmosi, *fmiso)
	if err != nil {
		logger.Error("scanning captures", slog.String("err", err.Error()))
		os.Exit(1)
	}
	out := io.Writer(os.Stdout)
	if *output != "-" {
		fp, err := os.Create(*output)
		if err != nil {
			logger.Error("creating output", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer fp.Close()
		out = fp
	}
	var timings io.Writer
	if *timingsOutput != "" {
		logger.Debug("creating timings file", slog.String("file", *timingsOutput))
		fp, err := os.Create(*timingsOutput)
		if err != nil {
			logger.Error("creating timings", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer fp.Close()
		timings = fp
	}
	err = dec.write(out, timings, dec.decode(txs))
	if err != nil {
		logger.Error("writing output", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("finished", slog.Int("frames", len(txs)), slog.Duration("took", time.Since(start)))
}

// frame is a chip select delimited SPI transfer.
type frame struct {
	MOSI  []byte
	MISO  []byte
	Start float64
}

func scanFiles(fcs, fclk, fmosi, fmiso string) ([]frame, error) {
	enable, err := opendigital(fcs)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	// Each data line is scanned as if it were SDO.
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, mosi, mosi)
	frames := make([]frame, len(txs))
	for i := range txs {
		frames[i] = frame{MOSI: txs[i].SDO, Start: txs[i].StartTime()}
	}
	if fmiso == "" {
		return frames, nil
	}
	miso, err := opendigital(fmiso)
	if err != nil {
		return nil, err
	}
	rxs, _ := spi.Scan(clk, enable, miso, miso)
	if len(rxs) != len(txs) {
		return nil, fmt.Errorf("MOSI has %d frames, MISO has %d", len(txs), len(rxs))
	}
	for i := range rxs {
		frames[i].MISO = rxs[i].SDO
	}
	return frames, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

var errEmptyFrame = errors.New("empty frame")

// decodeFrame splits a frame into address byte and payload. Read payloads
// come from MISO, write payloads from MOSI.
func decodeFrame(f frame) (tx regtx, err error) {
	if len(f.MOSI) == 0 {
		return tx, errEmptyFrame
	}
	addr := f.MOSI[0]
	tx = regtx{Num: 1, Read: addr&0x80 != 0, Addr: addr & 0x7f, Start: f.Start}
	if !tx.Read {
		tx.Data = f.MOSI[1:]
	} else if len(f.MISO) > 1 {
		tx.Data = f.MISO[1:]
	}
	return tx, nil
}

func (d *Decoder) decode(frames []frame) (txs []regtx) {
	for _, f := range frames {
		tx, err := decodeFrame(f)
		if err != nil {
			continue
		}
		if (d.OmitRead && tx.Read) || (d.OmitWrite && !tx.Read) {
			continue
		}
		if d.OmitData {
			tx.Data = nil
		}
		if n := len(txs); !d.NoCollapse && n > 0 {
			last := &txs[n-1]
			if last.Read == tx.Read && last.Addr == tx.Addr && bytes.Equal(last.Data, tx.Data) {
				last.Num++
				continue
			}
		}
		txs = append(txs, tx)
	}
	return txs
}

func (d *Decoder) write(w, timings io.Writer, txs []regtx) error {
	for _, tx := range txs {
		_, err := fmt.Fprintln(w, tx.String())
		if err != nil {
			return err
		}
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\tdata=%#x\n", tx.Start, tx.Data)
		}
	}
	return nil
}
