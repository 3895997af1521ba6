package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/soypat/as6500"
	"github.com/soypat/as6500/internal/boardcfg"
)

var errExit = errors.New("exit")

func main() {
	flagBoard := flag.String("board", "", "YAML board file. Empty runs against the simulator.")
	flagLevel := flag.String("v", "info", "Log level: trace, debug, info, warn or error.")
	flagBegin := flag.Bool("begin", true, "Run the bring up sequence before opening the prompt.")
	flag.Parse()
	if err := run(*flagBoard, *flagLevel, *flagBegin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(boardFile, level string, begin bool) error {
	var lvl slog.Level
	if level == "trace" {
		lvl = slog.LevelDebug - 1
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	board := boardcfg.Board{Backend: boardcfg.BackendSim}
	if boardFile != "" {
		var err error
		board, err = boardcfg.LoadFile(boardFile)
		if err != nil {
			return err
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "as6500> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	logger := slog.New(slog.NewTextHandler(rl.Stderr(), &slog.HandlerOptions{Level: lvl}))
	h, err := boardcfg.Open(board, logger, begin)
	if err != nil {
		return err
	}
	defer h.Close()
	sh := &shell{dev: h.Device, board: board, out: rl.Stdout()}
	sh.help()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err != nil {
			return nil // EOF.
		}
		err = sh.exec(line)
		if errors.Is(err, errExit) {
			return nil
		} else if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
		}
	}
}

type shell struct {
	dev   *as6500.Device
	board boardcfg.Board
	out   io.Writer
}

func (sh *shell) help() {
	fmt.Fprint(sh.out, `commands:
  r <reg>            read register
  rn <reg> <n>       read n consecutive registers
  w <reg> <val>      write register
  id                 read chip id
  cal                run calibration
  fire               start measurement
  res                read result
  meas               start measurement and wait for result
  stat               read interrupt status
  clr [flags]        clear interrupt flags (default all)
  mask <flags>       write interrupt mask
  mode single|cont   measurement mode
  timeout <n>        measurement timeout field
  avg <n>            averaging field
  en 0|1             enable bit
  reset              soft reset
  begin              run bring up sequence
  help               this message
  exit
`)
}

func (sh *shell) exec(line string) (err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	nums := make([]uint64, len(args))
	if cmd != "mode" {
		for i, arg := range args {
			nums[i], err = strconv.ParseUint(arg, 0, 8)
			if err != nil {
				return fmt.Errorf("bad argument %q: %w", arg, err)
			}
		}
	}
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s)", cmd, n)
		}
		return nil
	}
	switch cmd {
	case "help", "?":
		sh.help()
	case "exit", "quit":
		return errExit
	case "r":
		if err = need(1); err != nil {
			return err
		}
		v, err := sh.dev.ReadRegister(uint8(nums[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s = %#02x\n", as6500.RegisterName(uint8(nums[0])), v)
	case "rn":
		if err = need(2); err != nil {
			return err
		}
		buf := make([]byte, nums[1])
		if err = sh.dev.ReadRegisters(uint8(nums[0]), buf); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s = % x\n", as6500.RegisterName(uint8(nums[0])), buf)
	case "w":
		if err = need(2); err != nil {
			return err
		}
		err = sh.dev.WriteRegister(uint8(nums[0]), uint8(nums[1]))
	case "id":
		id, err := sh.dev.ChipID()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "chip id %#02x (want %#02x)\n", id, as6500.ChipIDValue)
	case "cal":
		if err = sh.dev.Calibrate(); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "calibration %#04x\n", sh.dev.Calibration())
	case "fire":
		err = sh.dev.StartMeasurement()
	case "res":
		var r as6500.Result
		if err = sh.dev.ReadResult(&r); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d ps (%.3f ns)\n", r.Time, r.Nanoseconds())
	case "meas":
		r, err := sh.dev.Measure()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d ps (%.3f ns)\n", r.Time, r.Nanoseconds())
	case "stat":
		status, err := sh.dev.InterruptStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "status %#02x %s\n", uint8(status), status)
	case "clr":
		flags := as6500.IntAll
		if len(args) > 0 {
			flags = as6500.Interrupts(nums[0])
		}
		err = sh.dev.ClearInterrupts(flags)
	case "mask":
		if err = need(1); err != nil {
			return err
		}
		err = sh.dev.SetInterruptMask(as6500.Interrupts(nums[0]))
	case "mode":
		if err = need(1); err != nil {
			return err
		}
		switch args[0] {
		case "single":
			err = sh.dev.SetMode(as6500.ModeSingleShot)
		case "cont", "continuous":
			err = sh.dev.SetMode(as6500.ModeContinuous)
		default:
			return fmt.Errorf("unknown mode %q", args[0])
		}
	case "timeout":
		if err = need(1); err != nil {
			return err
		}
		err = sh.dev.SetTimeout(uint8(nums[0]))
	case "avg":
		if err = need(1); err != nil {
			return err
		}
		err = sh.dev.SetAveragingCycles(uint8(nums[0]))
	case "en":
		if err = need(1); err != nil {
			return err
		}
		err = sh.dev.Enable(nums[0] != 0)
	case "reset":
		err = sh.dev.Reset()
	case "begin":
		if err = sh.board.Setup(sh.dev); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "state", sh.dev.State())
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return err
}
