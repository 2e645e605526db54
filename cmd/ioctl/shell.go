package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sysworxx-io/src/server/capi"
	"sysworxx-io/src/server/hal"
)

type shell struct {
	out io.Writer
}

// exec runs one command line and reports whether the shell should go on.
func (s *shell) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "quit", "exit", "q":
		return false
	case "version":
		major, minor, _ := capi.GetVersion()
		fmt.Fprintf(s.out, "%d.%d\n", major, minor)
	case "info":
		err = s.cmdInfo()
	case "ticks":
		v, res := capi.GetTickCount()
		s.report(res, v)
	case "switches":
		run, res := capi.GetRunSwitch()
		s.report(res, fmt.Sprintf("run=%v", run))
		cfg, res := capi.GetConfigEnabled()
		s.report(res, fmt.Sprintf("config=%v", cfg))
	case "led":
		err = s.cmdLed(args)
	case "do":
		err = s.cmdOutput(args)
	case "di":
		err = withChannel(args, 1, func(ch uint8, _ []string) error {
			v, res := capi.GetInput(ch)
			s.report(res, v)
			return nil
		})
	case "watch":
		err = withChannel(args, 1, func(ch uint8, _ []string) error {
			s.report(capi.RegisterInputCallback(ch, func(ch uint8, state bool) {
				fmt.Fprintf(s.out, "DI%d -> %v\n", ch, state)
			}, hal.TriggerBothEdge), nil)
			return nil
		})
	case "unwatch":
		err = withChannel(args, 1, func(ch uint8, _ []string) error {
			s.report(capi.UnregisterInputCallback(ch), nil)
			return nil
		})
	case "ai":
		err = withChannel(args, 1, func(ch uint8, _ []string) error {
			v, res := capi.AdcGetValue(ch)
			s.report(res, v)
			return nil
		})
	case "ai-mode":
		err = withChannel(args, 2, func(ch uint8, rest []string) error {
			mode, err := hal.ParseAnalogMode(rest[0])
			if err != nil {
				return err
			}
			s.report(capi.AdcSetMode(ch, mode), nil)
			return nil
		})
	case "ao":
		err = withChannel(args, 2, func(ch uint8, rest []string) error {
			v, err := strconv.ParseUint(rest[0], 0, 16)
			if err != nil {
				return err
			}
			s.report(capi.DacSetValue(ch, uint16(v)), nil)
			return nil
		})
	case "tmp":
		err = withChannel(args, 1, func(ch uint8, _ []string) error {
			v, res := capi.TmpGetValue(ch)
			s.report(res, fmt.Sprintf("%.4f °C", float64(v)/10000))
			return nil
		})
	case "tmp-mode":
		err = withChannel(args, 3, func(ch uint8, rest []string) error {
			mode, err := hal.ParseTmpMode(rest[0])
			if err != nil {
				return err
			}
			sensor, err := hal.ParseTmpSensorType(rest[1])
			if err != nil {
				return err
			}
			s.report(capi.TmpSetMode(ch, mode, sensor), nil)
			return nil
		})
	case "cnt":
		err = withChannel(args, 1, func(ch uint8, _ []string) error {
			v, res := capi.CntGetValue(ch)
			s.report(res, v)
			return nil
		})
	case "cnt-enable":
		err = withChannel(args, 2, func(ch uint8, rest []string) error {
			on, err := parseBool(rest[0])
			if err != nil {
				return err
			}
			s.report(capi.CntEnable(ch, on), nil)
			return nil
		})
	case "pwm":
		err = withChannel(args, 3, func(ch uint8, rest []string) error {
			period, err := strconv.ParseUint(rest[0], 0, 16)
			if err != nil {
				return err
			}
			duty, err := strconv.ParseUint(rest[1], 0, 16)
			if err != nil {
				return err
			}
			s.report(capi.PwmSetup(ch, uint16(period), uint16(duty)), nil)
			return nil
		})
	case "pwm-enable":
		err = withChannel(args, 2, func(ch uint8, rest []string) error {
			on, err := parseBool(rest[0])
			if err != nil {
				return err
			}
			s.report(capi.PwmEnable(ch, on), nil)
			return nil
		})
	case "pwm-timebase":
		err = withChannel(args, 2, func(ch uint8, rest []string) error {
			var tb hal.PwmTimebase
			switch rest[0] {
			case "800ns":
				tb = hal.PwmNs800
			case "1ms":
				tb = hal.PwmMs1
			default:
				return fmt.Errorf("timebase must be 800ns or 1ms")
			}
			s.report(capi.PwmSetTimebase(ch, tb), nil)
			return nil
		})
	case "json":
		if len(args) != 1 {
			err = fmt.Errorf("usage: json <path>")
			break
		}
		s.report(capi.GetJson(args[0]), nil)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return true
}

// withChannel parses the leading channel argument and hands the rest to fn.
func withChannel(args []string, want int, fn func(ch uint8, rest []string) error) error {
	if len(args) != want {
		return fmt.Errorf("expected %d argument(s), got %d", want, len(args))
	}
	ch, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("channel %q: %w", args[0], err)
	}
	return fn(uint8(ch), args[1:])
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// report prints v on success, the result name otherwise.
func (s *shell) report(res capi.Result, v any) {
	switch {
	case res != capi.Success:
		fmt.Fprintln(s.out, res)
	case v == nil:
		fmt.Fprintln(s.out, "ok")
	default:
		fmt.Fprintln(s.out, v)
	}
}

func (s *shell) cmdInfo() error {
	info, res := capi.GetHardwareInfo()
	if res != capi.Success {
		s.report(res, nil)
		return nil
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

func (s *shell) cmdLed(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: led run|err on|off")
	}
	on, err := parseBool(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "run":
		s.report(capi.SetRunLed(on), nil)
	case "err":
		s.report(capi.SetErrLed(on), nil)
	default:
		return fmt.Errorf("unknown led %q", args[0])
	}
	return nil
}

func (s *shell) cmdOutput(args []string) error {
	return withChannel(args, 2, func(ch uint8, rest []string) error {
		on, err := parseBool(rest[0])
		if err != nil {
			return err
		}
		s.report(capi.SetOutput(ch, on), nil)
		return nil
	})
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
I/O Commands:
  info                      - Hardware information
  version | ticks           - Library version, milliseconds since start
  switches                  - Run and config switch state
  led run|err on|off        - Set a status LED
  do <ch> on|off            - Set a digital output
  di <ch>                   - Read a digital input
  watch <ch> | unwatch <ch> - Print changes of a digital input
  ai <ch>                   - Read an analog input
  ai-mode <ch> voltage|current
  ao <ch> <value>           - Set an analog output
  tmp <ch>                  - Read a temperature in °C
  tmp-mode <ch> 2-wire|3-wire|4-wire PT100|PT1000
  cnt <ch> | cnt-enable <ch> on|off
  pwm <ch> <period> <duty> | pwm-enable <ch> on|off
  pwm-timebase <ch> 800ns|1ms
  json <path>               - Write the channel labels to path
  quit`)
}
