// ptcomm talks to an ECU through a J2534 PassThru device.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/j2534"
	"github.com/LoveWonYoung/ptcomm/logrecorder"
	"github.com/LoveWonYoung/ptcomm/passthru"
	"github.com/LoveWonYoung/ptcomm/profile"
	"github.com/LoveWonYoung/ptcomm/udsclient"
)

const (
	exitSuccess      = 0
	exitCommandError = 1
	exitCommFailure  = 2
)

// native replaces the vendor library in tests.
var native passthru.NativeTransport

type options struct {
	list         bool
	showProfiles bool
	dumpProfiles bool
	dll          string
	device       string
	profile      string
	profiles     string
	service      string
	data         string
	attempts     int
	timeout      time.Duration
	logDir       string
	debug        bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var o options
	fs := flag.NewFlagSet("ptcomm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&o.list, "list", false, "list installed PassThru devices and exit")
	fs.BoolVar(&o.showProfiles, "show-profiles", false, "list connection profiles and exit")
	fs.BoolVar(&o.dumpProfiles, "dump-profiles", false, "print the profile catalog as YAML and exit")
	fs.StringVar(&o.dll, "dll", "", "vendor library path (default: first discovered device)")
	fs.StringVar(&o.device, "device", "", "installed device name to use when -dll is empty")
	fs.StringVar(&o.profile, "profile", "auto", "connection profile key, or auto")
	fs.StringVar(&o.profiles, "profiles", "", "YAML profile catalog replacing the built-in one")
	fs.StringVar(&o.service, "service", "check", "check|read-vin|ecu-id|read-dtcs|clear-dtcs|tester-present|raw|scan|volts")
	fs.StringVar(&o.data, "data", "", `request bytes for -service raw, e.g. "22 F1 90"`)
	fs.IntVar(&o.attempts, "attempts", 3, "attempts per request")
	fs.DurationVar(&o.timeout, "timeout", 0, "receive timeout per attempt (default: profile)")
	fs.StringVar(&o.logDir, "log", "", "write a log file below this directory")
	fs.BoolVar(&o.debug, "debug", false, "log every message written and read")
	if err := fs.Parse(args); err != nil {
		return exitCommandError
	}

	catalog := profile.Builtin()
	if o.profiles != "" {
		var err error
		if catalog, err = profile.Load(o.profiles); err != nil {
			fmt.Fprintln(stderr, err)
			return exitCommandError
		}
	}

	switch {
	case o.list:
		return listDevices(stdout, stderr)
	case o.showProfiles:
		for _, p := range catalog {
			fmt.Fprintln(stdout, p)
		}
		return exitSuccess
	case o.dumpProfiles:
		data, err := profile.Marshal(catalog)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitCommandError
		}
		stdout.Write(data)
		return exitSuccess
	}

	cfg, closeLog, err := config(o)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCommandError
	}
	defer closeLog()

	reqOpts := udsclient.DefaultRequestOptions()
	reqOpts.Attempts = o.attempts
	reqOpts.Timeout = o.timeout
	clientOpts := []udsclient.Option{udsclient.WithRequestOptions(reqOpts)}

	if o.service == "scan" {
		results := udsclient.Scan(cfg, catalog, clientOpts...)
		for _, r := range results {
			fmt.Fprintln(stdout, r)
		}
		if len(results) == 0 {
			fmt.Fprintln(stderr, udsclient.ErrNoECU)
			return exitCommFailure
		}
		return exitSuccess
	}

	var c *udsclient.Client
	if o.profile == "auto" {
		c, err = udsclient.AutoConnect(cfg, nil, clientOpts...)
	} else {
		var p profile.Profile
		if p, err = profile.Lookup(catalog, o.profile); err != nil {
			fmt.Fprintln(stderr, err)
			return exitCommandError
		}
		c, err = udsclient.Dial(cfg, p, clientOpts...)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCommFailure
	}
	defer c.Close()
	fmt.Fprintf(stderr, "connected: %s\n", c.Profile())

	if err := serve(c, o, stdout); err != nil {
		fmt.Fprintln(stderr, err)
		var nr *udsclient.NegativeResponse
		if errors.As(err, &nr) || errors.Is(err, errUsage) {
			return exitCommandError
		}
		return exitCommFailure
	}
	return exitSuccess
}

var errUsage = errors.New("usage")

func serve(c *udsclient.Client, o options, stdout io.Writer) error {
	switch o.service {
	case "check":
		m, err := c.CheckCommunication()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "% X\n", m.Payload)
	case "read-vin":
		vin, err := c.ReadVIN()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, vin)
	case "ecu-id":
		id, err := c.ReadECUID(udsclient.ECUIDDefault)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "% X\n", id)
	case "read-dtcs":
		dtcs, err := c.ReadDTCs(0xFF)
		if err != nil {
			return err
		}
		for _, d := range dtcs {
			fmt.Fprintln(stdout, d)
		}
	case "clear-dtcs":
		return c.ClearDTCs()
	case "tester-present":
		return c.TesterPresent(false)
	case "volts":
		v, err := c.Device().ReadBatteryVoltage()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%.2f V\n", v)
	case "raw":
		req, err := driver.ParseHex(o.data)
		if err != nil || len(req) == 0 {
			return fmt.Errorf("%w: -service raw needs -data", errUsage)
		}
		m, err := c.TransmitAndReceive(req, o.attempts, o.timeout)
		if err != nil {
			return err
		}
		if nr, ok := udsclient.ParseNegativeResponse(m.Payload); ok {
			return nr
		}
		fmt.Fprintf(stdout, "% X\n", m.Payload)
	default:
		return fmt.Errorf("%w: unknown service %q", errUsage, o.service)
	}
	return nil
}

// config builds the j2534.Config and the logger the flags ask for.
func config(o options) (j2534.Config, func(), error) {
	cfg := j2534.Config{Native: native, Debug: o.debug}
	closeLog := func() {}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	if o.logDir != "" {
		log, rec, err := logrecorder.New(o.logDir, "ptcomm_", logrecorder.Options{Level: level, Rotate: 10 * time.Minute})
		if err != nil {
			return cfg, closeLog, err
		}
		cfg.Logger = log
		closeLog = func() { _ = rec.Close() }
	} else if o.debug {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	if cfg.Native != nil {
		return cfg, closeLog, nil
	}
	cfg.LibraryPath = o.dll
	if cfg.LibraryPath == "" {
		dev, err := pickDevice(o.device)
		if err != nil {
			closeLog()
			return cfg, func() {}, err
		}
		cfg.LibraryPath = dev.LibraryPath
	}
	return cfg, closeLog, nil
}

func pickDevice(name string) (driver.DeviceInfo, error) {
	devices, err := driver.Discover()
	if err != nil {
		return driver.DeviceInfo{}, err
	}
	for _, d := range devices {
		if name == "" || d.Name == name {
			return d, nil
		}
	}
	if name == "" {
		return driver.DeviceInfo{}, errors.New("no PassThru device installed")
	}
	return driver.DeviceInfo{}, fmt.Errorf("PassThru device %q not installed", name)
}

func listDevices(stdout, stderr io.Writer) int {
	devices, err := driver.Discover()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCommandError
	}
	for i, d := range devices {
		fmt.Fprintf(stdout, "%d: %s (%s)\n   %s\n", i, d.Name, d.Vendor, d.LibraryPath)
		for _, p := range d.Protocols {
			fmt.Fprintf(stdout, "   %s\n", p)
		}
	}
	return exitSuccess
}
