package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	chlog "github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/buskit/adapter"
	"github.com/mklimuk/buskit/cmd/busctl/console"
	"github.com/mklimuk/buskit/i2c"
)

// Config carries adapter parameters. Flags override whatever the
// optional configuration file provides.
type Config struct {
	Adapter string `yaml:"adapter"`
	Device  string `yaml:"device"`
	Chip    string `yaml:"chip"`
	SCL     int    `yaml:"scl"`
	SDA     int    `yaml:"sda"`
	SpeedHz int    `yaml:"speed"`
	Power   bool   `yaml:"power"`
	Trace   bool   `yaml:"trace"`
}

var cfg = Config{
	Adapter: "mcp2221",
	Device:  "/dev/i2c-1",
	Chip:    "gpiochip0",
	SCL:     3,
	SDA:     2,
	SpeedHz: 100_000,
}

func loadConfig(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read %s: %w", path, err)
	}
	if err = yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("could not parse %s: %w", path, err)
	}
	return nil
}

var busFlags = []cli.Flag{
	&cli.StringFlag{Name: "adapter", Aliases: []string{"a"}, Usage: "mcp2221, kernel, buspirate or bitbang"},
	&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "i2c or serial device path"},
	&cli.IntFlag{Name: "speed", Usage: "bus clock in hertz"},
	&cli.BoolFlag{Name: "trace", Aliases: []string{"t"}, Usage: "log every bus primitive"},
}

func applyFlags(c *cli.Context) {
	if c.IsSet("adapter") {
		cfg.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("speed") {
		cfg.SpeedHz = c.Int("speed")
	}
	if c.IsSet("trace") {
		cfg.Trace = c.Bool("trace")
	}
}

// openBus builds the transaction facade for the configured adapter. The
// returned closer releases the underlying transport and is nil when
// there is nothing to release.
func openBus(c *cli.Context) (i2c.Bus, io.Closer, error) {
	applyFlags(c)
	if cfg.Trace {
		charm.SetLevel(chlog.DebugLevel)
		console.Trace = true
	}
	switch cfg.Adapter {
	case "mcp2221":
		return adapter.NewMCP2221(), nil, nil
	case "kernel", "generic":
		bus, err := adapter.NewKernelBus(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		if cfg.SpeedHz > 0 {
			if err = bus.SetSpeed(physic.Frequency(cfg.SpeedHz) * physic.Hertz); err != nil {
				_ = bus.Close()
				return nil, nil, err
			}
		}
		return bus, bus, nil
	case "buspirate":
		opts := []adapter.BusPirateOption{adapter.WithBusPirateSpeed(pirateSpeed(cfg.SpeedHz))}
		if cfg.Power {
			opts = append(opts, adapter.WithBusPiratePower())
		}
		bp, err := adapter.OpenBusPirate(cfg.Device, opts...)
		if err != nil {
			return nil, nil, err
		}
		return i2c.New(traced(bp)), bp, nil
	case "bitbang":
		bb, err := adapter.NewBitBang(cfg.Chip, cfg.SCL, cfg.SDA, adapter.WithBitRate(cfg.SpeedHz))
		if err != nil {
			return nil, nil, err
		}
		return i2c.New(traced(bb)), bb, nil
	}
	return nil, nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
}

// traced wraps primitive backends when tracing is on. Controller
// adapters log through slog on their own.
func traced(b i2c.Backend) i2c.Backend {
	if !cfg.Trace {
		return b
	}
	return i2c.NewTracedBackend(slog.Default(), b, i2c.TraceAll)
}

func closeBus(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		console.Errorf("error closing bus: %s", console.Red(err))
	}
}

func pirateSpeed(hz int) byte {
	switch {
	case hz >= 400_000:
		return adapter.BusPirate400kHz
	case hz >= 100_000:
		return adapter.BusPirate100kHz
	case hz >= 50_000:
		return adapter.BusPirate50kHz
	}
	return adapter.BusPirate5kHz
}
