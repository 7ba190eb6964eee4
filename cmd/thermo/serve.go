package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/cmd/thermo/console"
	"github.com/mklimuk/thermo/stream"
	"github.com/mklimuk/thermo/wire"
)

// serveFile mirrors the serve flags in the optional YAML configuration;
// flags given on the command line win over the file.
type serveFile struct {
	Buses    []int    `yaml:"buses"`
	Humidity []int    `yaml:"humidity"`
	Serial   string   `yaml:"serial"`
	LEDs     bool     `yaml:"leds"`
	Exclude  []string `yaml:"exclude"`
	Wire     string   `yaml:"wire"`
}

var serveCmd = cli.Command{
	Name:  "serve",
	Usage: "stream sensor measurements to the serial port",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Usage:   "comma-separated I2C bus numbers carrying a temperature chain",
		},
		&cli.StringFlag{
			Name:  "humidity",
			Usage: "comma-separated I2C bus numbers probed for humidity sensors",
		},
		&cli.StringFlag{
			Name:    "serial",
			Aliases: []string{"s"},
			Usage:   "serial port the measurements are streamed to",
		},
		&cli.BoolFlag{
			Name:  "leds",
			Usage: "blink the sensors' indicator LEDs with bus activity",
		},
		&cli.StringFlag{
			Name:    "exclude",
			Aliases: []string{"x"},
			Usage:   "comma-separated hex fingerprints dropped from the stream",
		},
		&cli.StringFlag{
			Name:  "wire",
			Usage: "wire encoding: records or batch",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := serveConfig(c)
		if err != nil {
			return console.Exit(1, "invalid configuration: %s", console.Red(err))
		}
		orch, err := stream.New(cfg)
		if err != nil {
			return console.Exit(1, "invalid configuration: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err = orch.Run(ctx); err != nil {
			return console.Exit(1, "daemon failed: %s", console.Red(err))
		}
		return nil
	},
}

func serveConfig(c *cli.Context) (stream.Config, error) {
	var file serveFile
	if path := c.String("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return stream.Config{}, fmt.Errorf("could not read configuration: %w", err)
		}
		if err = yaml.Unmarshal(raw, &file); err != nil {
			return stream.Config{}, fmt.Errorf("could not parse configuration: %w", err)
		}
	}

	cfg := stream.Config{
		TempBuses:     busPathsOf(file.Buses),
		HumidityBuses: busPathsOf(file.Humidity),
		Serial:        file.Serial,
		LEDs:          file.LEDs,
	}
	var err error
	if cfg.Exclude, err = thermo.ParseFingerprints(strings.Join(file.Exclude, ",")); err != nil {
		return stream.Config{}, err
	}
	if file.Wire != "" {
		if cfg.Encoding, err = wire.ParseEncoding(file.Wire); err != nil {
			return stream.Config{}, err
		}
	}

	if c.IsSet("bus") {
		if cfg.TempBuses, err = busPaths(c.String("bus")); err != nil {
			return stream.Config{}, err
		}
	}
	if c.IsSet("humidity") {
		if cfg.HumidityBuses, err = busPaths(c.String("humidity")); err != nil {
			return stream.Config{}, err
		}
	}
	if c.IsSet("serial") {
		cfg.Serial = c.String("serial")
	}
	if c.IsSet("leds") {
		cfg.LEDs = c.Bool("leds")
	}
	if c.IsSet("exclude") {
		if cfg.Exclude, err = thermo.ParseFingerprints(c.String("exclude")); err != nil {
			return stream.Config{}, err
		}
	}
	if c.IsSet("wire") {
		if cfg.Encoding, err = wire.ParseEncoding(c.String("wire")); err != nil {
			return stream.Config{}, err
		}
	}
	if cfg.Serial == "" {
		return stream.Config{}, fmt.Errorf("a serial port is required (--serial or the configuration file)")
	}
	return cfg, nil
}

// busPaths maps a comma-separated list of bus numbers to kernel device paths.
func busPaths(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("could not parse bus number %q: %w", p, err)
		}
		out = append(out, fmt.Sprintf("/dev/i2c-%d", n))
	}
	return out, nil
}

func busPathsOf(nums []int) []string {
	if len(nums) == 0 {
		return nil
	}
	out := make([]string, 0, len(nums))
	for _, n := range nums {
		out = append(out, fmt.Sprintf("/dev/i2c-%d", n))
	}
	return out
}
