package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/adapter"
	"github.com/mklimuk/thermo/cmd/thermo/console"
	"github.com/mklimuk/thermo/environment"
	"github.com/mklimuk/thermo/i2c"
)

var humidityCmd = cli.Command{
	Name:    "humidity",
	Aliases: []string{"hum"},
	Usage:   "read temperature and humidity from an HDC1010",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Value:   "i2c",
			Usage:   "transport: i2c or mcp2221",
		},
		&cli.IntFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Value:   1,
			Usage:   "I2C bus number (i2c transport only)",
		},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(c.Context, c.Bool("verbose"))

		var trans thermo.I2CBus
		var release func() error
		switch c.String("adapter") {
		case "mcp2221":
			mcp2221 := adapter.NewMCP2221()
			trans = mcp2221
			release = func() error { return mcp2221.Release(ctx) }
		case "i2c":
			bus, err := i2c.NewGenericBus(fmt.Sprintf("/dev/i2c-%d", c.Int("bus")))
			if err != nil {
				return console.Exit(1, "could not open bus: %s", console.Red(err))
			}
			trans = bus
			release = bus.Close
		default:
			return console.Exit(1, "unknown adapter %s", console.Red(c.String("adapter")))
		}
		defer func() { _ = release() }()

		sensor := environment.NewHDC1010(trans, environment.HDC1010BaseAddress, environment.AcquireSequence)
		if err := sensor.Init(ctx); err != nil {
			return console.Exit(1, "sensor initialization error: %s", console.Red(err))
		}
		temp, hum, err := sensor.GetTempAndHum(ctx, thermo.StdDelay{})
		if err != nil {
			return console.Exit(1, "error getting sensor read: %s", console.Red(err))
		}
		console.Printf("%s  %s\n%s %s\n", console.PictoThermometer, console.White(temp), console.PictoHumidity, console.White(hum))
		return nil
	},
}
