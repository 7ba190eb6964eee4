package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/cmd/thermo/console"
	"github.com/mklimuk/thermo/ds28ea00"
)

var ledCmd = cli.Command{
	Name:  "led",
	Usage: "drive the sensors' indicator LEDs",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Value:   1,
			Usage:   "I2C bus number",
		},
		&cli.StringFlag{
			Name:  "rom",
			Usage: "hex address of a single device",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "drive every device on the bus",
		},
		&cli.BoolFlag{
			Name:  "off",
			Usage: "turn the LED off instead of on",
		},
	},
	Action: func(c *cli.Context) error {
		if c.String("rom") == "" && !c.Bool("all") {
			return console.Exit(1, "either --rom or --all is required")
		}
		ctx := c.Context
		bridge, release, err := openBridge(ctx, c.Int("bus"))
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer release()

		group, err := ds28ea00.NewGroup(ds28ea00.Config{Capacity: scanCapacity})
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		on := !c.Bool("off")
		if c.Bool("all") {
			if _, err = group.Enumerate(ctx, bridge); err != nil {
				return console.Exit(1, "enumeration failed: %s", console.Red(err))
			}
			if err = group.LedToggleAll(ctx, bridge, on); err != nil {
				return console.Exit(1, "could not drive LEDs: %s", console.Red(err))
			}
			return nil
		}
		rom, err := thermo.ParseRom(c.String("rom"))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if err = group.LedToggle(ctx, bridge, rom, on); err != nil {
			return console.Exit(1, "could not drive LED of %s: %s", rom, console.Red(err))
		}
		return nil
	},
}
