package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/cmd/thermo/console"
	"github.com/mklimuk/thermo/ds28ea00"
)

var identCmd = cli.Command{
	Name:  "ident",
	Usage: "blink each sensor's LED in turn and label it",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Value:   1,
			Usage:   "I2C bus number",
		},
	},
	Action: func(c *cli.Context) error {
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
		count, err := group.Enumerate(ctx, bridge)
		if err != nil {
			return console.Exit(1, "enumeration failed: %s", console.Red(err))
		}
		if count == 0 {
			return console.Exit(1, "no devices found")
		}
		console.PInfof(console.PictoPin, "%s device(s) found, lighting them up one by one", console.White(count))

		type labeled struct {
			rom   thermo.Rom
			label string
		}
		var labels []labeled
		for rom := range group.Roms() {
			if err = group.LedToggle(ctx, bridge, rom, true); err != nil {
				return console.Exit(1, "could not light %s: %s", rom, console.Red(err))
			}
			label, err := console.Prompt(fmt.Sprintf("label for the lit sensor (%s): ", rom))
			if err != nil {
				return console.Exit(1, "prompt failed: %s", console.Red(err))
			}
			if err = group.LedToggle(ctx, bridge, rom, false); err != nil {
				return console.Exit(1, "could not extinguish %s: %s", rom, console.Red(err))
			}
			if label != "" {
				labels = append(labels, labeled{rom: rom, label: label})
			}
		}

		console.PInfof(console.PictoFinish, "all sensors labeled")
		w := tabwriter.NewWriter(os.Stdout, 18, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "LABEL\tROM\tFINGERPRINT\n")
		for _, l := range labels {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\n", l.label, l.rom, l.rom.Fingerprint())
		}
		_ = w.Flush()
		return nil
	},
}
