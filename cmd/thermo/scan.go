package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/adapter"
	"github.com/mklimuk/thermo/cmd/thermo/console"
	"github.com/mklimuk/thermo/ds28ea00"
	"github.com/mklimuk/thermo/i2c"
)

const scanCapacity = 32

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "enumerate the temperature chain on one bus",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Value:   1,
			Usage:   "I2C bus number",
		},
		&cli.IntFlag{
			Name:  "read",
			Usage: "run N conversion rounds at standard and overdrive speed",
		},
		&cli.BoolFlag{
			Name:  "yaml",
			Usage: "dump the bridge status register",
		},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context
		bridge, release, err := openBridge(ctx, c.Int("bus"))
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer release()

		if c.Bool("yaml") {
			status, err := bridge.Status(ctx)
			if err != nil {
				return console.Exit(1, "could not read bridge status: %s", console.Red(err))
			}
			enc := yaml.NewEncoder(os.Stdout)
			if err = enc.Encode(status); err != nil {
				return console.Exit(1, "encoding error: %s", console.Red(err))
			}
		}

		group, err := ds28ea00.NewGroup(ds28ea00.Config{Capacity: scanCapacity})
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		count, err := group.Enumerate(ctx, bridge)
		if err != nil {
			return console.Exit(1, "enumeration failed: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "%s device(s) found", console.White(count))

		w := tabwriter.NewWriter(os.Stdout, 18, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ROM\tSERIAL\tFINGERPRINT\tCRC\n")
		for rom := range group.Roms() {
			crc := console.Green("ok")
			if !rom.Verify() {
				crc = console.Red("bad")
			}
			_, _ = fmt.Fprintf(w, "%s\t%#x\t%#x\t%s\n", rom, rom.Serial(), rom.Fingerprint(), crc)
		}
		_ = w.Flush()

		rounds := c.Int("read")
		if rounds == 0 {
			return nil
		}
		console.Infof("reading at standard speed")
		if err = readRounds(ctx, group, bridge, rounds); err != nil {
			return console.Exit(1, "readout failed: %s", console.Red(err))
		}
		if err = group.EnableOverdrive(ctx, bridge); err != nil {
			return console.Exit(1, "could not enable overdrive: %s", console.Red(err))
		}
		defer func() { _ = group.DisableOverdrive(ctx, bridge) }()
		console.Infof("reading at overdrive speed")
		if err = readRounds(ctx, group, bridge, rounds); err != nil {
			return console.Exit(1, "overdrive readout failed: %s", console.Red(err))
		}
		return nil
	},
}

func readRounds(ctx context.Context, group *ds28ea00.Group, bridge *adapter.DS2484, rounds int) error {
	for i := 0; i < rounds; i++ {
		start := time.Now()
		if err := group.TriggerConversion(ctx, bridge, thermo.StdDelay{}); err != nil {
			return err
		}
		readings, err := group.ReadTemperatures(ctx, bridge, true, true)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		for _, r := range readings {
			console.Printf("%s %s %s\n", console.PictoThermometer, r.Rom, console.White(r.Temp))
		}
		console.Infof("round %d done in %s", i+1, elapsed.Round(time.Millisecond))
	}
	return nil
}

// openBridge opens the kernel I2C device of the given bus number and resets
// the DS2484 sitting on it.
func openBridge(ctx context.Context, bus int) (*adapter.DS2484, func(), error) {
	dev, err := i2c.NewGenericBus(fmt.Sprintf("/dev/i2c-%d", bus))
	if err != nil {
		return nil, nil, err
	}
	bridge := adapter.NewDS2484(dev)
	if err = bridge.Init(ctx); err != nil {
		_ = dev.Close()
		return nil, nil, err
	}
	return bridge, func() { _ = dev.Close() }, nil
}
