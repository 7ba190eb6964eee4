package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	gobotI2C "gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/mklimuk/thermo/adapter"
	"github.com/mklimuk/thermo/cmd/thermo/console"
	"github.com/mklimuk/thermo/environment"
)

var busCmd = cli.Command{
	Name:  "bus",
	Usage: "raw I2C bus tools",
	Subcommands: cli.Commands{
		&busScanCmd,
	},
}

var busScanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe a bus for the bridge and humidity sensor addresses",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Value:   1,
			Usage:   "I2C bus number",
		},
	},
	Action: func(c *cli.Context) error {
		adaptor := raspi.NewAdaptor()
		if err := adaptor.Connect(); err != nil {
			return console.Exit(1, "adaptor connect error: %s", console.Red(err))
		}
		defer func() { _ = adaptor.Finalize() }()

		probes := []struct {
			name string
			addr byte
		}{
			{"DS2484", adapter.DS2484Address},
			{"HDC1010", environment.HDC1010Address(false, false)},
			{"HDC1010", environment.HDC1010Address(true, false)},
			{"HDC1010", environment.HDC1010Address(false, true)},
			{"HDC1010", environment.HDC1010Address(true, true)},
		}
		bus := c.Int("bus")
		for _, probe := range probes {
			if err := probeAddress(adaptor, bus, probe.addr); err != nil {
				console.Debugf("no answer at %#x: %v", probe.addr, err)
				continue
			}
			console.PInfof(console.PictoChip, "%s found at %s", probe.name, console.White(fmt.Sprintf("%#x", probe.addr)))
		}
		return nil
	},
}

func probeAddress(adaptor *raspi.Adaptor, bus int, addr byte) error {
	dev := gobotI2C.NewGenericDriver(adaptor, "probe", int(addr), func(cfg gobotI2C.Config) {
		cfg.SetBus(bus)
	})
	if err := dev.Start(); err != nil {
		return fmt.Errorf("start error: %w", err)
	}
	defer func() { _ = dev.Halt() }()
	buf := make([]byte, 1)
	if err := dev.Read(buf); err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	return nil
}
