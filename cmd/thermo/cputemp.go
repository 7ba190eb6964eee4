package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermo/cmd/thermo/console"
)

var cputempCmd = cli.Command{
	Name:  "cputemp",
	Usage: "print the host's thermal sensors",
	Action: func(c *cli.Context) error {
		stats, err := sensors.TemperaturesWithContext(c.Context)
		if err != nil && len(stats) == 0 {
			return console.Exit(1, "could not read host temperatures: %s", console.Red(err))
		}
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tSENSOR\tTEMPERATURE\tHIGH\tCRITICAL\n")
		for idx, stat := range stats {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%.1f\n", idx, stat.SensorKey, stat.Temperature, stat.High, stat.Critical)
		}
		_ = w.Flush()
		return nil
	},
}
