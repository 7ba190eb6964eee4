package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/wire"
)

// cpuMaxComponents bounds the batch so exotic hosts with dozens of thermal
// zones do not flood the link.
const cpuMaxComponents = 10

// CPUProducer reports the host's own thermal sensors as a temperature batch,
// with the component index as the wire identity.
type CPUProducer struct {
	Cadence time.Duration
	// Read overrides the sensor source, for tests.
	Read func(ctx context.Context) ([]sensors.TemperatureStat, error)
}

// Run polls the host sensors once per cadence until ctx is cancelled.
// Readout failures are logged and skipped; the host may simply expose no
// thermal zones.
func (p *CPUProducer) Run(ctx context.Context, sender *gated.Sender[wire.Measurement]) {
	defer sender.Close()
	cadence := p.Cadence
	if cadence == 0 {
		cadence = time.Second
	}
	if p.Read == nil {
		p.Read = sensors.TemperaturesWithContext
	}
	slog.Info("cpu temperature producer started")
	for ctx.Err() == nil {
		start := time.Now()
		batch, err := p.batch(ctx)
		if err != nil {
			slog.Error("could not read host temperatures", "error", err)
		} else if len(batch.Entries) == 0 {
			slog.Warn("no host temperature data available")
		} else if err = sender.Send(batch); err != nil {
			slog.Warn("measurement dropped", "error", err, "entries", len(batch.Entries))
		}
		if remainder := cadence - time.Since(start); remainder > 0 {
			if delay.Sleep(ctx, remainder) != nil {
				break
			}
		}
	}
	slog.Info("cpu temperature producer exiting")
}

func (p *CPUProducer) batch(ctx context.Context) (wire.Measurement, error) {
	stats, err := p.Read(ctx)
	if err != nil && len(stats) == 0 {
		return wire.Measurement{}, err
	}
	if len(stats) > cpuMaxComponents {
		stats = stats[:cpuMaxComponents]
	}
	entries := make([]wire.Entry, 0, len(stats))
	for idx, stat := range stats {
		entries = append(entries, wire.Entry{ID: uint32(idx), Value: float32(stat.Temperature)})
	}
	return wire.Measurement{Kind: wire.Temperature, Entries: entries}, nil
}
