package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/environment"
	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/i2c"
	"github.com/mklimuk/thermo/wire"
)

// HumiditySensor is the probe surface the humidity loop drives; the HDC1010
// driver and the environment package's behaviour mock both satisfy it.
type HumiditySensor interface {
	Addr() byte
	TriggerMeasurement(ctx context.Context, kind environment.Trigger) (time.Duration, error)
	ReadHumidity(ctx context.Context) (float32, error)
}

// HumidityProducer polls the HDC1010 sensors on one I2C bus and pushes a
// humidity batch to the channel once per cadence. The sensors' I2C
// addresses double as their wire identities.
type HumidityProducer struct {
	Path    string
	Cadence time.Duration
	Delay   thermo.Delay
	// Probe overrides sensor discovery, for tests. The default probes the
	// four HDC1010 addresses on the bus at Path.
	Probe func(ctx context.Context) ([]HumiditySensor, func() error, error)
}

// Run probes the bus for sensors, then loops: trigger every sensor, wait out
// the longest conversion once, read them all. Per-sensor failures drop that
// sensor's reading from the batch; a failed probe retries after a backoff.
func (p *HumidityProducer) Run(ctx context.Context, sender *gated.Sender[wire.Measurement]) {
	defer sender.Close()
	log := slog.With("bus", p.Path)
	cadence := p.Cadence
	if cadence == 0 {
		cadence = time.Second
	}
	if p.Delay == nil {
		p.Delay = thermo.StdDelay{}
	}
	if p.Probe == nil {
		p.Probe = func(ctx context.Context) ([]HumiditySensor, func() error, error) {
			return probeHDC1010(ctx, p.Path, p.Delay)
		}
	}
	for ctx.Err() == nil {
		sensors, release, err := p.Probe(ctx)
		if err != nil {
			log.Error("humidity probe failed, retrying", "error", err)
			if delay.Sleep(ctx, sinkBackoff) != nil {
				break
			}
			continue
		}
		log.Info("humidity sensors found", "count", len(sensors))
		p.poll(ctx, log, cadence, sensors, sender)
		_ = release()
	}
	log.Info("humidity producer exiting")
}

func (p *HumidityProducer) poll(ctx context.Context, log *slog.Logger, cadence time.Duration, sensors []HumiditySensor, sender *gated.Sender[wire.Measurement]) {
	for ctx.Err() == nil {
		start := time.Now()
		var wait time.Duration
		armed := make([]HumiditySensor, 0, len(sensors))
		for _, sensor := range sensors {
			w, err := sensor.TriggerMeasurement(ctx, environment.TriggerHumidity)
			if err != nil {
				log.Warn("could not trigger humidity measurement", "addr", sensor.Addr(), "error", err)
				continue
			}
			armed = append(armed, sensor)
			if w > wait {
				wait = w
			}
		}
		if len(armed) > 0 {
			if p.Delay.Sleep(ctx, wait) != nil {
				break
			}
			entries := make([]wire.Entry, 0, len(armed))
			for _, sensor := range armed {
				hum, err := sensor.ReadHumidity(ctx)
				if err != nil {
					log.Error("could not read humidity", "addr", sensor.Addr(), "error", err)
					continue
				}
				log.Debug("humidity read", "addr", sensor.Addr(), "value", hum)
				entries = append(entries, wire.Entry{ID: uint32(sensor.Addr()), Value: hum})
			}
			if err := sender.Send(wire.Measurement{Kind: wire.Humidity, Entries: entries}); err != nil {
				log.Warn("measurement dropped", "error", err, "entries", len(entries))
			}
		}
		if remainder := cadence - time.Since(start); remainder > 0 {
			if delay.Sleep(ctx, remainder) != nil {
				break
			}
		}
	}
}

// probeHDC1010 opens the bus and initializes whichever of the four possible
// sensor addresses answer; absent addresses are skipped.
func probeHDC1010(ctx context.Context, path string, d thermo.Delay) ([]HumiditySensor, func() error, error) {
	bus, err := i2c.NewGenericBus(path)
	if err != nil {
		return nil, nil, err
	}
	addrs := []byte{
		environment.HDC1010Address(false, false),
		environment.HDC1010Address(true, false),
		environment.HDC1010Address(false, true),
		environment.HDC1010Address(true, true),
	}
	var sensors []HumiditySensor
	for _, addr := range addrs {
		sensor := environment.NewHDC1010(bus, addr, environment.AcquireSeparate)
		if err := sensor.Init(ctx); err != nil {
			slog.Warn("no humidity sensor at address", "bus", path, "addr", addr, "error", err)
			continue
		}
		if err := sensor.Reset(ctx, d); err != nil {
			slog.Error("could not reset humidity sensor", "bus", path, "addr", addr, "error", err)
			continue
		}
		sensors = append(sensors, sensor)
	}
	return sensors, bus.Close, nil
}
