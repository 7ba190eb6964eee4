package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/wire"
)

// Config describes one daemon run.
type Config struct {
	// TempBuses are the I2C devices carrying a DS2484 bridge and its
	// DS28EA00 chain.
	TempBuses []string
	// HumidityBuses are the I2C devices probed for HDC1010 sensors.
	HumidityBuses []string
	// Serial is the port the measurement stream is written to. Required.
	Serial string
	// LEDs pulses the temperature sensors' indicator pins with activity.
	LEDs bool
	// Exclude lists sensor fingerprints dropped from every batch.
	Exclude  []uint32
	Encoding wire.Encoding
	// Cadence is the measurement period shared by all producers; zero
	// means one second.
	Cadence time.Duration
	// Boot configures the serial control channel's bootloader hook.
	Boot BootHook
}

// Orchestrator runs the producers and the serial sink as one unit sharing a
// gated channel and a cancellation context.
type Orchestrator struct {
	cfg Config
}

// New validates the configuration. The serial path is mandatory and at
// least one measurement source must be configured.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Serial == "" {
		return nil, fmt.Errorf("stream: serial port path is required")
	}
	if len(cfg.TempBuses) == 0 && len(cfg.HumidityBuses) == 0 {
		return nil, fmt.Errorf("stream: at least one temperature or humidity bus is required")
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run spawns one goroutine per configured bus, the host temperature
// producer and the sink, then blocks until ctx is cancelled and every
// goroutine has drained. Panics inside a goroutine are caught and logged at
// the join point; they never take the process down.
func (o *Orchestrator) Run(ctx context.Context) error {
	sender, receiver := gated.New[wire.Measurement]()
	sink := NewSink(SinkConfig{
		Path:     o.cfg.Serial,
		Encoding: o.cfg.Encoding,
		Boot:     o.cfg.Boot,
	}, receiver)

	var wg sync.WaitGroup
	spawn := func(name string, run func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("thread panicked", "thread", name, "panic", r)
				}
			}()
			run()
		}()
	}

	producers := make([]*gated.Sender[wire.Measurement], 0, len(o.cfg.TempBuses)+len(o.cfg.HumidityBuses)+1)
	next := func() *gated.Sender[wire.Measurement] {
		if len(producers) == 0 {
			producers = append(producers, sender)
		} else {
			producers = append(producers, sender.Clone())
		}
		return producers[len(producers)-1]
	}

	for _, path := range o.cfg.TempBuses {
		producer := &TempProducer{
			Path:    path,
			LEDs:    o.cfg.LEDs,
			Exclude: o.cfg.Exclude,
			Cadence: o.cfg.Cadence,
		}
		out := next()
		spawn("temp:"+path, func() { producer.Run(ctx, out) })
	}
	for _, path := range o.cfg.HumidityBuses {
		producer := &HumidityProducer{Path: path, Cadence: o.cfg.Cadence}
		out := next()
		spawn("humidity:"+path, func() { producer.Run(ctx, out) })
	}
	cpu := &CPUProducer{Cadence: o.cfg.Cadence}
	out := next()
	spawn("cpu", func() { cpu.Run(ctx, out) })

	var sinkErr error
	spawn("sink", func() { sinkErr = sink.Run(ctx) })

	wg.Wait()
	if sinkErr != nil && ctx.Err() == nil {
		return sinkErr
	}
	return nil
}
