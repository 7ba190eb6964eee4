package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/adapter"
	"github.com/mklimuk/thermo/ds28ea00"
	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/i2c"
	"github.com/mklimuk/thermo/wire"
)

// Group configuration used on every temperature bus.
const (
	groupCapacity  = 16
	groupAlarmLow  = -40
	groupAlarmHigh = 50
)

// daemonPortConfig is the 1-Wire line timing for the deployed wiring: long
// chained lines with up to 16 slaves need a stretched reset pulse and a
// 1 kΩ weak pull-up.
var daemonPortConfig = adapter.PortConfig{
	ResetLow:                440 * time.Microsecond,
	ResetLowOverdrive:       44 * time.Microsecond,
	PresenceSample:          58 * time.Microsecond,
	PresenceSampleOverdrive: 5500 * time.Nanosecond,
	WriteZeroLow:            52 * time.Microsecond,
	WriteZeroLowOverdrive:   5 * time.Microsecond,
	WriteZeroRecovery:       2750 * time.Nanosecond,
	WeakPullup:              1000,
}

// TempBridge is what the temperature loop needs from the bus bridge: the
// 1-Wire capability plus the adapter-level knobs applied best-effort during
// setup.
type TempBridge interface {
	thermo.SearchBus
	SetActivePullup(ctx context.Context, enable bool) error
	AdjustPort(ctx context.Context, cfg adapter.PortConfig) error
}

// TempProducer polls the DS28EA00 chain on one I2C bus and pushes a
// temperature batch to the channel once per cadence.
type TempProducer struct {
	// Path is the I2C device the DS2484 bridge sits on.
	Path string
	// LEDs pulses the sensors' PIO indicators with bus activity.
	LEDs bool
	// Exclude lists sensor fingerprints that never reach the channel.
	Exclude []uint32
	// Cadence is the measurement period; zero means one second.
	Cadence time.Duration
	// Delay paces conversion waits; zero value sleeps for real.
	Delay thermo.Delay
	// OpenBridge overrides how the bus bridge is built, for tests. The
	// returned close function releases the underlying transport.
	OpenBridge func(ctx context.Context, path string) (TempBridge, func() error, error)
}

// Run owns its bus exclusively and loops forever: (re)build the bridge and
// the sensor group, then poll at the cadence. Hard failures during setup or
// conversion tear the stack down and rebuild after a backoff; per-device
// read errors degrade to the fault sentinel. Run exits only on ctx
// cancellation.
func (p *TempProducer) Run(ctx context.Context, sender *gated.Sender[wire.Measurement]) {
	defer sender.Close()
	log := slog.With("bus", p.Path)
	cadence := p.Cadence
	if cadence == 0 {
		cadence = time.Second
	}
	if p.Delay == nil {
		p.Delay = thermo.StdDelay{}
	}
	if p.OpenBridge == nil {
		p.OpenBridge = openDS2484
	}
	for ctx.Err() == nil {
		if err := p.cycle(ctx, log, cadence, sender); err != nil {
			log.Error("temperature loop failed, restarting", "error", err)
			if delay.Sleep(ctx, sinkBackoff) != nil {
				break
			}
		}
	}
	log.Info("temperature producer exiting")
}

// cycle is one full bridge lifetime: open, configure, enumerate, then the
// steady-state poll loop. It returns on the first hard error.
func (p *TempProducer) cycle(ctx context.Context, log *slog.Logger, cadence time.Duration, sender *gated.Sender[wire.Measurement]) error {
	log.Info("opening bus")
	bridge, release, err := p.OpenBridge(ctx, p.Path)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	// adapter-level tuning is best effort: a bridge that rejects it still
	// measures, just with less margin on the line
	if err = bridge.SetActivePullup(ctx, true); err != nil {
		log.Warn("could not enable active pullup", "error", err)
	}
	if err = bridge.AdjustPort(ctx, daemonPortConfig); err != nil {
		log.Warn("could not adjust port timing", "error", err)
	} else {
		log.Info("port timing configured")
	}

	group, err := ds28ea00.NewGroup(ds28ea00.Config{
		Capacity:  groupCapacity,
		AlarmLow:  groupAlarmLow,
		AlarmHigh: groupAlarmHigh,
		TogglePIO: p.LEDs,
	})
	if err != nil {
		return err
	}
	devices, err := group.Enumerate(ctx, bridge)
	if err != nil {
		return err
	}
	log.Info("devices enumerated", "count", devices)
	for rom := range group.Roms() {
		log.Info("device found", "rom", rom.String(), "fingerprint", rom.Fingerprint(), "excluded", excluded(p.Exclude, rom.Fingerprint()))
	}

	p.tryOverdrive(ctx, log, group, bridge)

	for ctx.Err() == nil {
		start := time.Now()
		if err = group.TriggerConversion(ctx, bridge, p.Delay); err != nil {
			return err
		}
		readings, err := group.ReadTemperatures(ctx, bridge, true, true)
		if err != nil {
			// tolerant reads only fail on addressing problems; rebuild
			return err
		}
		batch := temperatureBatch(readings, p.Exclude)
		if err = sender.Send(batch); err != nil {
			log.Warn("measurement dropped", "error", err, "entries", len(batch.Entries))
		}
		if remainder := cadence - time.Since(start); remainder > 0 {
			if delay.Sleep(ctx, remainder) != nil {
				break
			}
		}
	}
	return nil
}

// tryOverdrive negotiates the higher-speed mode and verifies it with a trial
// conversion; when nothing answers at the faster timing the group falls back
// to standard speed.
func (p *TempProducer) tryOverdrive(ctx context.Context, log *slog.Logger, group *ds28ea00.Group, bridge TempBridge) {
	if err := group.EnableOverdrive(ctx, bridge); err != nil {
		log.Error("could not enable overdrive", "error", err)
		return
	}
	err := group.TriggerConversion(ctx, bridge, p.Delay)
	if err == nil {
		log.Info("overdrive mode verified")
		return
	}
	if errors.Is(err, thermo.ErrNoDevicePresent) {
		log.Warn("no device answered in overdrive, falling back to standard speed")
		if err = group.DisableOverdrive(ctx, bridge); err != nil {
			log.Error("could not disable overdrive", "error", err)
		}
		return
	}
	log.Error("overdrive trial conversion failed", "error", err)
}

// temperatureBatch maps a readout to wire entries keyed by fingerprint,
// dropping excluded sensors. Fault sentinels stay in the batch so the
// controller sees dead slots.
func temperatureBatch(readings []ds28ea00.Reading, exclude []uint32) wire.Measurement {
	entries := make([]wire.Entry, 0, len(readings))
	for _, r := range readings {
		id := r.Rom.Fingerprint()
		if excluded(exclude, id) {
			continue
		}
		entries = append(entries, wire.Entry{ID: id, Value: r.Temp.Celsius()})
	}
	return wire.Measurement{Kind: wire.Temperature, Entries: entries}
}

func excluded(exclude []uint32, id uint32) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}

// openDS2484 opens the kernel I2C bus and resets the bridge on it.
func openDS2484(ctx context.Context, path string) (TempBridge, func() error, error) {
	bus, err := i2c.NewGenericBus(path)
	if err != nil {
		return nil, nil, err
	}
	bridge := adapter.NewDS2484(bus)
	if err = bridge.Init(ctx); err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return bridge, bus.Close, nil
}
