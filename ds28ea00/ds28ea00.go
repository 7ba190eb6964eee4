// Package ds28ea00 drives groups of DS28EA00 1-Wire temperature sensors:
// chained enumeration, alarm/resolution configuration, group conversions
// with per-device readout, overdrive timing and the PIO indicator LED.
//
// The driver holds no bus handle. Every operation takes the bus (and, where
// it has to wait, a delay) so the caller controls transport lifetime and
// reconnection:
//
//	grp, _ := ds28ea00.NewGroup(ds28ea00.Config{Capacity: 16})
//	n, err := grp.Enumerate(ctx, bus)
//	err = grp.TriggerConversion(ctx, bus, thermo.StdDelay{})
//	readings, err := grp.ReadTemperatures(ctx, bus, true, true)
package ds28ea00

import (
	"context"
	"fmt"
	"iter"

	"github.com/mklimuk/thermo"
	"github.com/sigurn/crc8"
)

// Family is the DS28EA00 1-Wire family code.
const Family byte = 0x42

// Function commands (per datasheet).
const (
	cmdReadScratch   byte = 0xbe
	cmdWriteScratch  byte = 0x4e
	cmdCopyScratch   byte = 0x48
	cmdStartConv     byte = 0x44
	cmdReadPowerMode byte = 0xb4
	cmdRecallEEPROM  byte = 0xb8
	cmdPioWrite      byte = 0xa5
)

// PIO access write payloads. The device takes the new pin state followed by
// its bitwise complement; the two orderings below are distinct fixed
// sequences (on ends with pioOn, off ends with pioOff) and must not be
// collapsed into a single state byte.
const (
	pioOn  byte = 0b11111101
	pioOff byte = ^pioOn
)

var scratchCrcTable = crc8.MakeTable(crc8.CRC8_MAXIM)

// Reading pairs a device address with its last readout. A batch slot whose
// device failed a tolerated read carries the Fault sentinel.
type Reading struct {
	Rom  thermo.Rom
	Temp Temperature
}

// Config describes a device group. The zero value of Resolution selects
// 12-bit conversions.
type Config struct {
	// Capacity bounds the number of devices retained by Enumerate; devices
	// found beyond it are ignored.
	Capacity   int
	Resolution Resolution
	// AlarmLow and AlarmHigh are the alarm thresholds in whole °C written
	// to every device's scratchpad during enumeration. Devices outside the
	// window answer the conditional search command.
	AlarmLow  int8
	AlarmHigh int8
	// TogglePIO pulses the PIO indicator around configuration, conversion
	// and readout so a wired LED blinks with bus activity.
	TogglePIO bool
}

// Group tracks the devices discovered on a bus together with their readout
// configuration. Not safe for concurrent use.
type Group struct {
	readings  []Reading
	devices   int
	res       Resolution
	low, high int8
	togglePIO bool
	overdrive bool
}

// NewGroup validates the configuration and returns an empty group.
func NewGroup(cfg Config) (*Group, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("ds28ea00: capacity must be at least 1, got %d", cfg.Capacity)
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = Resolution12Bit
	}
	if !cfg.Resolution.valid() {
		return nil, fmt.Errorf("ds28ea00: invalid readout resolution %#x", byte(cfg.Resolution))
	}
	if cfg.AlarmLow > cfg.AlarmHigh {
		return nil, fmt.Errorf("ds28ea00: alarm window inverted (%d > %d)", cfg.AlarmLow, cfg.AlarmHigh)
	}
	return &Group{
		readings:  make([]Reading, cfg.Capacity),
		res:       cfg.Resolution,
		low:       cfg.AlarmLow,
		high:      cfg.AlarmHigh,
		togglePIO: cfg.TogglePIO,
	}, nil
}

// Devices returns the number of devices found by the last enumeration.
func (g *Group) Devices() int { return g.devices }

// Resolution returns the configured readout resolution.
func (g *Group) Resolution() Resolution { return g.res }

// Overdrive reports whether the group addresses devices with the overdrive
// ROM command variants.
func (g *Group) Overdrive() bool { return g.overdrive }

// Roms iterates over the discovered device addresses in discovery order.
// The sequence is restartable and reflects the latest enumeration.
func (g *Group) Roms() iter.Seq[thermo.Rom] {
	return func(yield func(thermo.Rom) bool) {
		for i := range g.devices {
			if !yield(g.readings[i].Rom) {
				return
			}
		}
	}
}

// Enumerate searches the bus for family members, keeping at most the
// configured capacity in discovery order, then writes the alarm thresholds
// and resolution to all devices. It returns the number of devices retained.
// Configuration already applied is not rolled back on error.
func (g *Group) Enumerate(ctx context.Context, bus thermo.SearchBus) (int, error) {
	g.devices = 0
	err := bus.SearchRom(ctx, Family, func(rom thermo.Rom) bool {
		g.readings[g.devices] = Reading{Rom: rom}
		g.devices++
		return g.devices < len(g.readings)
	})
	if err != nil {
		return 0, fmt.Errorf("device search failed: %w", err)
	}
	if g.togglePIO {
		// turn all indicator pins on while configuring
		if err = g.addressAll(ctx, bus); err != nil {
			return 0, err
		}
		if err = g.pioWrite(ctx, bus, true); err != nil {
			return 0, err
		}
	}
	if err = g.addressAll(ctx, bus); err != nil {
		return 0, err
	}
	for _, b := range []byte{cmdWriteScratch, byte(g.low), byte(g.high), byte(g.res)} {
		if err = bus.WriteByte(ctx, b); err != nil {
			return 0, fmt.Errorf("could not write configuration: %w", err)
		}
	}
	if g.togglePIO {
		if err = g.addressAll(ctx, bus); err != nil {
			return 0, err
		}
		if err = g.pioWrite(ctx, bus, false); err != nil {
			return 0, err
		}
	}
	return g.devices, nil
}

// EnableOverdrive switches the bus master to overdrive timing and makes the
// group use the overdrive ROM commands from now on. Idempotent.
func (g *Group) EnableOverdrive(ctx context.Context, bus thermo.OneWireBus) error {
	if err := bus.SetOverdrive(ctx, true); err != nil {
		return fmt.Errorf("could not enable overdrive: %w", err)
	}
	g.overdrive = true
	return nil
}

// DisableOverdrive returns the bus master and the group to standard timing.
// Idempotent.
func (g *Group) DisableOverdrive(ctx context.Context, bus thermo.OneWireBus) error {
	if err := bus.SetOverdrive(ctx, false); err != nil {
		return fmt.Errorf("could not disable overdrive: %w", err)
	}
	g.overdrive = false
	return nil
}

// TriggerConversion starts a temperature conversion on all devices at once
// and sleeps out the resolution's conversion time through delay, so the
// next read returns settled values. The sleep is the only place this driver
// blocks; cancelling ctx interrupts it.
func (g *Group) TriggerConversion(ctx context.Context, bus thermo.OneWireBus, delay thermo.Delay) error {
	if err := g.addressAll(ctx, bus); err != nil {
		return err
	}
	if err := bus.WriteByte(ctx, cmdStartConv); err != nil {
		return fmt.Errorf("could not start conversion: %w", err)
	}
	if g.togglePIO {
		if err := g.addressAll(ctx, bus); err != nil {
			return err
		}
		if err := g.pioWrite(ctx, bus, true); err != nil {
			return err
		}
	}
	return delay.Sleep(ctx, g.res.ConversionDelay())
}

// ReadTemperatures reads every enumerated device in discovery order. With
// validate set it reads the full scratchpad and checks its CRC; otherwise
// it reads the two temperature bytes only. With tolerate set a failing
// device records the Fault sentinel and iteration continues; otherwise the
// first failure aborts the batch. The returned slice aliases group state
// and stays valid until the next call.
func (g *Group) ReadTemperatures(ctx context.Context, bus thermo.OneWireBus, validate, tolerate bool) ([]Reading, error) {
	for i := range g.readings[:g.devices] {
		r := &g.readings[i]
		temp, err := g.readOne(ctx, bus, r.Rom, validate)
		if err != nil {
			if !tolerate {
				return nil, fmt.Errorf("read of %s failed: %w", r.Rom, err)
			}
			temp = Fault
		}
		r.Temp = temp
	}
	return g.readings[:g.devices], nil
}

// ReadTemperature runs a full conversion cycle for a single device: group
// trigger, conversion wait, one readout. No sentinel substitution happens
// here; failures return.
func (g *Group) ReadTemperature(ctx context.Context, bus thermo.OneWireBus, delay thermo.Delay, rom thermo.Rom, validate bool) (Temperature, error) {
	if err := g.TriggerConversion(ctx, bus, delay); err != nil {
		return 0, err
	}
	return g.readOne(ctx, bus, rom, validate)
}

// LedToggle drives one device's PIO indicator. The on and off orderings are
// the two fixed command sequences the chip expects.
func (g *Group) LedToggle(ctx context.Context, bus thermo.OneWireBus, rom thermo.Rom, on bool) error {
	if err := g.addressOne(ctx, bus, rom); err != nil {
		return err
	}
	return g.pioWrite(ctx, bus, on)
}

// LedToggleAll drives the PIO indicator of every device on the bus.
func (g *Group) LedToggleAll(ctx context.Context, bus thermo.OneWireBus, on bool) error {
	if err := g.addressAll(ctx, bus); err != nil {
		return err
	}
	return g.pioWrite(ctx, bus, on)
}

func (g *Group) readOne(ctx context.Context, bus thermo.OneWireBus, rom thermo.Rom, validate bool) (Temperature, error) {
	if err := g.addressOne(ctx, bus, rom); err != nil {
		return 0, err
	}
	if err := bus.WriteByte(ctx, cmdReadScratch); err != nil {
		return 0, fmt.Errorf("could not request scratchpad: %w", err)
	}
	var temp Temperature
	if !validate {
		var buf [2]byte
		for i := range buf {
			b, err := bus.ReadByte(ctx)
			if err != nil {
				return 0, fmt.Errorf("scratchpad read failed: %w", err)
			}
			buf[i] = b
		}
		temp = temperatureFrom(buf[0]&g.res.bitmask(), buf[1])
	} else {
		var buf [9]byte
		for i := range buf {
			b, err := bus.ReadByte(ctx)
			if err != nil {
				return 0, fmt.Errorf("scratchpad read failed: %w", err)
			}
			buf[i] = b
		}
		if crc8.Checksum(buf[:8], scratchCrcTable) != buf[8] {
			return 0, thermo.ErrInvalidCrc
		}
		temp = temperatureFrom(buf[0]&g.res.bitmask(), buf[1])
	}
	if g.togglePIO {
		// extinguish the pin lit by the conversion trigger
		if err := g.addressOne(ctx, bus, rom); err != nil {
			return 0, err
		}
		if err := g.pioWrite(ctx, bus, false); err != nil {
			return 0, err
		}
	}
	return temp, nil
}

// addressAll resets the bus and issues the skip command matching the
// group's speed mode. Every transaction addresses its targets explicitly.
func (g *Group) addressAll(ctx context.Context, bus thermo.OneWireBus) error {
	if err := bus.Reset(ctx); err != nil {
		return fmt.Errorf("bus reset failed: %w", err)
	}
	cmd := thermo.CmdSkipRom
	if g.overdrive {
		cmd = thermo.CmdOverdriveSkipRom
	}
	if err := bus.WriteByte(ctx, cmd); err != nil {
		return fmt.Errorf("could not address devices: %w", err)
	}
	return nil
}

// addressOne resets the bus and selects a single device, sending the ROM
// least-significant byte first.
func (g *Group) addressOne(ctx context.Context, bus thermo.OneWireBus, rom thermo.Rom) error {
	if err := bus.Reset(ctx); err != nil {
		return fmt.Errorf("bus reset failed: %w", err)
	}
	cmd := thermo.CmdMatchRom
	if g.overdrive {
		cmd = thermo.CmdOverdriveMatchRom
	}
	if err := bus.WriteByte(ctx, cmd); err != nil {
		return fmt.Errorf("could not address device %s: %w", rom, err)
	}
	for i := 0; i < 8; i++ {
		if err := bus.WriteByte(ctx, byte(rom>>(8*i))); err != nil {
			return fmt.Errorf("could not send address of %s: %w", rom, err)
		}
	}
	return nil
}

func (g *Group) pioWrite(ctx context.Context, bus thermo.OneWireBus, on bool) error {
	if err := bus.WriteByte(ctx, cmdPioWrite); err != nil {
		return fmt.Errorf("could not write indicator command: %w", err)
	}
	var err error
	if on {
		if err = bus.WriteByte(ctx, pioOff); err == nil {
			err = bus.WriteByte(ctx, pioOn)
		}
	} else {
		if err = bus.WriteByte(ctx, pioOn); err == nil {
			err = bus.WriteByte(ctx, pioOff)
		}
	}
	if err != nil {
		return fmt.Errorf("could not pulse indicator: %w", err)
	}
	return nil
}
