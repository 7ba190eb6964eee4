package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/thermo"
)

// DS2484Address is the bridge's fixed 7-bit I2C address.
const DS2484Address byte = 0x18

// Bridge commands.
const (
	ds2484CmdDeviceReset   byte = 0xf0
	ds2484CmdSetReadPtr    byte = 0xe1
	ds2484CmdWriteConfig   byte = 0xd2
	ds2484CmdAdjustPort    byte = 0xc3
	ds2484CmdOneWireReset  byte = 0xb4
	ds2484CmdOneWireBit    byte = 0x87
	ds2484CmdOneWireWrite  byte = 0xa5
	ds2484CmdOneWireRead   byte = 0x96
	ds2484CmdTriplet       byte = 0x78
	ds2484RegStatus        byte = 0xf0
	ds2484RegReadData      byte = 0xe1
	ds2484RegDeviceConfig  byte = 0xc3
	ds2484RegPortConfig    byte = 0xb4
)

// Status register bits.
const (
	ds2484StatusBusy     byte = 0x01 // 1WB
	ds2484StatusPresence byte = 0x02 // PPD
	ds2484StatusShort    byte = 0x04 // SD
	ds2484StatusLevel    byte = 0x08 // LL
	ds2484StatusReset    byte = 0x10 // RST
	ds2484StatusBit      byte = 0x20 // SBR
	ds2484StatusTriplet  byte = 0x40 // TSB
	ds2484StatusDir      byte = 0x80 // DIR
)

// Device configuration bits. The register write carries the bits in the low
// nibble and their complement in the high one.
const (
	ds2484ConfigPullup    byte = 0x01 // APU
	ds2484ConfigPowerDown byte = 0x02 // PDN
	ds2484ConfigStrongPU  byte = 0x04 // SPU
	ds2484ConfigOverdrive byte = 0x08 // 1WS
)

// busyRetries bounds the status polls waiting for a 1-Wire slot to finish;
// each poll is a full I2C read, so this covers the longest reset timing.
const busyRetries = 250

var (
	_ thermo.OneWireBus  = &DS2484{}
	_ thermo.RomSearcher = &DS2484{}
)

// DS2484 drives the I2C to 1-Wire bridge of the same name: byte-level
// 1-Wire transactions, overdrive switching, port timing adjustment and
// triplet-accelerated ROM search.
type DS2484 struct {
	mx     sync.Mutex
	bus    thermo.I2CBus
	addr   byte
	config byte
}

func NewDS2484(bus thermo.I2CBus) *DS2484 {
	return &DS2484{bus: bus, addr: DS2484Address}
}

// Init resets the bridge and leaves it in its power-on configuration.
func (d *DS2484) Init(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdDeviceReset}); err != nil {
		return fmt.Errorf("could not reset bridge: %w", err)
	}
	status, err := d.readStatus(ctx)
	if err != nil {
		return err
	}
	if status&ds2484StatusReset == 0 {
		return fmt.Errorf("bridge did not acknowledge reset (status %#02x)", status)
	}
	d.config = 0
	return nil
}

// SetActivePullup switches the bus pull-up between the passive resistor and
// the active circuit. Best effort in the daemon: failures are logged by the
// caller and the bus stays usable.
func (d *DS2484) SetActivePullup(ctx context.Context, enable bool) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	config := d.config &^ ds2484ConfigPullup
	if enable {
		config |= ds2484ConfigPullup
	}
	return d.writeConfig(ctx, config)
}

// SetOverdrive flips the bridge between standard and overdrive bus timing.
func (d *DS2484) SetOverdrive(ctx context.Context, enable bool) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	config := d.config &^ ds2484ConfigOverdrive
	if enable {
		config |= ds2484ConfigOverdrive
	}
	return d.writeConfig(ctx, config)
}

// Reset issues a 1-Wire reset/presence cycle.
func (d *DS2484) Reset(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.waitIdle(ctx); err != nil {
		return err
	}
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdOneWireReset}); err != nil {
		return fmt.Errorf("could not issue bus reset: %w", err)
	}
	status, err := d.waitIdle(ctx)
	if err != nil {
		return err
	}
	if status&ds2484StatusShort != 0 {
		return thermo.ErrShortDetected
	}
	if status&ds2484StatusPresence == 0 {
		return thermo.ErrNoDevicePresent
	}
	return nil
}

func (d *DS2484) WriteByte(ctx context.Context, b byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.waitIdle(ctx); err != nil {
		return err
	}
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdOneWireWrite, b}); err != nil {
		return fmt.Errorf("could not write byte: %w", err)
	}
	return nil
}

func (d *DS2484) ReadByte(ctx context.Context) (byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.waitIdle(ctx); err != nil {
		return 0, err
	}
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdOneWireRead}); err != nil {
		return 0, fmt.Errorf("could not issue read slot: %w", err)
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return 0, err
	}
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdSetReadPtr, ds2484RegReadData}); err != nil {
		return 0, fmt.Errorf("could not select read data register: %w", err)
	}
	var buf [1]byte
	if err := d.bus.ReadFromAddr(ctx, d.addr, buf[:]); err != nil {
		return 0, fmt.Errorf("could not read data register: %w", err)
	}
	return buf[0], nil
}

// SearchRom enumerates bus devices with the bridge's triplet command using
// the standard discrepancy walk. With a non-zero family the walk is seeded
// with it and stops at the first device outside the family; members sit on
// a contiguous span of the search order, so none are missed.
func (d *DS2484) SearchRom(ctx context.Context, family byte, visit func(rom thermo.Rom) bool) error {
	var rom uint64
	lastDiscrepancy := -1
	if family != 0 {
		rom = uint64(family)
		lastDiscrepancy = 64
	}
	for {
		if err := d.Reset(ctx); err != nil {
			return err
		}
		if err := d.WriteByte(ctx, thermo.CmdSearchRom); err != nil {
			return err
		}
		var found uint64
		lastZero := -1
		for bit := 0; bit < 64; bit++ {
			var dir byte
			switch {
			case bit < lastDiscrepancy:
				dir = byte(rom>>bit) & 1
			case bit == lastDiscrepancy:
				dir = 1
			}
			idBit, cmpBit, taken, err := d.triplet(ctx, dir)
			if err != nil {
				return err
			}
			if idBit && cmpBit {
				// nothing answered this branch
				return nil
			}
			if taken {
				found |= 1 << bit
			} else if !idBit && !cmpBit {
				lastZero = bit
			}
		}
		rom = found
		if family != 0 && byte(rom) != family {
			return nil
		}
		if !thermo.Rom(rom).Verify() {
			return thermo.ErrInvalidCrc
		}
		if !visit(thermo.Rom(rom)) {
			return nil
		}
		if lastZero < 0 {
			return nil
		}
		lastDiscrepancy = lastZero
	}
}

// AdjustPort programs the bridge's 1-Wire timing and pull-up strength.
// Requested values are quantized to the nearest step the bridge supports.
func (d *DS2484) AdjustPort(ctx context.Context, cfg PortConfig) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	for _, p := range cfg.parameters() {
		payload := p.param<<5 | p.value&0x0f
		if p.overdrive {
			payload |= 0x10
		}
		if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdAdjustPort, payload}); err != nil {
			return fmt.Errorf("could not adjust port parameter %#02x: %w", p.param, err)
		}
	}
	return nil
}

// Status reads and decodes the status register, for diagnostics.
func (d *DS2484) Status(ctx context.Context) (DS2484Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	status, err := d.readStatus(ctx)
	if err != nil {
		return DS2484Status{}, err
	}
	return DS2484Status{
		Busy:             status&ds2484StatusBusy != 0,
		PresenceDetected: status&ds2484StatusPresence != 0,
		ShortDetected:    status&ds2484StatusShort != 0,
		LogicLevel:       status&ds2484StatusLevel != 0,
		DeviceReset:      status&ds2484StatusReset != 0,
	}, nil
}

type DS2484Status struct {
	Busy             bool `yaml:"busy"`
	PresenceDetected bool `yaml:"presence_detected"`
	ShortDetected    bool `yaml:"short_detected"`
	LogicLevel       bool `yaml:"logic_level"`
	DeviceReset      bool `yaml:"device_reset"`
}

func (d *DS2484) triplet(ctx context.Context, dir byte) (idBit, cmpBit, taken bool, err error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err = d.waitIdle(ctx); err != nil {
		return false, false, false, err
	}
	if err = d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdTriplet, dir << 7}); err != nil {
		return false, false, false, fmt.Errorf("could not issue triplet: %w", err)
	}
	status, err := d.waitIdle(ctx)
	if err != nil {
		return false, false, false, err
	}
	return status&ds2484StatusBit != 0, status&ds2484StatusTriplet != 0, status&ds2484StatusDir != 0, nil
}

// waitIdle polls the status register until the 1-Wire line is free and
// returns the final status byte.
func (d *DS2484) waitIdle(ctx context.Context) (byte, error) {
	for i := 0; i < busyRetries; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		status, err := d.readStatus(ctx)
		if err != nil {
			return 0, err
		}
		if status&ds2484StatusBusy == 0 {
			return status, nil
		}
	}
	return 0, thermo.ErrTimeout
}

func (d *DS2484) readStatus(ctx context.Context) (byte, error) {
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdSetReadPtr, ds2484RegStatus}); err != nil {
		return 0, fmt.Errorf("could not select status register: %w", err)
	}
	var buf [1]byte
	if err := d.bus.ReadFromAddr(ctx, d.addr, buf[:]); err != nil {
		return 0, fmt.Errorf("could not read status register: %w", err)
	}
	return buf[0], nil
}

func (d *DS2484) writeConfig(ctx context.Context, config byte) error {
	payload := config&0x0f | (^config&0x0f)<<4
	if err := d.bus.WriteToAddr(ctx, d.addr, []byte{ds2484CmdWriteConfig, payload}); err != nil {
		return fmt.Errorf("could not write device config: %w", err)
	}
	var buf [1]byte
	if err := d.bus.ReadFromAddr(ctx, d.addr, buf[:]); err != nil {
		return fmt.Errorf("could not read back device config: %w", err)
	}
	if buf[0] != config&0x0f {
		return fmt.Errorf("device config verification failed: wrote %#02x, read %#02x", config&0x0f, buf[0])
	}
	d.config = config
	return nil
}
