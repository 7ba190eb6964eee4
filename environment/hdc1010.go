package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/thermo"
)

// HDC1010 register map.
const (
	hdc1010RegTemperature byte = 0x00
	hdc1010RegHumidity    byte = 0x01
	hdc1010RegConfig      byte = 0x02
	hdc1010RegMfgID       byte = 0xfb
	hdc1010RegDeviceID    byte = 0xff
)

const (
	hdc1010MfgID    uint16 = 0x5449 // "TI"
	hdc1010DeviceID uint16 = 0x1000
)

// Configuration register bits (big-endian word at 0x02).
const (
	hdc1010ConfigReset    uint16 = 1 << 15
	hdc1010ConfigHeater   uint16 = 1 << 13
	hdc1010ConfigSeparate uint16 = 1 << 12 // 0 = temp+hum in sequence
	hdc1010ConfigBattery  uint16 = 1 << 11
	hdc1010ConfigTempRes  uint16 = 1 << 10 // 0 = 14-bit, 1 = 11-bit
	hdc1010ConfigHumRes8  uint16 = 2 << 8
	hdc1010ConfigHumRes11 uint16 = 1 << 8
)

// HDC1010BaseAddress is the chip's I2C address with both address pins low;
// A0 and A1 select the 0x40-0x43 range.
const HDC1010BaseAddress byte = 0x40

// HDC1010Address builds the slave address from the two address pin levels.
func HDC1010Address(a0, a1 bool) byte {
	addr := HDC1010BaseAddress
	if a0 {
		addr |= 0x01
	}
	if a1 {
		addr |= 0x02
	}
	return addr
}

// AcquisitionMode selects how the HDC1010 runs its conversions.
type AcquisitionMode int

const (
	// AcquireSequence converts temperature then humidity on a single
	// trigger; results are read back to back starting at the temperature
	// register.
	AcquireSequence AcquisitionMode = iota
	// AcquireSeparate converts only the quantity whose register was
	// addressed by the trigger.
	AcquireSeparate
)

// Trigger selects the quantity a measurement trigger starts.
type Trigger int

const (
	TriggerTemperature Trigger = iota
	TriggerHumidity
	TriggerBoth
)

// Conversion times per resolution. The daemon runs both channels at 14 bits.
const (
	hdc1010TempDelay14 = 6350 * time.Microsecond
	hdc1010HumDelay14  = 6500 * time.Microsecond
)

// HDC1010 represents the Texas Instruments HDC1010 humidity and temperature
// sensor. The driver keeps both channels at 14-bit resolution; a measurement
// is a trigger, a conversion wait, then a register read.
type HDC1010 struct {
	transport thermo.I2CBus
	addr      byte
	mode      AcquisitionMode
}

func NewHDC1010(trans thermo.I2CBus, addr byte, mode AcquisitionMode) *HDC1010 {
	return &HDC1010{transport: trans, addr: addr, mode: mode}
}

// Addr returns the sensor's I2C address, used as its wire identity.
func (sensor *HDC1010) Addr() byte { return sensor.addr }

// Init probes the identification registers and writes the acquisition
// configuration. A device that does not answer or reports foreign IDs fails
// with thermo.ErrNoDevicePresent.
func (sensor *HDC1010) Init(ctx context.Context) error {
	mfg, err := sensor.readRegister(ctx, hdc1010RegMfgID)
	if err != nil {
		return fmt.Errorf("hdc1010: %w: %w", thermo.ErrNoDevicePresent, err)
	}
	dev, err := sensor.readRegister(ctx, hdc1010RegDeviceID)
	if err != nil {
		return fmt.Errorf("hdc1010: %w: %w", thermo.ErrNoDevicePresent, err)
	}
	if mfg != hdc1010MfgID || dev != hdc1010DeviceID {
		return fmt.Errorf("hdc1010: %w: unexpected id %#04x/%#04x", thermo.ErrNoDevicePresent, mfg, dev)
	}
	return sensor.writeConfig(ctx, sensor.configWord())
}

// Reset soft-resets the sensor, waits for the reset bit to clear and
// restores the acquisition configuration.
func (sensor *HDC1010) Reset(ctx context.Context, delay thermo.Delay) error {
	if err := sensor.writeConfig(ctx, hdc1010ConfigReset); err != nil {
		return err
	}
	for i := 0; i < 10; i++ {
		if err := delay.Sleep(ctx, 15*time.Millisecond); err != nil {
			return err
		}
		cfg, err := sensor.readRegister(ctx, hdc1010RegConfig)
		if err != nil {
			return fmt.Errorf("hdc1010: could not read config after reset: %w", err)
		}
		if cfg&hdc1010ConfigReset == 0 {
			return sensor.writeConfig(ctx, sensor.configWord())
		}
	}
	return fmt.Errorf("hdc1010: %w: reset bit did not clear", thermo.ErrTimeout)
}

// TriggerMeasurement addresses the measurement register, starting a
// conversion, and returns how long the caller must wait before reading the
// result. Triggering both channels requires the sequence acquisition mode.
func (sensor *HDC1010) TriggerMeasurement(ctx context.Context, kind Trigger) (time.Duration, error) {
	reg := hdc1010RegTemperature
	var wait time.Duration
	switch kind {
	case TriggerBoth:
		if sensor.mode != AcquireSequence {
			return 0, fmt.Errorf("hdc1010: %w: both channels need sequence mode", thermo.ErrInvalidOperation)
		}
		wait = hdc1010TempDelay14 + hdc1010HumDelay14
	case TriggerTemperature:
		wait = hdc1010TempDelay14
		if sensor.mode == AcquireSequence {
			// the sequenced conversion always runs both channels
			wait += hdc1010HumDelay14
		}
	case TriggerHumidity:
		if sensor.mode == AcquireSequence {
			wait = hdc1010TempDelay14 + hdc1010HumDelay14
		} else {
			reg = hdc1010RegHumidity
			wait = hdc1010HumDelay14
		}
	default:
		return 0, fmt.Errorf("hdc1010: %w: unknown trigger %d", thermo.ErrInvalidOperation, kind)
	}
	if err := sensor.transport.WriteToAddr(ctx, sensor.addr, []byte{reg}); err != nil {
		return 0, fmt.Errorf("hdc1010: could not trigger measurement: %w", err)
	}
	return wait, nil
}

// ReadTemperature reads the last temperature conversion in °C.
func (sensor *HDC1010) ReadTemperature(ctx context.Context) (float32, error) {
	raw, err := sensor.readResult(ctx)
	if err != nil {
		return 0, err
	}
	return convertHDCTemperature(raw), nil
}

// ReadHumidity reads the last humidity conversion in %RH.
func (sensor *HDC1010) ReadHumidity(ctx context.Context) (float32, error) {
	raw, err := sensor.readResult(ctx)
	if err != nil {
		return 0, err
	}
	return convertHDCHumidity(raw), nil
}

// ReadBoth reads a sequenced conversion result: temperature first, humidity
// right behind it.
func (sensor *HDC1010) ReadBoth(ctx context.Context) (temp, hum float32, err error) {
	if sensor.mode != AcquireSequence {
		return 0, 0, fmt.Errorf("hdc1010: %w: combined read needs sequence mode", thermo.ErrInvalidOperation)
	}
	resp := make([]byte, 4)
	if err = sensor.transport.ReadFromAddr(ctx, sensor.addr, resp); err != nil {
		return 0, 0, fmt.Errorf("hdc1010: could not read measurement: %w", err)
	}
	temp = convertHDCTemperature(binary.BigEndian.Uint16(resp[0:2]))
	hum = convertHDCHumidity(binary.BigEndian.Uint16(resp[2:4]))
	return temp, hum, nil
}

// GetTempAndHum runs a full sequenced measurement cycle.
func (sensor *HDC1010) GetTempAndHum(ctx context.Context, delay thermo.Delay) (float32, float32, error) {
	wait, err := sensor.TriggerMeasurement(ctx, TriggerBoth)
	if err != nil {
		return 0, 0, err
	}
	if err = delay.Sleep(ctx, wait); err != nil {
		return 0, 0, err
	}
	return sensor.ReadBoth(ctx)
}

func (sensor *HDC1010) configWord() uint16 {
	var cfg uint16 // both resolutions at 14 bits
	if sensor.mode == AcquireSeparate {
		cfg |= hdc1010ConfigSeparate
	}
	return cfg
}

func (sensor *HDC1010) writeConfig(ctx context.Context, cfg uint16) error {
	err := sensor.transport.WriteToAddr(ctx, sensor.addr, []byte{hdc1010RegConfig, byte(cfg >> 8), byte(cfg)})
	if err != nil {
		return fmt.Errorf("hdc1010: could not write configuration: %w", err)
	}
	return nil
}

func (sensor *HDC1010) readRegister(ctx context.Context, reg byte) (uint16, error) {
	if err := sensor.transport.WriteToAddr(ctx, sensor.addr, []byte{reg}); err != nil {
		return 0, fmt.Errorf("could not address register %#02x: %w", reg, err)
	}
	resp := make([]byte, 2)
	if err := sensor.transport.ReadFromAddr(ctx, sensor.addr, resp); err != nil {
		return 0, fmt.Errorf("could not read register %#02x: %w", reg, err)
	}
	return binary.BigEndian.Uint16(resp), nil
}

// readResult reads two bytes from the register addressed by the last
// trigger.
func (sensor *HDC1010) readResult(ctx context.Context) (uint16, error) {
	resp := make([]byte, 2)
	if err := sensor.transport.ReadFromAddr(ctx, sensor.addr, resp); err != nil {
		return 0, fmt.Errorf("hdc1010: could not read measurement: %w", err)
	}
	return binary.BigEndian.Uint16(resp), nil
}

func convertHDCTemperature(raw uint16) float32 {
	return float32(raw)*165/65536 - 40
}

func convertHDCHumidity(raw uint16) float32 {
	return float32(raw) * 100 / 65536
}
