package ds28ea00

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/mklimuk/thermo"
	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	b   byte
	err error
}

// simBus is a scripted 1-Wire master: writes and resets are logged as
// tokens, reads are served from a queue, the search yields a fixed device
// list.
type simBus struct {
	devices   []thermo.Rom
	reads     []readResult
	ops       []string
	overdrive bool

	resetErr  error
	writeErr  error
	searchErr error
}

func (s *simBus) Reset(context.Context) error {
	if s.resetErr != nil {
		return s.resetErr
	}
	s.ops = append(s.ops, "reset")
	return nil
}

func (s *simBus) WriteByte(_ context.Context, b byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.ops = append(s.ops, fmt.Sprintf("%02x", b))
	return nil
}

func (s *simBus) ReadByte(context.Context) (byte, error) {
	if len(s.reads) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	return r.b, r.err
}

func (s *simBus) SetOverdrive(_ context.Context, enable bool) error {
	s.overdrive = enable
	s.ops = append(s.ops, fmt.Sprintf("od=%v", enable))
	return nil
}

func (s *simBus) SearchRom(_ context.Context, family byte, visit func(thermo.Rom) bool) error {
	if s.searchErr != nil {
		return s.searchErr
	}
	for _, rom := range s.devices {
		if family != 0 && rom.Family() != family {
			continue
		}
		if !visit(rom) {
			break
		}
	}
	return nil
}

// queueScratch enqueues a full scratchpad block for the given raw readout,
// with a valid trailing CRC unless corrupt flips a bit.
func (s *simBus) queueScratch(temp Temperature, corruptBit int) {
	block := scratchBlock(temp)
	if corruptBit >= 0 {
		block[corruptBit/8] ^= 1 << (corruptBit % 8)
	}
	for _, b := range block {
		s.reads = append(s.reads, readResult{b: b})
	}
}

func scratchBlock(temp Temperature) [9]byte {
	var block [9]byte
	block[0] = byte(temp)
	block[1] = byte(temp >> 8)
	block[2] = 0x32 // TH
	block[3] = 0xd8 // TL
	block[4] = byte(Resolution12Bit)
	block[8] = crc8.Checksum(block[:8], scratchCrcTable)
	return block
}

type recordDelay struct {
	slept []time.Duration
}

func (d *recordDelay) Sleep(_ context.Context, dur time.Duration) error {
	d.slept = append(d.slept, dur)
	return nil
}

func TestNewGroup_Validation(t *testing.T) {
	_, err := NewGroup(Config{Capacity: 0})
	assert.Error(t, err)
	_, err = NewGroup(Config{Capacity: 4, AlarmLow: 10, AlarmHigh: -10})
	assert.Error(t, err)
	_, err = NewGroup(Config{Capacity: 4, Resolution: 0x42})
	assert.Error(t, err)
	grp, err := NewGroup(Config{Capacity: 4})
	require.NoError(t, err)
	assert.Equal(t, Resolution12Bit, grp.Resolution())
	assert.Equal(t, 0, grp.Devices())
}

func TestGroup_Enumerate_CapacityAndOrder(t *testing.T) {
	bus := &simBus{devices: []thermo.Rom{
		0x1106050403020142,
		0x2206050403020128, // foreign family, skipped
		0x3306050403020242,
		0x4406050403020342,
		0x5506050403020442,
	}}
	grp, err := NewGroup(Config{Capacity: 3})
	require.NoError(t, err)
	n, err := grp.Enumerate(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, grp.Devices())

	expected := []thermo.Rom{0x1106050403020142, 0x3306050403020242, 0x4406050403020342}
	for pass := 0; pass < 2; pass++ {
		var got []thermo.Rom
		for rom := range grp.Roms() {
			got = append(got, rom)
		}
		assert.Equal(t, expected, got, "pass %d", pass)
	}
}

func TestGroup_Enumerate_ConfigSequence(t *testing.T) {
	bus := &simBus{devices: []thermo.Rom{0x1106050403020142}}
	grp, err := NewGroup(Config{Capacity: 2, AlarmLow: -40, AlarmHigh: 50, TogglePIO: true})
	require.NoError(t, err)
	_, err = grp.Enumerate(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"reset", "cc", "a5", "02", "fd", // indicators on
		"reset", "cc", "4e", "d8", "32", "7f", // thresholds + resolution
		"reset", "cc", "a5", "fd", "02", // indicators off
	}, bus.ops)
}

func TestGroup_Enumerate_SearchError(t *testing.T) {
	bus := &simBus{searchErr: io.ErrClosedPipe}
	grp, err := NewGroup(Config{Capacity: 2})
	require.NoError(t, err)
	_, err = grp.Enumerate(context.Background(), bus)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestGroup_Overdrive_AddressingCodes(t *testing.T) {
	bus := &simBus{}
	grp, err := NewGroup(Config{Capacity: 2})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, grp.LedToggleAll(ctx, bus, true))
	assert.Equal(t, []string{"reset", "cc", "a5", "02", "fd"}, bus.ops)

	require.NoError(t, grp.EnableOverdrive(ctx, bus))
	require.NoError(t, grp.EnableOverdrive(ctx, bus)) // idempotent
	assert.True(t, grp.Overdrive())
	bus.ops = nil
	require.NoError(t, grp.LedToggleAll(ctx, bus, true))
	assert.Equal(t, []string{"reset", "3c", "a5", "02", "fd"}, bus.ops)

	require.NoError(t, grp.DisableOverdrive(ctx, bus))
	assert.False(t, grp.Overdrive())
	bus.ops = nil
	require.NoError(t, grp.LedToggleAll(ctx, bus, false))
	assert.Equal(t, []string{"reset", "cc", "a5", "fd", "02"}, bus.ops)
}

func TestGroup_TriggerConversion_Delays(t *testing.T) {
	tests := []struct {
		res      Resolution
		expected time.Duration
	}{
		{Resolution9Bit, 93750 * time.Microsecond},
		{Resolution10Bit, 187500 * time.Microsecond},
		{Resolution11Bit, 375 * time.Millisecond},
		{Resolution12Bit, 750 * time.Millisecond},
	}
	for _, test := range tests {
		t.Run(test.res.String(), func(t *testing.T) {
			bus := &simBus{}
			delay := &recordDelay{}
			grp, err := NewGroup(Config{Capacity: 2, Resolution: test.res})
			require.NoError(t, err)
			require.NoError(t, grp.TriggerConversion(context.Background(), bus, delay))
			require.Len(t, delay.slept, 1)
			assert.Equal(t, test.expected, delay.slept[0])
			assert.Equal(t, []string{"reset", "cc", "44"}, bus.ops)
		})
	}
}

func TestGroup_TriggerConversion_PioPulse(t *testing.T) {
	bus := &simBus{}
	grp, err := NewGroup(Config{Capacity: 2, TogglePIO: true})
	require.NoError(t, err)
	require.NoError(t, grp.TriggerConversion(context.Background(), bus, &recordDelay{}))
	assert.Equal(t, []string{"reset", "cc", "44", "reset", "cc", "a5", "02", "fd"}, bus.ops)
}

func enumerated(t *testing.T, bus *simBus, cfg Config) *Group {
	t.Helper()
	grp, err := NewGroup(cfg)
	require.NoError(t, err)
	_, err = grp.Enumerate(context.Background(), bus)
	require.NoError(t, err)
	bus.ops = nil
	return grp
}

func TestGroup_ReadTemperatures_FastPath(t *testing.T) {
	bus := &simBus{devices: []thermo.Rom{0x1106050403020142}}
	grp := enumerated(t, bus, Config{Capacity: 2, Resolution: Resolution9Bit})
	// undefined low bits must be masked at 9-bit resolution
	bus.reads = []readResult{{b: 0xa7}, {b: 0x01}}
	readings, err := grp.ReadTemperatures(context.Background(), bus, false, false)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, temperatureFrom(0xa0, 0x01), readings[0].Temp)
	assert.InDelta(t, 26.0, readings[0].Temp.Celsius(), 0.001)
	assert.Equal(t, []string{
		"reset", "55", "42", "01", "02", "03", "04", "05", "06", "11", "be",
	}, bus.ops)
}

func TestGroup_ReadTemperatures_CrcValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("valid block accepted", func(t *testing.T) {
		bus := &simBus{devices: []thermo.Rom{0x1106050403020142}}
		grp := enumerated(t, bus, Config{Capacity: 2})
		bus.queueScratch(temperatureFrom(0x91, 0x01), -1)
		readings, err := grp.ReadTemperatures(ctx, bus, true, false)
		require.NoError(t, err)
		assert.InDelta(t, 25.0625, readings[0].Temp.Celsius(), 0.0001)
	})

	t.Run("any corrupted bit rejected", func(t *testing.T) {
		for bit := 0; bit < 72; bit++ {
			bus := &simBus{devices: []thermo.Rom{0x1106050403020142}}
			grp := enumerated(t, bus, Config{Capacity: 2})
			bus.queueScratch(temperatureFrom(0x91, 0x01), bit)
			_, err := grp.ReadTemperatures(ctx, bus, true, false)
			require.ErrorIs(t, err, thermo.ErrInvalidCrc, "bit %d", bit)
		}
	})
}

func TestGroup_ReadTemperatures_Tolerate(t *testing.T) {
	devices := []thermo.Rom{0x1106050403020142, 0x2206050403020242, 0x3306050403020342}

	t.Run("sentinel in failed slot", func(t *testing.T) {
		bus := &simBus{devices: devices}
		grp := enumerated(t, bus, Config{Capacity: 4})
		bus.queueScratch(temperatureFrom(0x91, 0x01), -1)
		bus.reads = append(bus.reads, readResult{err: io.ErrUnexpectedEOF})
		bus.queueScratch(temperatureFrom(0xd0, 0x07), -1)
		readings, err := grp.ReadTemperatures(context.Background(), bus, true, true)
		require.NoError(t, err)
		require.Len(t, readings, 3)
		assert.InDelta(t, 25.0625, readings[0].Temp.Celsius(), 0.0001)
		assert.Equal(t, Fault, readings[1].Temp)
		assert.InDelta(t, -85.0, readings[1].Temp.Celsius(), 0.0001)
		assert.InDelta(t, 125.0, readings[2].Temp.Celsius(), 0.0001)
	})

	t.Run("strict read aborts", func(t *testing.T) {
		bus := &simBus{devices: devices}
		grp := enumerated(t, bus, Config{Capacity: 4})
		bus.queueScratch(temperatureFrom(0x91, 0x01), -1)
		bus.reads = append(bus.reads, readResult{err: io.ErrUnexpectedEOF})
		readings, err := grp.ReadTemperatures(context.Background(), bus, true, false)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.Nil(t, readings)
	})
}

func TestGroup_ReadTemperature_Single(t *testing.T) {
	bus := &simBus{devices: []thermo.Rom{0x1106050403020142}}
	grp := enumerated(t, bus, Config{Capacity: 2})
	delay := &recordDelay{}
	bus.queueScratch(temperatureFrom(0x5e, 0xff), -1)
	temp, err := grp.ReadTemperature(context.Background(), bus, delay, 0x1106050403020142, true)
	require.NoError(t, err)
	assert.InDelta(t, -10.125, temp.Celsius(), 0.0001)
	assert.Equal(t, []time.Duration{750 * time.Millisecond}, delay.slept)
	assert.Equal(t, []string{
		"reset", "cc", "44",
		"reset", "55", "42", "01", "02", "03", "04", "05", "06", "11", "be",
	}, bus.ops)
}

func TestGroup_LedToggle_Sequences(t *testing.T) {
	rom := thermo.Rom(0x3d06050403020142)
	grp, err := NewGroup(Config{Capacity: 2})
	require.NoError(t, err)
	ctx := context.Background()

	bus := &simBus{}
	require.NoError(t, grp.LedToggle(ctx, bus, rom, true))
	assert.Equal(t, []string{
		"reset", "55", "42", "01", "02", "03", "04", "05", "06", "3d", "a5", "02", "fd",
	}, bus.ops)

	bus.ops = nil
	require.NoError(t, grp.LedToggle(ctx, bus, rom, false))
	assert.Equal(t, []string{
		"reset", "55", "42", "01", "02", "03", "04", "05", "06", "3d", "a5", "fd", "02",
	}, bus.ops)
}

func TestGroup_ReadTemperatures_Empty(t *testing.T) {
	bus := &simBus{}
	grp, err := NewGroup(Config{Capacity: 2})
	require.NoError(t, err)
	readings, err := grp.ReadTemperatures(context.Background(), bus, true, true)
	require.NoError(t, err)
	assert.Empty(t, readings)
	assert.Empty(t, bus.ops)
}
