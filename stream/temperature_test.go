package stream

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/adapter"
	"github.com/mklimuk/thermo/ds28ea00"
	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/wire"
)

var maximTable = crc8.MakeTable(crc8.CRC8_MAXIM)

func bridgeRom(serial uint64) thermo.Rom {
	rom := serial<<8 | uint64(ds28ea00.Family)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], rom)
	return thermo.Rom(uint64(crc8.Checksum(buf[:7], maximTable))<<56 | rom)
}

// fakeBridge answers the DS28EA00 protocol for a fixed device set: matched
// reads serve a scratchpad block with the device's scripted raw readout.
// When failOverdrive is set, resets in overdrive mode see an empty bus.
type fakeBridge struct {
	mu            sync.Mutex
	devices       []thermo.Rom
	temps         map[thermo.Rom]int16
	failOverdrive bool

	overdrive bool
	pullup    bool
	adjusted  bool

	romPending int
	romBuf     []byte
	reads      []byte
}

func (f *fakeBridge) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overdrive && f.failOverdrive {
		return thermo.ErrNoDevicePresent
	}
	return nil
}

func (f *fakeBridge) WriteByte(_ context.Context, b byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.romPending > 0 {
		f.romBuf = append(f.romBuf, b)
		f.romPending--
		return nil
	}
	switch b {
	case thermo.CmdMatchRom, thermo.CmdOverdriveMatchRom:
		f.romPending = 8
		f.romBuf = nil
	case 0xbe: // read scratchpad for the matched device
		rom := thermo.Rom(binary.LittleEndian.Uint64(f.romBuf))
		raw := f.temps[rom]
		var block [9]byte
		block[0] = byte(raw)
		block[1] = byte(raw >> 8)
		block[2] = 0x32
		block[3] = 0xd8
		block[4] = 0x7f
		block[8] = crc8.Checksum(block[:8], maximTable)
		f.reads = append(f.reads, block[:]...)
	}
	return nil
}

func (f *fakeBridge) ReadByte(context.Context) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return 0, thermo.ErrTimeout
	}
	b := f.reads[0]
	f.reads = f.reads[1:]
	return b, nil
}

func (f *fakeBridge) SetOverdrive(_ context.Context, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overdrive = enable
	return nil
}

func (f *fakeBridge) SearchRom(_ context.Context, family byte, visit func(thermo.Rom) bool) error {
	for _, rom := range f.devices {
		if family != 0 && rom.Family() != family {
			continue
		}
		if !visit(rom) {
			break
		}
	}
	return nil
}

func (f *fakeBridge) SetActivePullup(_ context.Context, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullup = enable
	return nil
}

func (f *fakeBridge) AdjustPort(context.Context, adapter.PortConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjusted = true
	return nil
}

type noopDelay struct{}

func (noopDelay) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestTemperatureBatch_Exclusion(t *testing.T) {
	keep := bridgeRom(0x060504030201)
	drop := bridgeRom(0x0605040302ff)
	readings := []ds28ea00.Reading{
		{Rom: keep, Temp: 25 * 16},
		{Rom: drop, Temp: 30 * 16},
	}

	batch := temperatureBatch(readings, []uint32{drop.Fingerprint()})
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, wire.Temperature, batch.Kind)
	assert.Equal(t, keep.Fingerprint(), batch.Entries[0].ID)
	assert.InDelta(t, 25.0, batch.Entries[0].Value, 0.0001)

	// exclusion holds regardless of the reading, sentinel included
	readings[1].Temp = ds28ea00.Fault
	batch = temperatureBatch(readings, []uint32{drop.Fingerprint()})
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, keep.Fingerprint(), batch.Entries[0].ID)
}

func TestTemperatureBatch_SentinelKept(t *testing.T) {
	dead := bridgeRom(0x42)
	batch := temperatureBatch([]ds28ea00.Reading{{Rom: dead, Temp: ds28ea00.Fault}}, nil)
	require.Len(t, batch.Entries, 1)
	assert.InDelta(t, -85.0, batch.Entries[0].Value, 0.0001)
}

func runTempProducer(t *testing.T, bridge *fakeBridge, exclude []uint32) (*gated.Receiver[wire.Measurement], context.CancelFunc, chan struct{}) {
	t.Helper()
	producer := &TempProducer{
		Path:    "/dev/i2c-test",
		Exclude: exclude,
		Cadence: time.Millisecond,
		Delay:   noopDelay{},
		OpenBridge: func(context.Context, string) (TempBridge, func() error, error) {
			return bridge, func() error { return nil }, nil
		},
	}
	sender, receiver := gated.New[wire.Measurement]()
	receiver.SetReady(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		producer.Run(ctx, sender)
	}()
	return receiver, cancel, done
}

func TestTempProducer_StreamsBatches(t *testing.T) {
	keep := bridgeRom(0x060504030201)
	drop := bridgeRom(0x0605040302ff)
	bridge := &fakeBridge{
		devices: []thermo.Rom{keep, drop},
		temps:   map[thermo.Rom]int16{keep: 0x0191, drop: 0x07d0},
	}

	receiver, cancel, done := runTempProducer(t, bridge, []uint32{drop.Fingerprint()})
	defer func() { cancel(); <-done }()

	batch, err := receiver.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.Temperature, batch.Kind)
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, keep.Fingerprint(), batch.Entries[0].ID)
	assert.InDelta(t, 25.0625, batch.Entries[0].Value, 0.0001)

	bridge.mu.Lock()
	assert.True(t, bridge.pullup, "active pullup should be requested")
	assert.True(t, bridge.adjusted, "port timing should be adjusted")
	assert.True(t, bridge.overdrive, "overdrive stays on when devices answer")
	bridge.mu.Unlock()
}

func TestTempProducer_OverdriveFallback(t *testing.T) {
	rom := bridgeRom(0x060504030201)
	bridge := &fakeBridge{
		devices:       []thermo.Rom{rom},
		temps:         map[thermo.Rom]int16{rom: 0x0191},
		failOverdrive: true,
	}

	receiver, cancel, done := runTempProducer(t, bridge, nil)
	defer func() { cancel(); <-done }()

	batch, err := receiver.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 1)
	assert.InDelta(t, 25.0625, batch.Entries[0].Value, 0.0001)

	bridge.mu.Lock()
	assert.False(t, bridge.overdrive, "an empty overdrive bus should fall back to standard speed")
	bridge.mu.Unlock()
}
