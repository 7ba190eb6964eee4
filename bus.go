package thermo

import (
	"context"
	"fmt"
)

var (
	ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")
	// ErrNoDevicePresent is returned by a bus reset that does not observe a
	// presence pulse, and by overdrive trial reads on an empty bus.
	ErrNoDevicePresent = fmt.Errorf("no device present on the bus")
	// ErrInvalidCrc is returned when a device block fails CRC validation.
	ErrInvalidCrc = fmt.Errorf("invalid CRC")
	// ErrTimeout is returned when a bridge stays busy past its deadline.
	ErrTimeout = fmt.Errorf("bus operation timed out")
	// ErrInvalidOperation is returned when a request does not match the
	// device's configured mode.
	ErrInvalidOperation = fmt.Errorf("operation invalid in current mode")
	ErrShortDetected    = fmt.Errorf("short circuit detected on the bus")
	ErrCapacityExceeded = fmt.Errorf("device capacity exceeded")
)

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

type I2CDevice interface {
	BusReader
	BusWriter
}

// ROM commands shared by every 1-Wire slave. A transaction is always
// reset, one ROM command (plus address bytes for the match variants,
// least-significant byte first), then the device function command.
const (
	CmdReadRom           byte = 0x33
	CmdMatchRom          byte = 0x55
	CmdSkipRom           byte = 0xcc
	CmdSearchRom         byte = 0xf0
	CmdAlarmSearch       byte = 0xec
	CmdOverdriveSkipRom  byte = 0x3c
	CmdOverdriveMatchRom byte = 0x69
)

// OneWireBus is the byte-level capability a 1-Wire master exposes to chip
// drivers. Implementations translate these into bridge transactions; drivers
// build every device command out of them.
type OneWireBus interface {
	// Reset issues a bus reset and returns ErrNoDevicePresent when no slave
	// answers with a presence pulse.
	Reset(ctx context.Context) error
	WriteByte(ctx context.Context, b byte) error
	ReadByte(ctx context.Context) (byte, error)
	// SetOverdrive switches the master between standard and overdrive
	// timing. Drivers keep their own mode flag to pick matching ROM
	// command codes.
	SetOverdrive(ctx context.Context, enable bool) error
}

// RomSearcher enumerates slave ROM addresses. Bridges with search
// acceleration implement it natively.
type RomSearcher interface {
	// SearchRom walks the ROM tree and calls visit for every device whose
	// family code matches family (0 matches all). Enumeration stops early
	// when visit returns false.
	SearchRom(ctx context.Context, family byte, visit func(rom Rom) bool) error
}

// SearchBus is what device-group drivers operate on.
type SearchBus interface {
	OneWireBus
	RomSearcher
}
