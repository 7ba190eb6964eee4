package ds28ea00

import (
	"fmt"
	"time"
)

// Temperature is the chip's native readout format: a signed fixed-point
// value with 12 integer and 4 fractional bits, one step = 1/16 °C.
type Temperature int16

// Fault marks a reading that could not be taken when per-device errors are
// tolerated. It sits below the device's operating range.
const Fault Temperature = -85 * 16

func (t Temperature) Celsius() float32 {
	return float32(t) / 16
}

func (t Temperature) String() string {
	return fmt.Sprintf("%g°C", t.Celsius())
}

// temperatureFrom assembles a readout from the two scratchpad bytes,
// little-endian.
func temperatureFrom(lsb, msb byte) Temperature {
	return Temperature(int16(uint16(lsb) | uint16(msb)<<8))
}

// Resolution selects the conversion precision. The value doubles as the
// configuration register byte written during enumeration.
type Resolution byte

const (
	Resolution9Bit  Resolution = 0x1f // 93.75 ms conversion
	Resolution10Bit Resolution = 0x3f // 187.5 ms conversion
	Resolution11Bit Resolution = 0x5f // 375 ms conversion
	Resolution12Bit Resolution = 0x7f // 750 ms conversion
)

func (r Resolution) valid() bool {
	switch r {
	case Resolution9Bit, Resolution10Bit, Resolution11Bit, Resolution12Bit:
		return true
	}
	return false
}

// ConversionDelay is the minimum wait between triggering a conversion and
// reading a valid result.
func (r Resolution) ConversionDelay() time.Duration {
	switch r {
	case Resolution9Bit:
		return 93750 * time.Microsecond
	case Resolution10Bit:
		return 187500 * time.Microsecond
	case Resolution11Bit:
		return 375 * time.Millisecond
	default:
		return 750 * time.Millisecond
	}
}

// bitmask clears the undefined low bits of the scratchpad LSB at reduced
// resolutions.
func (r Resolution) bitmask() byte {
	switch r {
	case Resolution9Bit:
		return 0xf8
	case Resolution10Bit:
		return 0xfc
	case Resolution11Bit:
		return 0xfe
	default:
		return 0xff
	}
}

func (r Resolution) String() string {
	switch r {
	case Resolution9Bit:
		return "9-bit"
	case Resolution10Bit:
		return "10-bit"
	case Resolution11Bit:
		return "11-bit"
	case Resolution12Bit:
		return "12-bit"
	}
	return fmt.Sprintf("invalid(%#x)", byte(r))
}
