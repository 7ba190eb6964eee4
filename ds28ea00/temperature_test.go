package ds28ea00

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTemperature_Celsius(t *testing.T) {
	tests := []struct {
		lsb, msb byte
		expected float32
	}{
		{0xd0, 0x07, 125.0},
		{0x91, 0x01, 25.0625},
		{0xa2, 0x00, 10.125},
		{0x08, 0x00, 0.5},
		{0x00, 0x00, 0.0},
		{0xf8, 0xff, -0.5},
		{0x5e, 0xff, -10.125},
		{0x6f, 0xfe, -25.0625},
		{0x90, 0xfc, -55.0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%02x%02x", test.msb, test.lsb), func(t *testing.T) {
			assert.Equal(t, test.expected, temperatureFrom(test.lsb, test.msb).Celsius())
		})
	}
}

func TestTemperature_String(t *testing.T) {
	assert.Equal(t, "25.0625°C", temperatureFrom(0x91, 0x01).String())
	assert.Equal(t, "-85°C", Fault.String())
}

func TestResolution_Tables(t *testing.T) {
	assert.Equal(t, 93750*time.Microsecond, Resolution9Bit.ConversionDelay())
	assert.Equal(t, 187500*time.Microsecond, Resolution10Bit.ConversionDelay())
	assert.Equal(t, 375*time.Millisecond, Resolution11Bit.ConversionDelay())
	assert.Equal(t, 750*time.Millisecond, Resolution12Bit.ConversionDelay())

	assert.Equal(t, byte(0xf8), Resolution9Bit.bitmask())
	assert.Equal(t, byte(0xfc), Resolution10Bit.bitmask())
	assert.Equal(t, byte(0xfe), Resolution11Bit.bitmask())
	assert.Equal(t, byte(0xff), Resolution12Bit.bitmask())
}
