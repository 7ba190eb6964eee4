package thermo

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRom_Fields(t *testing.T) {
	rom := Rom(0xd106050403020142)
	assert.Equal(t, byte(0x42), rom.Family())
	assert.Equal(t, uint64(0x060504030201), rom.Serial())
	assert.Equal(t, byte(0xd1), rom.Crc())
}

func TestRom_Verify(t *testing.T) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 0x0006050403020142)
	crc := crc8.Checksum(buf[:7], crc8.MakeTable(crc8.CRC8_MAXIM))
	rom := Rom(uint64(crc)<<56 | 0x0006050403020142)
	assert.True(t, rom.Verify())
	assert.False(t, (rom ^ 1<<20).Verify())
	assert.False(t, (rom ^ 1<<57).Verify())
}

func TestRom_Fingerprint(t *testing.T) {
	rom := Rom(0xd106050403020142)
	// fingerprint covers the serial alone, little-endian
	expected := crc32.ChecksumIEEE([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00, 0x00})
	assert.Equal(t, expected, rom.Fingerprint())
}

func TestRom_FingerprintIgnoresFamilyAndCrc(t *testing.T) {
	a := Rom(0xd106050403020142)
	b := Rom(0x2a06050403020128)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestParseRom(t *testing.T) {
	rom, err := ParseRom("0xD106050403020142")
	require.NoError(t, err)
	assert.Equal(t, Rom(0xd106050403020142), rom)
	_, err = ParseRom("not-a-rom")
	assert.Error(t, err)
}

func TestParseFingerprints(t *testing.T) {
	tests := []struct {
		name     string
		given    string
		expected []uint32
		wantErr  bool
	}{
		{"empty", "", nil, false},
		{"single", "2c0a4e2f", []uint32{0x2c0a4e2f}, false},
		{"list", "2c0a4e2f, 0xDEADBEEF,01", []uint32{0x2c0a4e2f, 0xdeadbeef, 0x01}, false},
		{"garbage", "2c0a4e2f,zz", nil, true},
		{"too wide", "deadbeef01", nil, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseFingerprints(test.given)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
		})
	}
}
