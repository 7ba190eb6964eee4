package thermo

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/sigurn/crc8"
)

var romCrcTable = crc8.MakeTable(crc8.CRC8_MAXIM)

// Rom is a 64-bit 1-Wire device address: family code in the lowest byte,
// 48-bit factory serial above it, Maxim CRC-8 of the lower seven bytes in
// the highest one.
type Rom uint64

func (r Rom) Family() byte { return byte(r) }

func (r Rom) Serial() uint64 { return uint64(r) >> 8 & 0xffffffffffff }

func (r Rom) Crc() byte { return byte(r >> 56) }

// Verify recomputes the address CRC and compares it with the stored byte.
func (r Rom) Verify() bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r))
	return crc8.Checksum(buf[:7], romCrcTable) == r.Crc()
}

// Fingerprint derives the stable 32-bit identity used on the wire and in
// exclusion lists: the IEEE CRC-32 of the serial number alone (family and
// CRC bytes stripped), hashed in little-endian order.
func (r Rom) Fingerprint() uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r&0x00ffffffffffffff)>>8)
	return crc32.ChecksumIEEE(buf[:])
}

func (r Rom) String() string {
	return fmt.Sprintf("%#016x", uint64(r))
}

// ParseRom reads a hexadecimal 64-bit device address, with or without the
// 0x prefix.
func ParseRom(s string) (Rom, error) {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse device address %q: %w", s, err)
	}
	return Rom(v), nil
}

// ParseFingerprints reads a comma-separated list of hexadecimal sensor
// fingerprints, as passed on the daemon's exclusion flag.
func ParseFingerprints(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(p)), "0x")
		v, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("could not parse fingerprint %q: %w", p, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
