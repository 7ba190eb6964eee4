// Package wire defines the measurement frames written to the controller
// over the serial link.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind tags a measurement batch. The byte value goes on the wire as-is.
type Kind byte

const (
	Temperature Kind = 'T'
	Humidity    Kind = 'H'
)

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	}
	return fmt.Sprintf("unknown(%c)", byte(k))
}

// Entry is one sensor sample: a stable 32-bit source id (ROM fingerprint,
// I2C address or component index) and its value.
type Entry struct {
	ID    uint32
	Value float32
}

// Measurement is a batch of same-kind samples taken in one producer cycle.
type Measurement struct {
	Kind    Kind
	Entries []Entry
}

// Encoding selects the frame layout.
type Encoding int

const (
	// PerRecord frames every entry on its own as
	// "CHRIS," kind ',' id(LE u32) value(LE f32), 16 bytes per record.
	// This is what the deployed controller firmware scans for, so it is
	// the default.
	PerRecord Encoding = iota
	// BatchHeader is the legacy layout: one "CHRISRCV" magic plus the kind
	// byte, then the 8-byte id/value pairs back to back. A batch with no
	// entries still emits its header.
	BatchHeader
)

const (
	recordMagic = "CHRIS,"
	batchMagic  = "CHRISRCV"
)

func (e Encoding) String() string {
	if e == BatchHeader {
		return "batch"
	}
	return "records"
}

// ParseEncoding reads the encoding names used on the daemon flag.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "records", "":
		return PerRecord, nil
	case "batch":
		return BatchHeader, nil
	}
	return 0, fmt.Errorf("unknown wire encoding %q", s)
}

// Append encodes the measurement after dst and returns the extended slice.
func (m Measurement) Append(dst []byte, enc Encoding) []byte {
	if enc == BatchHeader {
		dst = append(dst, batchMagic...)
		dst = append(dst, byte(m.Kind))
		for _, e := range m.Entries {
			dst = binary.LittleEndian.AppendUint32(dst, e.ID)
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(e.Value))
		}
		return dst
	}
	for _, e := range m.Entries {
		dst = append(dst, recordMagic...)
		dst = append(dst, byte(m.Kind), ',')
		dst = binary.LittleEndian.AppendUint32(dst, e.ID)
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(e.Value))
	}
	return dst
}

// Bytes encodes the measurement into a fresh buffer.
func (m Measurement) Bytes(enc Encoding) []byte {
	return m.Append(nil, enc)
}
