package mpegts

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var errBadPES = errors.New("mpegts: malformed PES packet")

var pesStartCode = []byte{0x00, 0x00, 0x01}

// PES flag values of the PTS_DTS_flags field.
const (
	ptsOnly   = 0x2
	ptsAndDTS = 0x3
)

func hasStartCode(b []byte) bool { return bytes.HasPrefix(b, pesStartCode) }

// headerless reports stream ids whose PES packets have no optional header.
func headerless(id uint8) bool {
	switch id {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return true
	}
	return false
}

func parsePES(b []byte) (*PESData, error) {
	if len(b) < 6 || !hasStartCode(b) {
		return nil, errBadPES
	}
	p := &PESData{StreamID: b[3]}
	end := len(b)
	// A zero length means unbounded, as for large video units.
	if n := int(binary.BigEndian.Uint16(b[4:])); n > 0 && 6+n < end {
		end = 6 + n
	}
	if headerless(p.StreamID) {
		p.Data = b[6:end]
		return p, nil
	}
	if end < 9 {
		return nil, errBadPES
	}

	start := min(9+int(b[8]), end)
	fields := b[9:start]
	switch b[7] >> 6 {
	case ptsOnly:
		if len(fields) < 5 {
			return nil, errBadPES
		}
		p.pts, p.flags = readTimestamp(fields), ptsOnly
	case ptsAndDTS:
		if len(fields) < 10 {
			return nil, errBadPES
		}
		p.pts, p.dts, p.flags = readTimestamp(fields), readTimestamp(fields[5:]), ptsAndDTS
	}
	p.Data = b[start:end]
	return p, nil
}

// BuildPES returns a PES packet carrying data with a PTS-only optional
// header. The length field is zero when the packet exceeds 65535 bytes.
func BuildPES(streamID uint8, pts int64, data []byte) []byte {
	pes := make([]byte, 0, 14+len(data))
	pes = append(pes, 0x00, 0x00, 0x01, streamID, 0, 0, 0x80, ptsOnly<<6, 5)
	pes = appendTimestamp(pes, ptsOnly<<4, pts)
	if n := len(pes) - 6 + len(data); n <= 0xFFFF {
		binary.BigEndian.PutUint16(pes[4:], uint16(n))
	}
	return append(pes, data...)
}

// appendTimestamp encodes a 33-bit timestamp in the 5-byte PES layout with
// marker bits set.
func appendTimestamp(b []byte, prefix byte, ts int64) []byte {
	return append(b,
		prefix|byte(ts>>29)&0x0E|1,
		byte(ts>>22),
		byte(ts>>14)|1,
		byte(ts>>7),
		byte(ts<<1)|1,
	)
}

// readTimestamp is the inverse of appendTimestamp.
func readTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
