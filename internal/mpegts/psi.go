package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var (
	errShortSection = errors.New("section too short")
	errCRC          = errors.New("CRC32 mismatch")
)

// walkSections calls fn, when non-nil, for every complete section of a PSI
// payload that begins with a pointer field. It reports whether the payload
// holds no partial section. Stuffing (0xFF) or a clear
// section_syntax_indicator ends the walk.
func walkSections(payload []byte, fn func(section []byte)) bool {
	if len(payload) == 0 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if payload[off+1]&0x80 == 0 {
			return true
		}
		end := off + 3 + int(binary.BigEndian.Uint16(payload[off+1:])&0x0FFF)
		if end > len(payload) {
			return false
		}
		if fn != nil {
			fn(payload[off:end])
		}
		off = end
	}
	return true
}

// parseSections decodes the PAT and PMT sections of a PSI unit. Other
// tables are ignored. Sections after a bad one are still decoded and the
// first error is returned alongside them.
func parseSections(u *unit) ([]*DemuxerData, error) {
	var (
		out   []*DemuxerData
		first error
	)
	ok := walkSections(u.payload, func(s []byte) {
		d := &DemuxerData{FirstPacket: u.first}
		var err error
		switch s[0] {
		case tableIDPAT:
			d.PAT, err = parsePAT(s)
		case tableIDPMT:
			d.PMT, err = parsePMT(s)
		default:
			return
		}
		if err != nil {
			if first == nil {
				first = err
			}
			return
		}
		out = append(out, d)
	})
	if !ok && first == nil && len(out) == 0 {
		first = fmt.Errorf("mpegts: PID 0x%X: %w", u.first.Header.PID, errShortSection)
	}
	return out, first
}

// sectionBody checks the CRC of a long-form section and returns the bytes
// between its 8-byte header and the CRC.
func sectionBody(s []byte, name string, minBody int) ([]byte, error) {
	if len(s) < 12+minBody {
		return nil, fmt.Errorf("mpegts: %s %w", name, errShortSection)
	}
	if crc32MPEG(s) != 0 {
		return nil, fmt.Errorf("mpegts: %s %w", name, errCRC)
	}
	return s[8 : len(s)-4], nil
}

func parsePAT(s []byte) (*PATData, error) {
	body, err := sectionBody(s, "PAT", 0)
	if err != nil {
		return nil, err
	}
	pat := &PATData{}
	for ; len(body) >= 4; body = body[4:] {
		number := binary.BigEndian.Uint16(body)
		if number == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: number,
			ProgramMapID:  binary.BigEndian.Uint16(body[2:]) & 0x1FFF,
		})
	}
	return pat, nil
}

func parsePMT(s []byte) (*PMTData, error) {
	body, err := sectionBody(s, "PMT", 4)
	if err != nil {
		return nil, err
	}
	pmt := &PMTData{PCRPID: binary.BigEndian.Uint16(body) & 0x1FFF}
	infoLen := int(binary.BigEndian.Uint16(body[2:]) & 0x0FFF)
	if 4+infoLen > len(body) {
		return nil, fmt.Errorf("mpegts: PMT program info %w", errShortSection)
	}
	for es := body[4+infoLen:]; len(es) >= 5; {
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			StreamType:    es[0],
			ElementaryPID: binary.BigEndian.Uint16(es[1:]) & 0x1FFF,
		})
		n := 5 + int(binary.BigEndian.Uint16(es[3:])&0x0FFF)
		if n > len(es) {
			break
		}
		es = es[n:]
	}
	return pmt, nil
}

// crcTable drives the MSB-first MPEG-2 CRC32, polynomial 0x04C11DB7.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&(1<<31) != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc32MPEG returns the MPEG-2 CRC of b. A section including its trailing
// CRC sums to zero.
func crc32MPEG(b []byte) uint32 {
	c := ^uint32(0)
	for _, v := range b {
		c = c<<8 ^ crcTable[byte(c>>24)^v]
	}
	return c
}

func appendCRC32(section []byte) []byte {
	return binary.BigEndian.AppendUint32(section, crc32MPEG(section))
}
