package mpegts

import (
	"fmt"
	"io"
)

// Default PIDs used by NewMuxer.
const (
	DefaultPMTPID = 0x1000
	programNumber = 1
)

type muxStream struct {
	pid        uint16
	streamType uint8
	streamID   uint8
	cc         byte
}

// Muxer writes a single-program transport stream.
type Muxer struct {
	w       io.Writer
	pmtPID  uint16
	patCC   byte
	pmtCC   byte
	streams []*muxStream
	written int64
}

// NewMuxer returns a muxer writing to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w, pmtPID: DefaultPMTPID}
}

// AddStream declares an elementary stream. Streams must be added before
// the first WriteTables call.
func (m *Muxer) AddStream(pid uint16, streamType, streamID uint8) {
	m.streams = append(m.streams, &muxStream{pid: pid, streamType: streamType, streamID: streamID})
}

// Written returns the number of bytes written so far.
func (m *Muxer) Written() int64 { return m.written }

// WriteTables writes one PAT and one PMT.
func (m *Muxer) WriteTables() error {
	if err := m.writeSection(0, &m.patCC, m.pat()); err != nil {
		return fmt.Errorf("mpegts: writing PAT: %w", err)
	}
	if err := m.writeSection(m.pmtPID, &m.pmtCC, m.pmt()); err != nil {
		return fmt.Errorf("mpegts: writing PMT: %w", err)
	}
	return nil
}

// WritePES writes data as one PES unit on pid with the given 90 kHz pts.
func (m *Muxer) WritePES(pid uint16, pts int64, data []byte) error {
	var s *muxStream
	for _, st := range m.streams {
		if st.pid == pid {
			s = st
		}
	}
	if s == nil {
		return fmt.Errorf("mpegts: unknown PID 0x%X", pid)
	}
	pes := BuildPES(s.streamID, pts, data)
	return m.write(Packetize(pes, pid, &s.cc))
}

func (m *Muxer) write(b []byte) error {
	n, err := m.w.Write(b)
	m.written += int64(n)
	return err
}

func (m *Muxer) pat() []byte {
	// table_id, section_length=13, ts id, version/current, section numbers,
	// one program entry.
	s := []byte{
		0x00, 0xB0, 13,
		0x00, 0x01,
		0xC1, 0x00, 0x00,
		0x00, programNumber, 0xE0 | byte(m.pmtPID>>8), byte(m.pmtPID),
	}
	return appendCRC32(s)
}

func (m *Muxer) pmt() []byte {
	var pcr uint16 = 0x1FFF
	if len(m.streams) > 0 {
		pcr = m.streams[0].pid
	}
	length := 9 + 5*len(m.streams) + 4
	s := []byte{
		0x02, 0xB0 | byte(length>>8), byte(length),
		0x00, programNumber,
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcr>>8), byte(pcr),
		0xF0, 0x00,
	}
	for _, st := range m.streams {
		s = append(s, st.streamType, 0xE0|byte(st.pid>>8), byte(st.pid), 0xF0, 0x00)
	}
	return appendCRC32(s)
}

func (m *Muxer) writeSection(pid uint16, cc *byte, section []byte) error {
	var pkt [PacketSize]byte
	pkt[0] = syncByte
	pkt[1] = 0x40 | byte(pid>>8)&0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | *cc&0x0F
	*cc = (*cc + 1) & 0x0F
	pkt[4] = 0 // pointer field
	n := copy(pkt[5:], section)
	for i := 5 + n; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return m.write(pkt[:])
}

// Packetize splits a PES packet into transport packets on pid, advancing
// the continuity counter cc. The last packet is padded with adaptation
// field stuffing.
func Packetize(pes []byte, pid uint16, cc *byte) []byte {
	var out []byte
	first := true
	for off := 0; off < len(pes); {
		var pkt [PacketSize]byte
		pkt[0] = syncByte
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		remaining := len(pes) - off
		capacity := PacketSize - 4
		if remaining >= capacity {
			copy(pkt[4:], pes[off:off+capacity])
			off += capacity
		} else {
			stuff := capacity - remaining
			pkt[3] |= 0x20
			pkt[4] = byte(stuff - 1)
			if stuff > 1 {
				pkt[5] = 0
				for i := 6; i < 4+stuff; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[4+stuff:], pes[off:])
			off = len(pes)
		}
		out = append(out, pkt[:]...)
	}
	return out
}
