package mpegts

import "fmt"

// PacketSize is the size of a transport stream packet.
const PacketSize = 188

const syncByte = 0x47

func parsePacket(buf []byte, offset int64) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X at offset %d", buf[0], offset)
	}

	p := &Packet{Offset: offset}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	pos := 4
	if p.Header.HasAdaptationField {
		afLen := int(buf[pos])
		if afLen > 0 && pos+1 < PacketSize {
			p.Header.DiscontinuityIndicator = buf[pos+1]&0x80 != 0
		}
		pos = min(pos+1+afLen, PacketSize)
	}

	if p.Header.HasPayload && pos < PacketSize {
		p.Payload = make([]byte, PacketSize-pos)
		copy(p.Payload, buf[pos:])
	}
	return p, nil
}
