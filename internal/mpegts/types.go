// Package mpegts reads and writes MPEG transport streams. The demuxer
// reassembles PAT, PMT and PES units and records the byte offset of every
// transport packet so callers can build a seek index; the muxer writes the
// single-program streams reel clips are stored in.
package mpegts

// Elementary stream types carried in the PMT.
const (
	StreamTypeAAC  uint8 = 0x0F
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
	// StreamTypeRawVideo and StreamTypePCM are user-private types for
	// uncompressed clip streams.
	StreamTypeRawVideo uint8 = 0xA0
	StreamTypePCM      uint8 = 0xA1
)

// PES stream ids.
const (
	StreamIDVideo uint8 = 0xE0
	StreamIDAudio uint8 = 0xC0
)

// Packet is a parsed 188-byte transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
	// Offset is the byte position of the packet in the source stream.
	Offset int64
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// DemuxerData is one logical unit. Exactly one of PAT, PMT, or PES is non-nil.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PID returns the PID the unit was carried on.
func (d *DemuxerData) PID() uint16 { return d.FirstPacket.Header.PID }

// Offset returns the byte position of the unit's first transport packet.
func (d *DemuxerData) Offset() int64 { return d.FirstPacket.Offset }

// PATData contains the parsed Program Association Table.
type PATData struct {
	Programs []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}

// PESData is a reassembled Packetized Elementary Stream packet.
type PESData struct {
	StreamID uint8
	Data     []byte
	pts, dts int64
	// flags holds PTS_DTS_flags: ptsOnly, ptsAndDTS or zero.
	flags uint8
}

// PTS returns the 90 kHz presentation timestamp and whether the packet had one.
func (p *PESData) PTS() (int64, bool) {
	return p.pts, p.flags&ptsOnly != 0
}

// DTS returns the decoding timestamp, which defaults to the PTS.
func (p *PESData) DTS() (int64, bool) {
	if p.flags == ptsAndDTS {
		return p.dts, true
	}
	return p.PTS()
}
