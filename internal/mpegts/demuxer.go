package mpegts

import (
	"errors"
	"io"
	"slices"
)

// Demuxer reads transport packets from a reader and produces DemuxerData
// for PAT, PMT and PES units.
type Demuxer struct {
	r       io.Reader
	buf     []byte
	offset  int64
	pmtPIDs map[uint16]bool
	asm     map[uint16]*assembler
	queue   []*DemuxerData
	eof     bool
	skipped int
}

// DemuxerOpt configures a Demuxer.
type DemuxerOpt func(*Demuxer)

// DemuxerOptStartOffset sets the byte offset of the reader's current
// position, for demuxers created after seeking the underlying stream.
func DemuxerOptStartOffset(off int64) DemuxerOpt {
	return func(d *Demuxer) {
		d.offset = off
	}
}

// DemuxerOptPMTPID marks pid as carrying PMT sections before any PAT has
// been seen. Demuxers that start mid-stream need it to recognize tables.
func DemuxerOptPMTPID(pid uint16) DemuxerOpt {
	return func(d *Demuxer) {
		d.pmtPIDs[pid] = true
	}
}

// NewDemuxer creates a demuxer reading from r.
func NewDemuxer(r io.Reader, opts ...DemuxerOpt) *Demuxer {
	d := &Demuxer{
		r:       r,
		buf:     make([]byte, PacketSize),
		pmtPIDs: make(map[uint16]bool),
		asm:     make(map[uint16]*assembler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Offset returns the byte position of the next packet to be read.
func (d *Demuxer) Offset() int64 { return d.offset }

// Skipped returns the number of corrupt packets dropped so far.
func (d *Demuxer) Skipped() int { return d.skipped }

func (d *Demuxer) isPSI(pid uint16) bool {
	return pid == pidPAT || d.pmtPIDs[pid]
}

// NextData returns the next parsed unit. It returns io.EOF when all data
// has been consumed.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for len(d.queue) == 0 {
		if d.eof {
			return nil, io.EOF
		}
		if _, err := io.ReadFull(d.r, d.buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, err
			}
			d.eof = true
			d.flushAll()
			continue
		}
		off := d.offset
		d.offset += PacketSize

		pkt, err := parsePacket(d.buf, off)
		if err != nil {
			d.skipped++
			continue
		}
		pid := pkt.Header.PID
		a := d.asm[pid]
		if a == nil {
			a = &assembler{}
			d.asm[pid] = a
		}
		if u := a.add(pkt, d.isPSI(pid)); u != nil {
			d.decode(u)
		}
	}
	data := d.queue[0]
	d.queue = d.queue[1:]
	return data, nil
}

// flushAll emits the units still being assembled at the end of input, in
// PID order so the PAT is decoded before any PMT.
func (d *Demuxer) flushAll() {
	pids := make([]uint16, 0, len(d.asm))
	for pid := range d.asm {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	for _, pid := range pids {
		if u := d.asm[pid].take(); u != nil {
			d.decode(u)
		}
	}
}

// decode parses a unit and queues the results. Malformed units are dropped.
func (d *Demuxer) decode(u *unit) {
	if d.isPSI(u.first.Header.PID) {
		out, _ := parseSections(u)
		for _, r := range out {
			if r.PAT != nil {
				for _, p := range r.PAT.Programs {
					d.pmtPIDs[p.ProgramMapID] = true
				}
			}
		}
		d.queue = append(d.queue, out...)
		return
	}
	// Units that start mid-PES after a seek lack a start code.
	if !hasStartCode(u.payload) {
		return
	}
	pes, err := parsePES(u.payload)
	if err != nil {
		return
	}
	d.queue = append(d.queue, &DemuxerData{FirstPacket: u.first, PES: pes})
}
