package mpegts

import (
	"bytes"
	"testing"
)

func TestParsePES(t *testing.T) {
	t.Parallel()

	const pts = 1<<32 + 12345 // exercises the 33rd bit
	pes := BuildPES(StreamIDVideo, pts, []byte("frame"))
	p, err := parsePES(pes)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := p.PTS(); !ok || got != pts {
		t.Errorf("PTS = %d, %v; want %d", got, ok, int64(pts))
	}
	if got, ok := p.DTS(); !ok || got != pts {
		t.Errorf("DTS = %d, %v; want PTS %d", got, ok, int64(pts))
	}
	if p.StreamID != StreamIDVideo || string(p.Data) != "frame" {
		t.Errorf("stream 0x%X data %q", p.StreamID, p.Data)
	}
}

func TestParsePESWithDTS(t *testing.T) {
	t.Parallel()

	b := []byte{0x00, 0x00, 0x01, StreamIDVideo, 0, 0, 0x80, ptsAndDTS << 6, 10}
	b = appendTimestamp(b, 0x30, 9000)
	b = appendTimestamp(b, 0x10, 6000)
	b = append(b, 0xAA, 0xBB)

	p, err := parsePES(b)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := p.PTS(); got != 9000 {
		t.Errorf("PTS = %d, want 9000", got)
	}
	if got, _ := p.DTS(); got != 6000 {
		t.Errorf("DTS = %d, want 6000", got)
	}
	if !bytes.Equal(p.Data, []byte{0xAA, 0xBB}) {
		t.Errorf("Data = %X", p.Data)
	}
}

func TestParsePESErrors(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"short":         {0x00, 0x00, 0x01},
		"no start code": {0x00, 0x01, 0x01, 0xE0, 0, 0, 0x80, 0, 0},
		"truncated pts": {0x00, 0x00, 0x01, 0xE0, 0, 0, 0x80, 0x80, 5, 0x21},
	}
	for name, b := range tests {
		if _, err := parsePES(b); err == nil {
			t.Errorf("%s: parsePES succeeded", name)
		}
	}

	// Padding streams carry no optional header.
	p, err := parsePES([]byte{0x00, 0x00, 0x01, 0xBE, 0, 2, 0xFF, 0xFF, 0xEE})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.PTS(); ok || len(p.Data) != 2 {
		t.Errorf("padding PES = %+v", p)
	}
}

func TestAssemblerContinuity(t *testing.T) {
	t.Parallel()

	pkt := func(cc uint8, pusi bool, b byte) *Packet {
		p, err := parsePacket(makePacket(0x100, cc, pusi, bytes.Repeat([]byte{b}, 184)), 0)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	var a assembler
	if u := a.add(pkt(3, false, 1), false); u != nil {
		t.Fatal("unit emitted from a continuation without a start")
	}
	a.add(pkt(4, true, 2), false)
	a.add(pkt(5, false, 3), false)
	a.add(pkt(5, false, 3), false) // repeated
	u := a.add(pkt(6, true, 4), false)
	if u == nil || len(u.payload) != 2*184 || u.payload[184] != 3 {
		t.Fatalf("unit = %+v, want two packets", u)
	}

	// A gap in the counter discards the partial unit.
	a.add(pkt(9, false, 5), false)
	if u := a.add(pkt(10, true, 6), false); u != nil {
		t.Fatalf("unit emitted across a continuity gap: %d bytes", len(u.payload))
	}
}
