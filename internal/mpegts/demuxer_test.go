package mpegts

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func buildStream(t *testing.T, frames int) ([]byte, []int64) {
	t.Helper()

	var buf bytes.Buffer
	mux := NewMuxer(&buf)
	mux.AddStream(0x100, StreamTypeRawVideo, StreamIDVideo)
	mux.AddStream(0x101, StreamTypePCM, StreamIDAudio)
	if err := mux.WriteTables(); err != nil {
		t.Fatal(err)
	}

	var videoOffsets []int64
	for i := 0; i < frames; i++ {
		videoOffsets = append(videoOffsets, mux.Written())
		// Large enough to span several transport packets, and once beyond
		// the 16-bit PES length.
		size := 500 + i*37
		if i == 2 {
			size = 70000
		}
		video := bytes.Repeat([]byte{byte(i)}, size)
		if err := mux.WritePES(0x100, int64(i)*3000, video); err != nil {
			t.Fatal(err)
		}
		if err := mux.WritePES(0x101, int64(i)*3000, []byte{byte(i), 1, 2, 3}); err != nil {
			t.Fatal(err)
		}
	}
	if err := mux.WritePES(0x222, 0, nil); err == nil {
		t.Fatal("expected error for undeclared PID")
	}
	return buf.Bytes(), videoOffsets
}

func TestDemuxer_RoundTrip(t *testing.T) {
	t.Parallel()

	data, offsets := buildStream(t, 5)
	if len(data)%PacketSize != 0 {
		t.Fatalf("stream length %d not a multiple of %d", len(data), PacketSize)
	}

	dmx := NewDemuxer(bytes.NewReader(data))
	var pmt *PMTData
	var video []*DemuxerData
	audio := 0
	for {
		d, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		switch {
		case d.PMT != nil:
			pmt = d.PMT
		case d.PES != nil && d.PID() == 0x100:
			video = append(video, d)
		case d.PES != nil && d.PID() == 0x101:
			audio++
		}
	}

	if pmt == nil || len(pmt.ElementaryStreams) != 2 {
		t.Fatalf("PMT = %+v, want two streams", pmt)
	}
	if pmt.ElementaryStreams[0].StreamType != StreamTypeRawVideo || pmt.PCRPID != 0x100 {
		t.Errorf("PMT first stream type 0x%X PCR 0x%X", pmt.ElementaryStreams[0].StreamType, pmt.PCRPID)
	}
	if len(video) != 5 || audio != 5 {
		t.Fatalf("got %d video and %d audio units, want 5 each", len(video), audio)
	}
	for i, d := range video {
		pts, ok := d.PES.PTS()
		if !ok || pts != int64(i)*3000 {
			t.Errorf("unit %d pts = %d, %v; want %d", i, pts, ok, int64(i)*3000)
		}
		if d.Offset() != offsets[i] {
			t.Errorf("unit %d offset = %d, want %d", i, d.Offset(), offsets[i])
		}
		want := 500 + i*37
		if i == 2 {
			want = 70000
		}
		if len(d.PES.Data) != want || d.PES.Data[0] != byte(i) {
			t.Errorf("unit %d payload len %d, want %d", i, len(d.PES.Data), want)
		}
	}
}

func TestDemuxer_StartMidStream(t *testing.T) {
	t.Parallel()

	data, offsets := buildStream(t, 5)
	start := offsets[3]
	dmx := NewDemuxer(bytes.NewReader(data[start:]), DemuxerOptStartOffset(start), DemuxerOptPMTPID(DefaultPMTPID))

	var first *DemuxerData
	for {
		d, err := dmx.NextData()
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		if d.PES != nil && d.PID() == 0x100 {
			first = d
			break
		}
	}
	if first.Offset() != start {
		t.Fatalf("first unit offset %d, want %d", first.Offset(), start)
	}
	if pts, _ := first.PES.PTS(); pts != 9000 {
		t.Fatalf("first unit pts %d, want 9000", pts)
	}
}

func TestDemuxer_CorruptPacketSkipped(t *testing.T) {
	t.Parallel()

	data, _ := buildStream(t, 2)
	data = append([]byte(nil), data...)
	data[PacketSize*2] = 0x00 // break a sync byte
	dmx := NewDemuxer(bytes.NewReader(data))
	for {
		if _, err := dmx.NextData(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatal(err)
			}
			break
		}
	}
	if dmx.Skipped() != 1 {
		t.Fatalf("Skipped = %d, want 1", dmx.Skipped())
	}
}

func TestCRC32Sections(t *testing.T) {
	t.Parallel()

	m := NewMuxer(io.Discard)
	m.AddStream(0x100, StreamTypeH264, StreamIDVideo)
	for name, s := range map[string][]byte{"pat": m.pat(), "pmt": m.pmt()} {
		if crc := crc32MPEG(s); crc != 0 {
			t.Errorf("%s: CRC over section and checksum = 0x%08X, want 0", name, crc)
		}
	}
}
