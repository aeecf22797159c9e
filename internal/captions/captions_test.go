package captions

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/blob"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/codec/tscodec"
	"github.com/zsiec/reel/internal/synth"
	"github.com/zsiec/reel/internal/timebase"
)

func TestSplitAnnexB(t *testing.T) {
	t.Parallel()

	data := []byte{
		0, 0, 0, 1, 0x67, 0xAA, // SPS, 4-byte start code
		0, 0, 1, 0x06, 0x04, 0x01, // SEI, 3-byte start code
		0, 0, 1, 0x65, 0xBB, 0xCC, // IDR slice
	}
	units := splitAnnexB(data)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	wantTypes := []byte{7, 6, 5}
	for i, u := range units {
		if u.typ != wantTypes[i] {
			t.Errorf("unit %d type = %d, want %d", i, u.typ, wantTypes[i])
		}
	}
	if !bytes.Equal(units[1].data, []byte{0x06, 0x04, 0x01}) {
		t.Errorf("SEI unit = % x", units[1].data)
	}

	sei := seiUnits(data)
	if len(sei) != 1 || sei[0][0] != 0x06 {
		t.Errorf("seiUnits = % x", sei)
	}
	if got := seiUnits([]byte{0x06, 0x04}); len(got) != 1 {
		t.Errorf("bare SEI NAL: got %d units, want 1", len(got))
	}
	if got := seiUnits([]byte{0x65, 0x00}); got != nil {
		t.Errorf("bare slice NAL: got %d units, want none", len(got))
	}
}

func TestAtPicksLatestPerChannel(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	d.add(Cue{Start: 100, Channel: 1, Text: "first"})
	d.add(Cue{Start: 200, Channel: 3, Text: "other"})
	d.add(Cue{Start: 300, Channel: 1, Text: "second"})
	d.add(Cue{Start: 400, Channel: 1})
	d.add(Cue{Start: 350, Channel: 1, Text: "late"}) // out of order, dropped

	tests := []struct {
		ms   int64
		want string
		ok   bool
	}{
		{ms: 50, ok: false},
		{ms: 100, want: "first", ok: true},
		{ms: 250, want: "first", ok: true},
		{ms: 300, want: "second", ok: true},
		{ms: 450, want: "other", ok: true},
	}
	for _, tt := range tests {
		c, ok := d.At(tt.ms)
		if ok != tt.ok || c.Text != tt.want {
			t.Errorf("At(%d) = %q, %v; want %q, %v", tt.ms, c.Text, ok, tt.want, tt.ok)
		}
	}
	if d.Len() != 4 {
		t.Errorf("Len = %d, want 4", d.Len())
	}

	d.Prune(320)
	if d.Len() != 3 {
		t.Errorf("Len after Prune = %d, want 3", d.Len())
	}
	if c, _ := d.At(320); c.Text != "second" {
		t.Errorf("At(320) after Prune = %q, want second", c.Text)
	}

	d.Reset()
	if _, ok := d.At(1000); ok || d.Len() != 0 {
		t.Error("cues survived Reset")
	}
}

func TestDecodeSynthCaptions(t *testing.T) {
	t.Parallel()

	data, err := synth.Clip(synth.Options{
		Duration: 3 * time.Second,
		NoAudio:  true,
		Captions: []synth.Cue{{Start: 500 * time.Millisecond, End: 2500 * time.Millisecond, Text: "HELLO WORLD"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := codec.Open(tscodec.Name, blob.NewReader(data), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	d := NewDecoder(nil)
	pkt := c.NewPacket()
	for {
		err := c.ReadPacket(pkt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		carrier, ok := pkt.(codec.SEICarrier)
		if !ok {
			t.Fatalf("packet %T carries no SEI", pkt)
		}
		ms := timebase.Rescale(pkt.PTS(), tscodec.ClockRate, timebase.Millis)
		d.Feed(ms, carrier.SEI())
		pkt.Unref()
	}

	var text string
	for ms := int64(500); ms < 2500; ms += 100 {
		if cue, ok := d.At(ms); ok {
			text = cue.Text
		}
	}
	if !strings.Contains(text, "HELLO") {
		t.Errorf("caption text %q does not contain HELLO", text)
	}
	if cue, ok := d.At(400); ok {
		t.Errorf("caption %q showing before the first cue", cue.Text)
	}
}
