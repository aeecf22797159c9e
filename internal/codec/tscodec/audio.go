package tscodec

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/timebase"
)

type pcmFrame struct {
	samples codec.Samples
	data    []byte
}

// audioDecoder unpacks PCM units and linearly resamples them to
// timebase.SampleRate. The resampling phase carries across frames so
// consecutive frames join without gaps.
type audioDecoder struct {
	info     codec.StreamInfo
	pending  []*pcmFrame
	free     []*pcmFrame
	cur      *pcmFrame
	draining bool

	// consumed counts input samples resampled since the last flush.
	consumed int64
}

func newAudioDecoder(info codec.StreamInfo) *audioDecoder {
	return &audioDecoder{info: info}
}

func (d *audioDecoder) SendPacket(pkt codec.Packet) error {
	if d.draining {
		return codec.ErrEOF
	}
	if pkt == nil {
		d.draining = true
		return nil
	}
	if len(d.pending) >= pendingFrames {
		return codec.ErrAgain
	}
	h, data, err := ParseAudio(pkt.Data())
	if err != nil {
		return fmt.Errorf("tscodec: decoding audio: %w", err)
	}
	var f *pcmFrame
	if n := len(d.free); n > 0 {
		f, d.free = d.free[n-1], d.free[:n-1]
	} else {
		f = &pcmFrame{}
	}
	f.data = append(f.data[:0], data...)
	f.samples = codec.Samples{
		PTS:        pkt.PTS(),
		NumSamples: len(data) / (2 * h.Channels),
		SampleRate: h.SampleRate,
		Channels:   h.Channels,
	}
	d.pending = append(d.pending, f)
	return nil
}

func (d *audioDecoder) ReceiveFrame() (codec.Samples, error) {
	if len(d.pending) == 0 {
		if d.draining {
			return codec.Samples{}, codec.ErrEOF
		}
		return codec.Samples{}, codec.ErrAgain
	}
	if d.cur != nil {
		d.free = append(d.free, d.cur)
	}
	d.cur = d.pending[0]
	d.pending = d.pending[1:]
	return d.cur.samples, nil
}

func (d *audioDecoder) MaxOutputSamples(n int) int {
	rate := d.info.SampleRate
	if d.cur != nil {
		rate = d.cur.samples.SampleRate
	}
	if rate <= 0 {
		return n
	}
	return n*timebase.SampleRate/rate + 1
}

// ceilDiv returns ceil(a/b) for non-negative a and positive b.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func (d *audioDecoder) Resample(dst []int16) (int, error) {
	if d.cur == nil {
		return 0, fmt.Errorf("tscodec: no audio frame received")
	}
	f := d.cur
	ch := f.samples.Channels
	n := int64(f.samples.NumSamples)
	in := int64(f.samples.SampleRate)
	const out = timebase.SampleRate

	sample := func(i int64, c int) int32 {
		off := (int(i)*ch + c) * 2
		return int32(int16(binary.LittleEndian.Uint16(f.data[off:])))
	}

	// Output sample g maps to input position g*in/out; this frame covers
	// input positions [consumed, consumed+n).
	first := ceilDiv(d.consumed*out, in)
	last := ceilDiv((d.consumed+n)*out, in)
	count := int(last - first)
	if room := len(dst) / ch; count > room {
		count = room
	}
	for j := 0; j < count; j++ {
		pos := (first + int64(j)) * in
		idx := pos/out - d.consumed
		frac := pos % out
		for c := 0; c < ch; c++ {
			a := sample(idx, c)
			b := a
			if idx+1 < n {
				b = sample(idx+1, c)
			}
			dst[j*ch+c] = int16(a + int32(int64(b-a)*frac/out))
		}
	}
	d.consumed += n
	return count, nil
}

func (d *audioDecoder) Flush() {
	d.free = append(d.free, d.pending...)
	d.pending = d.pending[:0]
	d.draining = false
	d.consumed = 0
}

func (d *audioDecoder) Close() error {
	d.pending, d.free, d.cur = nil, nil, nil
	return nil
}
