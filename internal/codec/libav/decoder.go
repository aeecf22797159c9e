//go:build libav

package libav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/timebase"
)

func sendPacket(ctx *astiav.CodecContext, cp codec.Packet) error {
	if cp == nil {
		return mapErr(ctx.SendPacket(nil))
	}
	p, ok := cp.(*packet)
	if !ok {
		return fmt.Errorf("libav: foreign packet %T", cp)
	}
	return mapErr(ctx.SendPacket(p.pkt))
}

type videoDecoder struct {
	ctx      *astiav.CodecContext
	frame    *astiav.Frame
	duration int64

	sws    *astiav.SoftwareScaleContext
	scaled *astiav.Frame
	key    scaleKey
}

type scaleKey struct {
	sw, sh, dw, dh int
	pix            astiav.PixelFormat
}

func newVideoDecoder(ctx *astiav.CodecContext, info codec.StreamInfo) *videoDecoder {
	d := &videoDecoder{ctx: ctx, frame: astiav.AllocFrame()}
	// Average frame interval in stream time base units.
	if info.FrameRate.Num > 0 && info.FrameRate.Den > 0 && info.TimeBase.Num > 0 {
		d.duration = timebase.Rescale(1, timebase.Rational{Num: info.FrameRate.Den, Den: info.FrameRate.Num}, info.TimeBase)
	}
	return d
}

func (d *videoDecoder) SendPacket(pkt codec.Packet) error { return sendPacket(d.ctx, pkt) }

func (d *videoDecoder) ReceiveFrame() (codec.Picture, error) {
	if err := d.ctx.ReceiveFrame(d.frame); err != nil {
		return codec.Picture{}, mapErr(err)
	}
	pts := d.frame.Pts()
	if pts == astiav.NoPtsValue {
		pts = d.frame.PktDts()
	}
	return codec.Picture{
		PTS:      pts,
		Duration: frameDuration(d.frame.Duration(), d.duration),
		Width:    d.frame.Width(),
		Height:   d.frame.Height(),
	}, nil
}

// frameDuration prefers the duration the demuxer recorded for the frame,
// which varies on variable frame rate input, over the average interval.
func frameDuration(frame, average int64) int64 {
	if frame > 0 {
		return frame
	}
	return average
}

func (d *videoDecoder) ConvertRGBA(dst *image.RGBA) error {
	b := dst.Bounds()
	key := scaleKey{
		sw: d.frame.Width(), sh: d.frame.Height(),
		dw: b.Dx(), dh: b.Dy(),
		pix: d.frame.PixelFormat(),
	}
	if d.sws == nil || key != d.key {
		if err := d.resetScaler(key); err != nil {
			return err
		}
	}
	if err := d.sws.ScaleFrame(d.frame, d.scaled); err != nil {
		return fmt.Errorf("libav: scaling frame: %w", err)
	}
	if _, err := d.scaled.ImageCopyToBuffer(dst.Pix, 1); err != nil {
		return fmt.Errorf("libav: copying scaled frame: %w", err)
	}
	return nil
}

func (d *videoDecoder) resetScaler(key scaleKey) error {
	d.freeScaler()
	sws, err := astiav.CreateSoftwareScaleContext(
		key.sw, key.sh, key.pix,
		key.dw, key.dh, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("libav: creating scaler %dx%d %s -> %dx%d rgba: %w",
			key.sw, key.sh, key.pix, key.dw, key.dh, err)
	}
	scaled := astiav.AllocFrame()
	scaled.SetWidth(key.dw)
	scaled.SetHeight(key.dh)
	scaled.SetPixelFormat(astiav.PixelFormatRgba)
	if err := scaled.AllocBuffer(1); err != nil {
		scaled.Free()
		sws.Free()
		return fmt.Errorf("libav: allocating scaled frame: %w", err)
	}
	d.sws, d.scaled, d.key = sws, scaled, key
	return nil
}

func (d *videoDecoder) freeScaler() {
	if d.scaled != nil {
		d.scaled.Free()
		d.scaled = nil
	}
	if d.sws != nil {
		d.sws.Free()
		d.sws = nil
	}
}

func (d *videoDecoder) Flush() { d.ctx.FlushBuffers() }

func (d *videoDecoder) Close() error {
	d.freeScaler()
	d.frame.Free()
	d.ctx.Free()
	return nil
}

type audioDecoder struct {
	ctx   *astiav.CodecContext
	frame *astiav.Frame
	swr   *astiav.SoftwareResampleContext
	out   *astiav.Frame
	buf   []byte
}

func newAudioDecoder(ctx *astiav.CodecContext) *audioDecoder {
	return &audioDecoder{
		ctx:   ctx,
		frame: astiav.AllocFrame(),
		swr:   astiav.AllocSoftwareResampleContext(),
		out:   astiav.AllocFrame(),
	}
}

func (d *audioDecoder) SendPacket(pkt codec.Packet) error { return sendPacket(d.ctx, pkt) }

// outChannels is the output channel count: mono stays mono, everything
// else is mixed to stereo.
func outChannels(in int) int {
	if in == 1 {
		return 1
	}
	return 2
}

func (d *audioDecoder) ReceiveFrame() (codec.Samples, error) {
	if err := d.ctx.ReceiveFrame(d.frame); err != nil {
		return codec.Samples{}, mapErr(err)
	}
	return codec.Samples{
		PTS:        d.frame.Pts(),
		NumSamples: d.frame.NbSamples(),
		SampleRate: d.frame.SampleRate(),
		Channels:   outChannels(d.frame.ChannelLayout().Channels()),
	}, nil
}

func (d *audioDecoder) MaxOutputSamples(n int) int {
	rate := d.frame.SampleRate()
	if rate <= 0 {
		return n
	}
	// swresample may also release samples it held back from the previous
	// frame.
	delay := d.swr.Delay(int64(timebase.SampleRate))
	return int(int64(n)*timebase.SampleRate/int64(rate)+delay) + 1
}

func (d *audioDecoder) Resample(dst []int16) (int, error) {
	ch := outChannels(d.frame.ChannelLayout().Channels())
	layout := astiav.ChannelLayoutStereo
	if ch == 1 {
		layout = astiav.ChannelLayoutMono
	}
	d.out.Unref()
	d.out.SetChannelLayout(layout)
	d.out.SetSampleRate(timebase.SampleRate)
	d.out.SetSampleFormat(astiav.SampleFormatS16)
	d.out.SetNbSamples(len(dst) / ch)
	if err := d.out.AllocBuffer(0); err != nil {
		return 0, fmt.Errorf("libav: allocating resample frame: %w", err)
	}
	if err := d.swr.ConvertFrame(d.frame, d.out); err != nil {
		return 0, fmt.Errorf("libav: resampling: %w", err)
	}
	n := d.out.NbSamples()
	size, err := d.out.SamplesBufferSize(1)
	if err != nil {
		return 0, fmt.Errorf("libav: sizing resampled frame: %w", err)
	}
	if cap(d.buf) < size {
		d.buf = make([]byte, size)
	}
	d.buf = d.buf[:size]
	if _, err := d.out.SamplesCopyToBuffer(d.buf, 1); err != nil {
		return 0, fmt.Errorf("libav: copying resampled frame: %w", err)
	}
	if n*ch > len(dst) || n*ch*2 > len(d.buf) {
		return 0, errors.New("libav: resampler overran the output slot")
	}
	for i := 0; i < n*ch; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(d.buf[2*i:]))
	}
	return n, nil
}

func (d *audioDecoder) Flush() {
	d.ctx.FlushBuffers()
	// A fresh resampler drops samples buffered across the discontinuity.
	d.swr.Free()
	d.swr = astiav.AllocSoftwareResampleContext()
}

func (d *audioDecoder) Close() error {
	d.swr.Free()
	d.out.Free()
	d.frame.Free()
	d.ctx.Free()
	return nil
}
