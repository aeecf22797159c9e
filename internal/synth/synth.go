// Package synth generates synthetic clips: MPEG transport streams with a
// raw video stream, an optional PCM stream, and optional CEA-608 captions.
// Pixel and sample values are deterministic functions of their position so
// tests can verify what a player delivers.
package synth

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/reel/internal/codec/tscodec"
	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/internal/timebase"
)

// PIDs used for generated streams.
const (
	VideoPID = 0x100
	AudioPID = 0x101
)

// Options describes a clip to generate.
type Options struct {
	Duration        time.Duration
	Width           int
	Height          int
	FrameRateNum    int
	FrameRateDen    int
	Format          tscodec.PixelFormat
	NoAudio         bool
	SampleRate      int
	Channels        int
	SamplesPerFrame int
	Captions        []Cue
}

func (o *Options) setDefaults() {
	if o.Duration <= 0 {
		o.Duration = 10 * time.Second
	}
	if o.Width <= 0 {
		o.Width = 64
	}
	if o.Height <= 0 {
		o.Height = 36
	}
	if o.FrameRateNum <= 0 || o.FrameRateDen <= 0 {
		o.FrameRateNum, o.FrameRateDen = 30, 1
	}
	if o.Format == 0 {
		o.Format = tscodec.PixelI420
	}
	if o.SampleRate <= 0 {
		o.SampleRate = timebase.SampleRate
	}
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.SamplesPerFrame <= 0 {
		o.SamplesPerFrame = 1024
	}
}

// Frames returns the number of video frames the options produce.
func (o Options) Frames() int {
	o.setDefaults()
	return int(int64(o.Duration) * int64(o.FrameRateNum) / (int64(time.Second) * int64(o.FrameRateDen)))
}

// Clip generates a clip into memory.
func Clip(o Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write generates a clip into w.
func Write(w io.Writer, o Options) error {
	o.setDefaults()
	if o.Width > 0xFFFF || o.Height > 0xFFFF {
		return fmt.Errorf("synth: %dx%d exceeds 65535", o.Width, o.Height)
	}

	mux := mpegts.NewMuxer(w)
	mux.AddStream(VideoPID, mpegts.StreamTypeRawVideo, mpegts.StreamIDVideo)
	if !o.NoAudio {
		mux.AddStream(AudioPID, mpegts.StreamTypePCM, mpegts.StreamIDAudio)
	}
	if err := mux.WriteTables(); err != nil {
		return err
	}

	frames := o.Frames()
	frameRate := timebase.Rational{Num: int64(o.FrameRateDen), Den: int64(o.FrameRateNum)}
	sampleRate := timebase.Rational{Num: 1, Den: int64(o.SampleRate)}
	totalSamples := int64(o.Duration) * int64(o.SampleRate) / int64(time.Second)
	captions := scheduleCaptions(o.Captions, o.FrameRateNum, o.FrameRateDen, frames)

	hdr := tscodec.VideoHeader{
		Format:       o.Format,
		Width:        o.Width,
		Height:       o.Height,
		FrameRateNum: o.FrameRateNum,
		FrameRateDen: o.FrameRateDen,
	}
	pix := make([]byte, o.Format.FrameSize(o.Width, o.Height))
	samples := make([]int16, o.SamplesPerFrame*o.Channels)
	var payload []byte

	frame, sample := 0, int64(0)
	for frame < frames || (!o.NoAudio && sample < totalSamples) {
		vpts := timebase.Rescale(int64(frame), frameRate, tscodec.ClockRate)
		apts := timebase.Rescale(sample, sampleRate, tscodec.ClockRate)

		if frame < frames && (o.NoAudio || sample >= totalSamples || vpts <= apts) {
			fillPicture(pix, o.Format, o.Width, o.Height, frame)
			var sei []byte
			if captions != nil {
				sei = buildCaptionSEI([]ccTriplet{captions[frame]})
			}
			payload = tscodec.AppendVideo(payload[:0], hdr, sei, pix)
			if err := mux.WritePES(VideoPID, vpts, payload); err != nil {
				return fmt.Errorf("synth: writing frame %d: %w", frame, err)
			}
			frame++
			continue
		}

		n := min(int64(o.SamplesPerFrame), totalSamples-sample)
		buf := samples[:int(n)*o.Channels]
		for i := range int(n) {
			for c := range o.Channels {
				buf[i*o.Channels+c] = SampleValue(sample+int64(i), c)
			}
		}
		payload = tscodec.AppendAudio(payload[:0], tscodec.AudioHeader{Channels: o.Channels, SampleRate: o.SampleRate}, buf)
		if err := mux.WritePES(AudioPID, apts, payload); err != nil {
			return fmt.Errorf("synth: writing samples at %d: %w", sample, err)
		}
		sample += n
	}
	return nil
}

// SampleValue is the generated value of channel c at input sample n.
func SampleValue(n int64, c int) int16 {
	return int16((n*31+int64(c)*1000)%20000 - 10000)
}

// LumaAt is the generated luma (or red, for RGB clips) of pixel (x, y) in
// frame k.
func LumaAt(x, y, k int) uint8 {
	return uint8(x*4 + y*2 + k*8)
}

func fillPicture(pix []byte, f tscodec.PixelFormat, w, h, k int) {
	switch f {
	case tscodec.PixelI420:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pix[y*w+x] = LumaAt(x, y, k)
			}
		}
		chroma := pix[w*h:]
		for i := range chroma {
			chroma[i] = 128
		}
	case tscodec.PixelRGB24:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				pix[i] = LumaAt(x, y, k)
				pix[i+1] = uint8(k * 16)
				pix[i+2] = uint8(255 - x)
			}
		}
	}
}
