package tscodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PixelFormat is the layout of a raw video payload.
type PixelFormat uint8

const (
	PixelI420  PixelFormat = 1
	PixelRGB24 PixelFormat = 2
)

func (p PixelFormat) String() string {
	switch p {
	case PixelI420:
		return "yuv420p"
	case PixelRGB24:
		return "rgb24"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint8(p))
	}
}

// FrameSize returns the payload size of one w×h picture.
func (p PixelFormat) FrameSize(w, h int) int {
	switch p {
	case PixelI420:
		cw, ch := (w+1)/2, (h+1)/2
		return w*h + 2*cw*ch
	case PixelRGB24:
		return w * h * 3
	default:
		return 0
	}
}

const (
	videoHeaderSize = 16
	audioHeaderSize = 8
)

var (
	videoMagic = [2]byte{'R', 'V'}
	audioMagic = [2]byte{'P', 'C'}

	errShortPayload = errors.New("tscodec: payload too short")
)

// VideoHeader prefixes every raw video PES payload. It is followed by
// SEILen bytes of Annex-B SEI NAL units and then the picture.
type VideoHeader struct {
	Format       PixelFormat
	Width        int
	Height       int
	FrameRateNum int
	FrameRateDen int
	SEILen       int
}

// AppendVideo appends a raw video payload to b.
func AppendVideo(b []byte, h VideoHeader, sei, pix []byte) []byte {
	var hdr [videoHeaderSize]byte
	copy(hdr[:], videoMagic[:])
	hdr[2] = byte(h.Format)
	binary.BigEndian.PutUint16(hdr[4:], uint16(h.Width))
	binary.BigEndian.PutUint16(hdr[6:], uint16(h.Height))
	binary.BigEndian.PutUint16(hdr[8:], uint16(h.FrameRateNum))
	binary.BigEndian.PutUint16(hdr[10:], uint16(h.FrameRateDen))
	binary.BigEndian.PutUint32(hdr[12:], uint32(len(sei)))
	b = append(b, hdr[:]...)
	b = append(b, sei...)
	return append(b, pix...)
}

// ParseVideo splits a raw video payload into header, SEI and picture bytes.
func ParseVideo(p []byte) (VideoHeader, []byte, []byte, error) {
	var h VideoHeader
	if len(p) < videoHeaderSize {
		return h, nil, nil, errShortPayload
	}
	if p[0] != videoMagic[0] || p[1] != videoMagic[1] {
		return h, nil, nil, fmt.Errorf("tscodec: bad video magic %q", p[:2])
	}
	h.Format = PixelFormat(p[2])
	h.Width = int(binary.BigEndian.Uint16(p[4:]))
	h.Height = int(binary.BigEndian.Uint16(p[6:]))
	h.FrameRateNum = int(binary.BigEndian.Uint16(p[8:]))
	h.FrameRateDen = int(binary.BigEndian.Uint16(p[10:]))
	h.SEILen = int(binary.BigEndian.Uint32(p[12:]))
	if h.FrameRateNum == 0 || h.FrameRateDen == 0 {
		return h, nil, nil, fmt.Errorf("tscodec: invalid frame rate %d/%d", h.FrameRateNum, h.FrameRateDen)
	}
	rest := p[videoHeaderSize:]
	if len(rest) < h.SEILen {
		return h, nil, nil, errShortPayload
	}
	sei, pix := rest[:h.SEILen], rest[h.SEILen:]
	if need := h.Format.FrameSize(h.Width, h.Height); need == 0 || len(pix) < need {
		return h, nil, nil, fmt.Errorf("tscodec: %v %dx%d picture has %d bytes, need %d",
			h.Format, h.Width, h.Height, len(pix), need)
	}
	return h, sei, pix, nil
}

// AudioHeader prefixes every PCM PES payload. Interleaved little-endian
// signed 16-bit samples follow.
type AudioHeader struct {
	Channels   int
	SampleRate int
}

// AppendAudio appends a PCM payload holding samples to b.
func AppendAudio(b []byte, h AudioHeader, samples []int16) []byte {
	var hdr [audioHeaderSize]byte
	copy(hdr[:], audioMagic[:])
	hdr[2] = byte(h.Channels)
	binary.BigEndian.PutUint32(hdr[4:], uint32(h.SampleRate))
	b = append(b, hdr[:]...)
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint16(b, uint16(s))
	}
	return b
}

// ParseAudio returns the header and raw sample bytes of a PCM payload.
func ParseAudio(p []byte) (AudioHeader, []byte, error) {
	var h AudioHeader
	if len(p) < audioHeaderSize {
		return h, nil, errShortPayload
	}
	if p[0] != audioMagic[0] || p[1] != audioMagic[1] {
		return h, nil, fmt.Errorf("tscodec: bad audio magic %q", p[:2])
	}
	h.Channels = int(p[2])
	h.SampleRate = int(binary.BigEndian.Uint32(p[4:]))
	if h.Channels == 0 || h.SampleRate == 0 {
		return h, nil, fmt.Errorf("tscodec: invalid audio format %d ch @ %d Hz", h.Channels, h.SampleRate)
	}
	data := p[audioHeaderSize:]
	frame := 2 * h.Channels
	return h, data[:len(data)/frame*frame], nil
}
