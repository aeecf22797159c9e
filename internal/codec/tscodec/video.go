package tscodec

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/zsiec/reel/internal/codec"
)

// pendingFrames bounds how many decoded pictures a decoder buffers before
// SendPacket reports codec.ErrAgain.
const pendingFrames = 2

type rawPicture struct {
	pic    codec.Picture
	format PixelFormat
	pix    []byte
}

type videoDecoder struct {
	info     codec.StreamInfo
	pending  []*rawPicture
	free     []*rawPicture
	cur      *rawPicture
	draining bool
	scratch  *image.RGBA
}

func newVideoDecoder(info codec.StreamInfo) *videoDecoder {
	return &videoDecoder{info: info}
}

func (d *videoDecoder) SendPacket(pkt codec.Packet) error {
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
	h, _, pix, err := ParseVideo(pkt.Data())
	if err != nil {
		return fmt.Errorf("tscodec: decoding video: %w", err)
	}

	var p *rawPicture
	if n := len(d.free); n > 0 {
		p, d.free = d.free[n-1], d.free[:n-1]
	} else {
		p = &rawPicture{}
	}
	size := h.Format.FrameSize(h.Width, h.Height)
	// The packet is recycled after send, so the picture keeps its own copy.
	p.pix = append(p.pix[:0], pix[:size]...)
	p.format = h.Format
	p.pic = codec.Picture{
		PTS:      pkt.PTS(),
		Duration: frameDuration(h.FrameRateNum, h.FrameRateDen),
		Width:    h.Width,
		Height:   h.Height,
	}
	d.pending = append(d.pending, p)
	return nil
}

func (d *videoDecoder) ReceiveFrame() (codec.Picture, error) {
	if len(d.pending) == 0 {
		if d.draining {
			return codec.Picture{}, codec.ErrEOF
		}
		return codec.Picture{}, codec.ErrAgain
	}
	if d.cur != nil {
		d.free = append(d.free, d.cur)
	}
	d.cur = d.pending[0]
	d.pending = d.pending[1:]
	return d.cur.pic, nil
}

func (d *videoDecoder) ConvertRGBA(dst *image.RGBA) error {
	if d.cur == nil {
		return fmt.Errorf("tscodec: no picture received")
	}
	p := d.cur
	w, h := p.pic.Width, p.pic.Height
	rect := image.Rect(0, 0, w, h)

	var src image.Image
	switch p.format {
	case PixelI420:
		cw, ch := (w+1)/2, (h+1)/2
		src = &image.YCbCr{
			Y:              p.pix[:w*h],
			Cb:             p.pix[w*h : w*h+cw*ch],
			Cr:             p.pix[w*h+cw*ch : w*h+2*cw*ch],
			YStride:        w,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}
	case PixelRGB24:
		if d.scratch == nil || d.scratch.Rect != rect {
			d.scratch = image.NewRGBA(rect)
		}
		for i, j := 0, 0; i < len(p.pix); i, j = i+3, j+4 {
			d.scratch.Pix[j] = p.pix[i]
			d.scratch.Pix[j+1] = p.pix[i+1]
			d.scratch.Pix[j+2] = p.pix[i+2]
			d.scratch.Pix[j+3] = 0xFF
		}
		src = d.scratch
	default:
		return fmt.Errorf("tscodec: unsupported pixel format %v", p.format)
	}

	if dst.Rect.Size() == rect.Size() {
		draw.Draw(dst, dst.Rect, src, rect.Min, draw.Src)
		return nil
	}
	draw.BiLinear.Scale(dst, dst.Rect, src, rect, draw.Src, nil)
	return nil
}

func (d *videoDecoder) Flush() {
	d.free = append(d.free, d.pending...)
	d.pending = d.pending[:0]
	d.draining = false
}

func (d *videoDecoder) Close() error {
	d.pending, d.free, d.cur = nil, nil, nil
	return nil
}
