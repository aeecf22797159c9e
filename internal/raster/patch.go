package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
)

const (
	// MaxPostHeight is the tallest run a single post can hold.
	MaxPostHeight = 254
	// postOverhead counts the delta, length and two spacer bytes of a post.
	postOverhead = 4
	columnEnd    = 0xFF
)

// ColumnBytes returns the encoded size of one column of height h.
func ColumnBytes(h int) int {
	posts := (h + MaxPostHeight - 1) / MaxPostHeight
	return h + posts*postOverhead + 1
}

// PatchBytes returns the encoded size of a w×h patch: the offset table
// followed by w columns.
func PatchBytes(w, h int) int {
	return w * (4 + ColumnBytes(h))
}

// EncodePatch writes src as a patch into dst, which must be at least
// PatchBytes(w, h) long. Column offsets are little-endian and measured from
// the start of the offset table.
func EncodePatch(dst []byte, src *image.RGBA, cm *ColorMap) error {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if need := PatchBytes(w, h); len(dst) < need {
		return fmt.Errorf("raster: patch buffer %d bytes, need %d", len(dst), need)
	}

	colBytes := ColumnBytes(h)
	tableBytes := w * 4
	for x := 0; x < w; x++ {
		off := tableBytes + x*colBytes
		// The offset names the column's first topdelta byte, not a byte inside the post header.
		binary.LittleEndian.PutUint32(dst[x*4:], uint32(off))

		p := off
		for top := 0; top < h; top += MaxPostHeight {
			n := min(MaxPostHeight, h-top)
			if top == 0 {
				dst[p] = 0
			} else {
				dst[p] = MaxPostHeight
			}
			dst[p+1] = byte(n)
			dst[p+2] = 0
			p += 3
			for y := top; y < top+n; y++ {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				dst[p] = cm.Index(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
				p++
			}
			dst[p] = 0
			p++
		}
		dst[p] = columnEnd
	}
	return nil
}

// ErrBadPatch is returned by DecodePatch for malformed input.
var ErrBadPatch = errors.New("raster: malformed patch")

// DecodePatch expands a patch into a w×h grid of palette indices in
// row-major order.
func DecodePatch(data []byte, w, h int) ([]uint8, error) {
	if len(data) < w*4 {
		return nil, fmt.Errorf("%w: offset table truncated", ErrBadPatch)
	}
	out := make([]uint8, w*h)
	for x := 0; x < w; x++ {
		p := int(binary.LittleEndian.Uint32(data[x*4:]))
		y := 0
		for {
			if p >= len(data) {
				return nil, fmt.Errorf("%w: column %d overruns data", ErrBadPatch, x)
			}
			if data[p] == columnEnd {
				break
			}
			if p+3 > len(data) {
				return nil, fmt.Errorf("%w: column %d post header truncated", ErrBadPatch, x)
			}
			delta, n := int(data[p]), int(data[p+1])
			want := MaxPostHeight
			if y == 0 {
				want = 0
			}
			if delta != want {
				return nil, fmt.Errorf("%w: column %d post at row %d has delta %d", ErrBadPatch, x, y, delta)
			}
			p += 3
			if p+n+1 > len(data) || y+n > h {
				return nil, fmt.Errorf("%w: column %d post exceeds bounds", ErrBadPatch, x)
			}
			for i := 0; i < n; i++ {
				out[(y+i)*w+x] = data[p+i]
			}
			y += n
			p += n + 1
		}
		if y != h {
			return nil, fmt.Errorf("%w: column %d covers %d rows, want %d", ErrBadPatch, x, y, h)
		}
	}
	return out, nil
}

// Paletted renders a patch frame as a paletted image.
func (p *PatchImage) Paletted(pal *Palette) (*image.Paletted, error) {
	idx, err := DecodePatch(p.Data, p.W, p.H)
	if err != nil {
		return nil, err
	}
	cp := make([]color.Color, len(pal))
	for i, c := range pal {
		cp[i] = c
	}
	img := image.NewPaletted(image.Rect(0, 0, p.W, p.H), cp)
	copy(img.Pix, idx)
	return img, nil
}
