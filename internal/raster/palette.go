package raster

import (
	"fmt"
	"image/color"
	"io"
	"sync"
)

// PaletteFileSize is the size of a palette file: 256 RGB triplets.
const PaletteFileSize = 256 * 3

// Palette is the 256-colour master palette patch indices refer to.
type Palette [256]color.RGBA

// DefaultPalette returns a 3-3-2 bit RGB cube.
func DefaultPalette() *Palette {
	var p Palette
	for i := range p {
		r := uint8(i>>5) & 0x07
		g := uint8(i>>2) & 0x07
		b := uint8(i) & 0x03
		p[i] = color.RGBA{
			R: r<<5 | r<<2 | r>>1,
			G: g<<5 | g<<2 | g>>1,
			B: b<<6 | b<<4 | b<<2 | b,
			A: 0xFF,
		}
	}
	return &p
}

// LoadPalette reads 768 bytes of RGB triplets.
func LoadPalette(r io.Reader) (*Palette, error) {
	buf := make([]byte, PaletteFileSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("raster: reading palette: %w", err)
	}
	var p Palette
	for i := range p {
		p[i] = color.RGBA{R: buf[i*3], G: buf[i*3+1], B: buf[i*3+2], A: 0xFF}
	}
	return &p, nil
}

// WriteTo writes the palette in the format LoadPalette reads.
func (p *Palette) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, PaletteFileSize)
	for _, c := range p {
		buf = append(buf, c.R, c.G, c.B)
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ColorMap maps RGB colours to palette indices through a 5-6-5 quantised
// lookup table. The table is built on first use and is safe for concurrent
// readers afterwards.
type ColorMap struct {
	pal  *Palette
	once sync.Once
	lut  []uint8
}

// NewColorMap returns a colour map for pal. A nil palette selects DefaultPalette.
func NewColorMap(pal *Palette) *ColorMap {
	if pal == nil {
		pal = DefaultPalette()
	}
	return &ColorMap{pal: pal}
}

// Palette returns the palette indices refer to.
func (m *ColorMap) Palette() *Palette { return m.pal }

// Index returns the palette index nearest to (r, g, b) after 5-6-5 quantisation.
func (m *ColorMap) Index(r, g, b uint8) uint8 {
	m.once.Do(m.build)
	return m.lut[key565(r, g, b)]
}

func key565(r, g, b uint8) int {
	return int(r>>3)<<11 | int(g>>2)<<5 | int(b>>3)
}

// expand565 returns the 8-bit colour represented by a 5-6-5 key.
func expand565(k int) (r, g, b int) {
	r5 := k >> 11 & 0x1F
	g6 := k >> 5 & 0x3F
	b5 := k & 0x1F
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

func (m *ColorMap) build() {
	m.lut = make([]uint8, 1<<16)
	for k := range m.lut {
		r, g, b := expand565(k)
		m.lut[k] = nearest(m.pal, r, g, b)
	}
}

// nearest returns the first palette index with the smallest squared distance.
func nearest(pal *Palette, r, g, b int) uint8 {
	best, bestDist := 0, int(^uint(0)>>1)
	for i, c := range pal {
		dr := r - int(c.R)
		dg := g - int(c.G)
		db := b - int(c.B)
		d := dr*dr + dg*dg + db*db
		if d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	return uint8(best)
}
