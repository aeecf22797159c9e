package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"testing"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x*7 + y*13) & 0xFF),
				A: 0xFF,
			})
		}
	}
	return img
}

// referenceIndex quantises to 5-6-5, expands, and scans every palette entry
// keeping the lowest index among equally distant colours.
func referenceIndex(pal *Palette, c color.RGBA) uint8 {
	r5, g6, b5 := int(c.R)>>3, int(c.G)>>2, int(c.B)>>3
	r := r5<<3 | r5>>2
	g := g6<<2 | g6>>4
	b := b5<<3 | b5>>2
	dists := make([]int, len(pal))
	minDist := -1
	for i, pc := range pal {
		dr, dg, db := r-int(pc.R), g-int(pc.G), b-int(pc.B)
		dists[i] = dr*dr + dg*dg + db*db
		if minDist < 0 || dists[i] < minDist {
			minDist = dists[i]
		}
	}
	for i, d := range dists {
		if d == minDist {
			return uint8(i)
		}
	}
	return 0
}

func TestPatchBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		w, h int
		want int
	}{
		{320, 200, 320 * (4 + 200 + 4 + 1)},
		{1, 254, 4 + 254 + 4 + 1},
		{1, 255, 4 + 255 + 8 + 1},
		{2, 600, 2 * (4 + 600 + 12 + 1)},
		{3, 0, 3 * 5},
	}
	for _, tt := range tests {
		if got := PatchBytes(tt.w, tt.h); got != tt.want {
			t.Errorf("PatchBytes(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestEncodePatchRoundTrip(t *testing.T) {
	t.Parallel()

	for _, size := range []image.Point{{64, 36}, {17, 254}, {5, 600}, {320, 200}} {
		src := gradient(size.X, size.Y)
		cm := NewColorMap(nil)
		buf := make([]byte, PatchBytes(size.X, size.Y))
		if err := EncodePatch(buf, src, cm); err != nil {
			t.Fatalf("%v: EncodePatch: %v", size, err)
		}

		idx, err := DecodePatch(buf, size.X, size.Y)
		if err != nil {
			t.Fatalf("%v: DecodePatch: %v", size, err)
		}
		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				want := referenceIndex(cm.Palette(), src.RGBAAt(x, y))
				if got := idx[y*size.X+x]; got != want {
					t.Fatalf("%v: pixel (%d,%d) index %d, want %d", size, x, y, got, want)
				}
			}
		}
	}
}

func TestEncodePatchLayout(t *testing.T) {
	t.Parallel()

	const w, h = 7, 600
	buf := make([]byte, PatchBytes(w, h))
	if err := EncodePatch(buf, gradient(w, h), NewColorMap(nil)); err != nil {
		t.Fatal(err)
	}

	colBytes := ColumnBytes(h)
	for x := 0; x < w; x++ {
		off := int(binary.LittleEndian.Uint32(buf[x*4:]))
		if want := w*4 + x*colBytes; off != want {
			t.Fatalf("column %d offset %d, want %d", x, off, want)
		}
		col := buf[off : off+colBytes]
		if col[len(col)-1] != columnEnd {
			t.Fatalf("column %d does not end with 0xFF", x)
		}

		p, rows, posts := 0, 0, 0
		for col[p] != columnEnd {
			delta, n := col[p], int(col[p+1])
			if posts == 0 && delta != 0 || posts > 0 && delta != MaxPostHeight {
				t.Fatalf("column %d post %d delta %d", x, posts, delta)
			}
			if n > MaxPostHeight {
				t.Fatalf("column %d post %d length %d exceeds %d", x, posts, n, MaxPostHeight)
			}
			if col[p+2] != 0 || col[p+3+n] != 0 {
				t.Fatalf("column %d post %d spacers not zero", x, posts)
			}
			rows += n
			posts++
			p += 4 + n
		}
		if p != colBytes-1 {
			t.Fatalf("column %d terminator at %d, want %d", x, p, colBytes-1)
		}
		if rows != h || posts != 3 {
			t.Fatalf("column %d: rows=%d posts=%d, want %d 3", x, rows, posts, h)
		}
	}
}

func TestEncodePatchShortBuffer(t *testing.T) {
	t.Parallel()

	err := EncodePatch(make([]byte, 10), gradient(4, 4), NewColorMap(nil))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDecodePatchRejectsGarbage(t *testing.T) {
	t.Parallel()

	buf := make([]byte, PatchBytes(2, 2))
	if err := EncodePatch(buf, gradient(2, 2), NewColorMap(nil)); err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] = 0x00 // drop the last column terminator
	if _, err := DecodePatch(buf, 2, 2); !errors.Is(err, ErrBadPatch) {
		t.Fatalf("got %v, want ErrBadPatch", err)
	}
}

func TestColorMapFirstIndexWinsTies(t *testing.T) {
	t.Parallel()

	var pal Palette
	for i := range pal {
		pal[i] = color.RGBA{A: 0xFF} // all black
	}
	pal[10] = color.RGBA{R: 0xFF, A: 0xFF}
	pal[20] = color.RGBA{R: 0xFF, A: 0xFF}

	cm := NewColorMap(&pal)
	if got := cm.Index(0xFF, 0, 0); got != 10 {
		t.Errorf("red maps to %d, want 10", got)
	}
	if got := cm.Index(0, 0, 0); got != 0 {
		t.Errorf("black maps to %d, want 0", got)
	}
}

func TestLoadPalette(t *testing.T) {
	t.Parallel()

	raw := make([]byte, PaletteFileSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	pal, err := LoadPalette(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := pal[1], (color.RGBA{R: 3, G: 4, B: 5, A: 0xFF}); got != want {
		t.Errorf("entry 1 = %v, want %v", got, want)
	}
	if _, err := LoadPalette(bytes.NewReader(raw[:100])); err == nil {
		t.Error("expected error for short palette")
	}

	var out bytes.Buffer
	if _, err := pal.WriteTo(&out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), raw) {
		t.Error("WriteTo did not reproduce the palette file")
	}
}

func TestDefaultPaletteCorners(t *testing.T) {
	t.Parallel()

	pal := DefaultPalette()
	if got := pal[0]; got != (color.RGBA{A: 0xFF}) {
		t.Errorf("entry 0 = %v, want black", got)
	}
	if got := pal[255]; got != (color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}) {
		t.Errorf("entry 255 = %v, want white", got)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"direct": Direct, "PATCH": Patch, " rgba ": Direct} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("jpeg"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestPatchImagePaletted(t *testing.T) {
	t.Parallel()

	cm := NewColorMap(nil)
	p := NewPatchImage(8, 8)
	src := gradient(8, 8)
	if err := EncodePatch(p.Data, src, cm); err != nil {
		t.Fatal(err)
	}
	img, err := p.Paletted(cm.Palette())
	if err != nil {
		t.Fatal(err)
	}
	want := referenceIndex(cm.Palette(), src.RGBAAt(3, 5))
	if got := img.ColorIndexAt(3, 5); got != want {
		t.Fatalf("ColorIndexAt = %d, want %d", got, want)
	}
}
