// Package raster converts decoded pictures into the two renderer formats a
// movie can produce: a direct RGBA copy, or a palettized "patch" made of
// vertical run-length columns.
package raster

import (
	"fmt"
	"image"
	"strings"
)

// Mode selects the raster format a movie produces.
type Mode int

const (
	// Direct keeps 8-bit RGBA pixels at the source dimensions.
	Direct Mode = iota
	// Patch encodes palette indices as columns of posts.
	Patch
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Patch:
		return "patch"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "direct" or "patch", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "rgba":
		return Direct, nil
	case "patch":
		return Patch, nil
	default:
		return 0, fmt.Errorf("raster: unknown mode %q", s)
	}
}

// Image is one converted video frame. Implementations are *RGBA and *PatchImage.
type Image interface {
	Mode() Mode
	Bounds() (w, h int)
	Bytes() []byte
}

// RGBA is a direct-mode frame.
type RGBA struct {
	*image.RGBA
}

// NewRGBA allocates a direct frame of the given size.
func NewRGBA(w, h int) *RGBA {
	return &RGBA{image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (*RGBA) Mode() Mode { return Direct }

func (r *RGBA) Bounds() (int, int) {
	b := r.Rect
	return b.Dx(), b.Dy()
}

func (r *RGBA) Bytes() []byte { return r.Pix }

// PatchImage is a patch-mode frame. Data is always PatchBytes(W, H) long.
type PatchImage struct {
	W, H int
	Data []byte
}

// NewPatchImage allocates a patch frame of the given size.
func NewPatchImage(w, h int) *PatchImage {
	return &PatchImage{W: w, H: h, Data: make([]byte, PatchBytes(w, h))}
}

func (*PatchImage) Mode() Mode { return Patch }

func (p *PatchImage) Bounds() (int, int) { return p.W, p.H }

func (p *PatchImage) Bytes() []byte { return p.Data }

// NewImage allocates an empty frame for mode m.
func NewImage(m Mode, w, h int) Image {
	if m == Patch {
		return NewPatchImage(w, h)
	}
	return NewRGBA(w, h)
}
