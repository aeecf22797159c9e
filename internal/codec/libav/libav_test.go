//go:build libav

package libav

import (
	"errors"
	"testing"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/reel/internal/codec"
)

func TestMapErr(t *testing.T) {
	t.Parallel()

	other := errors.New("other")
	tests := []struct {
		in, want error
	}{
		{nil, nil},
		{astiav.ErrEagain, codec.ErrAgain},
		{astiav.ErrEof, codec.ErrEOF},
		{other, other},
	}
	for _, tc := range tests {
		if got := mapErr(tc.in); got != tc.want {
			t.Errorf("mapErr(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOutChannels(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{1: 1, 2: 2, 6: 2} {
		if got := outChannels(in); got != want {
			t.Errorf("outChannels(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame, average, want int64
	}{
		{frame: 1500, average: 3000, want: 1500},
		{frame: 4500, average: 3000, want: 4500},
		{frame: 0, average: 3000, want: 3000},
		{frame: -1, average: 3000, want: 3000},
	}
	for _, tc := range tests {
		if got := frameDuration(tc.frame, tc.average); got != tc.want {
			t.Errorf("frameDuration(%d, %d) = %d, want %d", tc.frame, tc.average, got, tc.want)
		}
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range codec.Backends() {
		if name == Name {
			return
		}
	}
	t.Errorf("backend %q not registered", Name)
}
