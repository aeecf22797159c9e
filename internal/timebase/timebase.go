// Package timebase converts timestamps between stream time bases,
// milliseconds and 44.1 kHz sample counts using exact rational arithmetic.
package timebase

import (
	"fmt"
	"math"
	"math/bits"
)

// SampleRate is the fixed output rate of decoded audio.
const SampleRate = 44100

// NoValue is returned when a rescale overflows or a time base is undefined.
const NoValue int64 = math.MinInt64

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// Common time bases.
var (
	Millis  = Rational{1, 1000}
	Micros  = Rational{1, 1000000}
	Samples = Rational{1, SampleRate}
)

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Valid reports whether r has a non-zero numerator and denominator.
func (r Rational) Valid() bool {
	return r.Num != 0 && r.Den != 0
}

// Rescale converts a from time base from to time base to, computing
// a*from.Num*to.Den / (from.Den*to.Num) with a 128-bit intermediate and
// rounding to nearest, halfway cases away from zero.
func Rescale(a int64, from, to Rational) int64 {
	if !from.Valid() || !to.Valid() {
		return NoValue
	}
	b := from.Num * to.Den
	c := from.Den * to.Num
	return rescaleRnd(a, b, c)
}

func rescaleRnd(a, b, c int64) int64 {
	neg := false
	if a < 0 {
		neg = !neg
		a = -a
	}
	if b < 0 {
		neg = !neg
		b = -b
	}
	if c < 0 {
		neg = !neg
		c = -c
	}
	if a < 0 {
		// |MinInt64| does not fit.
		return NoValue
	}

	hi, lo := bits.Mul64(uint64(a), uint64(b))
	var carry uint64
	lo, carry = bits.Add64(lo, uint64(c)/2, 0)
	hi += carry
	if hi >= uint64(c) {
		return NoValue
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return NoValue
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// Converter binds the time bases of a clip's video and audio streams.
type Converter struct {
	Video Rational
	Audio Rational
}

// VideoToMS converts a video pts to milliseconds.
func (c Converter) VideoToMS(pts int64) int64 { return Rescale(pts, c.Video, Millis) }

// MSToVideo converts milliseconds to a video pts.
func (c Converter) MSToVideo(ms int64) int64 { return Rescale(ms, Millis, c.Video) }

// AudioToSamples converts an audio pts to an absolute sample index.
func (c Converter) AudioToSamples(pts int64) int64 { return Rescale(pts, c.Audio, Samples) }

// AudioToMS converts an audio pts to milliseconds.
func (c Converter) AudioToMS(pts int64) int64 { return Rescale(pts, c.Audio, Millis) }

// MSToAudio converts milliseconds to an audio pts.
func (c Converter) MSToAudio(ms int64) int64 { return Rescale(ms, Millis, c.Audio) }

// SamplesToMS converts a sample index to milliseconds.
func SamplesToMS(n int64) int64 { return Rescale(n, Samples, Millis) }

// MSToSamples converts milliseconds to a sample index.
func MSToSamples(ms int64) int64 { return Rescale(ms, Millis, Samples) }

// MicrosToMS converts a container duration in microseconds to milliseconds.
func MicrosToMS(us int64) int64 { return Rescale(us, Micros, Millis) }
