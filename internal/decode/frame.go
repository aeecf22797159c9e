// Package decode runs the background decode worker. The worker pulls
// compressed packets from a shared queue, decodes them, converts video to
// the movie's raster format and resamples audio, and publishes the results
// into bounded frame queues the playback controller drains.
package decode

import (
	"github.com/zsiec/reel/internal/raster"
)

// VideoFrame is a decoded, converted picture.
type VideoFrame struct {
	// ID is assigned in decode order starting at 1.
	ID       uint64
	PTS      int64
	Duration int64
	Image    raster.Image
}

// End returns the pts just past the frame.
func (f *VideoFrame) End() int64 { return f.PTS + f.Duration }

// AudioFrame is a block of interleaved signed 16-bit samples at 44.1 kHz.
type AudioFrame struct {
	PTS        int64
	NumSamples int
	// FirstSample is the absolute index of the first sample in the clip's
	// output timeline. The playback controller assigns it.
	FirstSample int64
	Channels    int
	// Samples has room for the largest frame the pool was sized for;
	// only NumSamples*Channels values are valid.
	Samples []int16
}

// EndSample returns the index just past the frame's last sample.
func (f *AudioFrame) EndSample() int64 { return f.FirstSample + int64(f.NumSamples) }
