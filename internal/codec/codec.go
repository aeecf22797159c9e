// Package codec defines the container and decoder interfaces the decode
// pipeline drives, with ffmpeg-style send/receive semantics, and a registry
// of backends that implement them.
package codec

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/zsiec/reel/internal/timebase"
)

// Sentinel results of the send/receive protocol.
var (
	// ErrAgain means the decoder needs more input before it can produce a
	// frame, or cannot accept input until frames are received.
	ErrAgain = errors.New("codec: resource temporarily unavailable")
	// ErrEOF means the decoder has been drained after an end-of-stream send.
	ErrEOF = errors.New("codec: end of stream")
)

// MediaType classifies a container stream.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
	MediaData
)

func (m MediaType) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaData:
		return "data"
	default:
		return "unknown"
	}
}

// StreamInfo describes one container stream as probed at open.
type StreamInfo struct {
	Index     int
	Type      MediaType
	Codec     string
	TimeBase  timebase.Rational
	FrameRate timebase.Rational
	Width     int
	Height    int
	// SampleRate and Channels describe the input audio before resampling.
	SampleRate int
	Channels   int
}

// Packet is a reusable compressed packet owned by its container.
type Packet interface {
	StreamIndex() int
	PTS() int64
	Data() []byte
	// Unref releases the payload so the packet can be refilled.
	Unref()
}

// Picture is the metadata of the most recently received video frame.
type Picture struct {
	PTS      int64
	Duration int64
	Width    int
	Height   int
}

// Samples is the metadata of the most recently received audio frame.
type Samples struct {
	PTS        int64
	NumSamples int
	SampleRate int
	Channels   int
}

// Decoder is the send/receive half shared by video and audio decoders.
// SendPacket(nil) enters draining mode; ReceiveFrame then returns ErrEOF
// once every buffered frame has been returned.
type Decoder interface {
	SendPacket(pkt Packet) error
	// Flush discards buffered frames and leaves draining mode.
	Flush()
	Close() error
}

// VideoDecoder decodes pictures and converts the last one received.
type VideoDecoder interface {
	Decoder
	ReceiveFrame() (Picture, error)
	// ConvertRGBA scales the last received picture into dst.
	ConvertRGBA(dst *image.RGBA) error
}

// AudioDecoder decodes sample frames and resamples the last one received
// to interleaved signed 16-bit at timebase.SampleRate.
type AudioDecoder interface {
	Decoder
	ReceiveFrame() (Samples, error)
	// MaxOutputSamples bounds the per-channel output of Resample for an
	// input frame of n samples.
	MaxOutputSamples(n int) int
	// Resample writes the last received frame into dst and returns the
	// number of samples per channel written.
	Resample(dst []int16) (int, error)
}

// Container is an opened clip.
type Container interface {
	Streams() []StreamInfo
	// BestStream returns the index of the preferred stream of type t, or -1.
	BestStream(t MediaType) int
	// Duration is the clip length in microseconds.
	Duration() int64
	NewPacket() Packet
	// ReadPacket fills pkt with the next packet of any stream. It returns
	// io.EOF at the end of the clip.
	ReadPacket(pkt Packet) error
	// Seek repositions so the next packet read on stream is the last
	// seekable point at or before ts within [minTS, maxTS].
	Seek(stream int, minTS, ts, maxTS int64) error
	NewVideoDecoder(stream int) (VideoDecoder, error)
	NewAudioDecoder(stream int) (AudioDecoder, error)
	Close() error
}

// Opener opens a container reading from r.
type Opener func(r io.ReadSeeker, log *slog.Logger) (Container, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// Register makes a backend available under name. It panics on duplicates.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("codec: Register called twice for backend " + name)
	}
	registry[name] = open
}

// Backends returns the sorted names of registered backends.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens r with the named backend.
func Open(name string, r io.ReadSeeker, log *slog.Logger) (Container, error) {
	registryMu.RLock()
	open, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec: unknown backend %q (have %v)", name, Backends())
	}
	if log == nil {
		log = slog.Default()
	}
	return open(r, log)
}

// SEICarrier is implemented by video packets that can expose H.264 SEI NAL
// units in Annex-B form, for caption extraction.
type SEICarrier interface {
	SEI() []byte
}
