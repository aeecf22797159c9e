package movie

import (
	"log/slog"

	"github.com/zsiec/reel/internal/raster"
)

// Default tuning values.
const (
	DefaultBufferMS          = 4000
	DefaultPackets           = 32
	DefaultMaxDesyncMS       = 200
	DefaultMaxSeekDistanceMS = 10000
	DefaultLookaheadMS       = 250
	DefaultSeekWindowMS      = 5000
)

// Tuning holds the playback constants. Zero fields take their defaults.
type Tuning struct {
	// BufferMS sizes the frame pools. Frames older than half of it behind
	// the playback position are evicted.
	BufferMS int64 `yaml:"buffer_ms"`
	Packets  int   `yaml:"packets"`
	// MaxDesyncMS is how far the audio cursor may drift from the playback
	// position before it snaps back.
	MaxDesyncMS int64 `yaml:"max_desync_ms"`
	// MaxSeekDistanceMS is the gap past which a pending seek is considered
	// failed and may be reissued.
	MaxSeekDistanceMS int64 `yaml:"max_seek_distance_ms"`
	LookaheadMS       int64 `yaml:"lookahead_ms"`
	// SeekWindowMS is how far before the target a container seek may land.
	SeekWindowMS int64 `yaml:"seek_window_ms"`
}

// DefaultTuning returns the default playback constants.
func DefaultTuning() Tuning {
	return Tuning{
		BufferMS:          DefaultBufferMS,
		Packets:           DefaultPackets,
		MaxDesyncMS:       DefaultMaxDesyncMS,
		MaxSeekDistanceMS: DefaultMaxSeekDistanceMS,
		LookaheadMS:       DefaultLookaheadMS,
		SeekWindowMS:      DefaultSeekWindowMS,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.BufferMS <= 0 {
		t.BufferMS = d.BufferMS
	}
	if t.Packets <= 0 {
		t.Packets = d.Packets
	}
	if t.MaxDesyncMS <= 0 {
		t.MaxDesyncMS = d.MaxDesyncMS
	}
	if t.MaxSeekDistanceMS <= 0 {
		t.MaxSeekDistanceMS = d.MaxSeekDistanceMS
	}
	if t.LookaheadMS <= 0 {
		t.LookaheadMS = d.LookaheadMS
	}
	if t.SeekWindowMS <= 0 {
		t.SeekWindowMS = d.SeekWindowMS
	}
	return t
}

type options struct {
	log      *slog.Logger
	backend  string
	tuning   Tuning
	colorMap *raster.ColorMap
	captions bool
}

// Option configures a Movie.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBackend selects a registered codec backend by name.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithTuning overrides the playback constants.
func WithTuning(t Tuning) Option {
	return func(o *options) { o.tuning = t }
}

// WithColorMap sets the palette lookup used for patch output.
func WithColorMap(cm *raster.ColorMap) Option {
	return func(o *options) { o.colorMap = cm }
}

// WithCaptions enables closed caption decoding.
func WithCaptions(enabled bool) Option {
	return func(o *options) { o.captions = enabled }
}
