package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/zsiec/reel/internal/raster"
)

// Validate checks that all configuration values are within acceptable ranges.
// Returns an error describing the first validation failure found.
func (c *Config) Validate() error {
	if err := c.Clips.Validate(); err != nil {
		return fmt.Errorf("clips config: %w", err)
	}
	switch c.Backend {
	case "ts", "libav":
	default:
		return fmt.Errorf("backend must be ts or libav, got %q", c.Backend)
	}
	if _, err := raster.ParseMode(c.Raster.Mode); err != nil {
		return fmt.Errorf("raster config: %w", err)
	}
	if err := validateTuning(c); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if c.Preview.Enabled {
		if _, _, err := net.SplitHostPort(c.Preview.Addr); err != nil {
			return fmt.Errorf("preview config: addr %q: %w", c.Preview.Addr, err)
		}
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.TickMS <= 0 || c.TickMS > 1000 {
		return fmt.Errorf("tick_ms must be between 1 and 1000, got %d", c.TickMS)
	}
	return nil
}

// Validate checks clip source settings.
func (c *ClipsConfig) Validate() error {
	for _, p := range c.Paths {
		if p == "" {
			return fmt.Errorf("paths must not contain empty entries")
		}
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", c.MaxBytes)
	}
	if c.SRTOrigin != "" {
		if _, _, err := net.SplitHostPort(c.SRTOrigin); err != nil {
			return fmt.Errorf("srt_origin %q: %w", c.SRTOrigin, err)
		}
	}
	return nil
}

func validateTuning(c *Config) error {
	t := c.Playback
	if t.BufferMS < 100 {
		return fmt.Errorf("buffer_ms must be at least 100, got %d", t.BufferMS)
	}
	if t.Packets < 2 {
		return fmt.Errorf("packets must be at least 2, got %d", t.Packets)
	}
	for _, f := range []struct {
		name string
		v    int64
	}{
		{"max_desync_ms", t.MaxDesyncMS},
		{"max_seek_distance_ms", t.MaxSeekDistanceMS},
		{"lookahead_ms", t.LookaheadMS},
		{"seek_window_ms", t.SeekWindowMS},
	} {
		if f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, f.v)
		}
	}
	if t.LookaheadMS >= t.BufferMS/2 {
		return fmt.Errorf("lookahead_ms (%d) must be less than half of buffer_ms (%d)", t.LookaheadMS, t.BufferMS)
	}
	return nil
}
