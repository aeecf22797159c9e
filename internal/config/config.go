// Package config loads the player configuration from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/reel/internal/clip"
	"github.com/zsiec/reel/internal/movie"
)

// Config holds the complete player configuration.
type Config struct {
	Clips    ClipsConfig   `yaml:"clips"`
	Backend  string        `yaml:"backend"`
	Raster   RasterConfig  `yaml:"raster"`
	Playback movie.Tuning  `yaml:"playback"`
	Preview  PreviewConfig `yaml:"preview"`
	Captions bool          `yaml:"captions"`
	LogLevel string        `yaml:"log_level"`
	TickMS   int           `yaml:"tick_ms"`
}

// ClipsConfig says where clips are found.
type ClipsConfig struct {
	Paths     []string `yaml:"paths"`                // Library roots; later roots shadow earlier ones
	SRTOrigin string   `yaml:"srt_origin,omitempty"` // host:port of a clip server tried after the library
	MaxBytes  int64    `yaml:"max_bytes"`
}

// RasterConfig selects the image format.
type RasterConfig struct {
	Mode        string `yaml:"mode"`                   // "direct" or "patch"
	PaletteFile string `yaml:"palette_file,omitempty"` // 768-byte RGB palette; built-in when empty
}

// PreviewConfig controls the HTTP/3 inspection server.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	CertDir string `yaml:"cert_dir,omitempty"` // keeps the certificate across restarts; fresh each run when empty
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Load reads configuration from a YAML file and applies defaults. Unknown
// fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	// Relative clip paths are relative to the file.
	dir := filepath.Dir(path)
	for i, p := range cfg.Clips.Paths {
		if !filepath.IsAbs(p) {
			cfg.Clips.Paths[i] = filepath.Join(dir, p)
		}
	}
	for _, p := range []*string{&cfg.Raster.PaletteFile, &cfg.Preview.CertDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if len(c.Clips.Paths) == 0 {
		c.Clips.Paths = []string{"."}
	}
	if c.Clips.MaxBytes == 0 {
		c.Clips.MaxBytes = clip.DefaultMaxBytes
	}
	if c.Backend == "" {
		c.Backend = movie.DefaultBackend
	}
	if c.Raster.Mode == "" {
		c.Raster.Mode = "direct"
	}
	d := movie.DefaultTuning()
	if c.Playback.BufferMS == 0 {
		c.Playback.BufferMS = d.BufferMS
	}
	if c.Playback.Packets == 0 {
		c.Playback.Packets = d.Packets
	}
	if c.Playback.MaxDesyncMS == 0 {
		c.Playback.MaxDesyncMS = d.MaxDesyncMS
	}
	if c.Playback.MaxSeekDistanceMS == 0 {
		c.Playback.MaxSeekDistanceMS = d.MaxSeekDistanceMS
	}
	if c.Playback.LookaheadMS == 0 {
		c.Playback.LookaheadMS = d.LookaheadMS
	}
	if c.Playback.SeekWindowMS == 0 {
		c.Playback.SeekWindowMS = d.SeekWindowMS
	}
	if c.Preview.Addr == "" {
		c.Preview.Addr = ":4443"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TickMS == 0 {
		c.TickMS = 16
	}
}

// ApplyEnv overrides fields from the environment. REEL_CLIPS is a
// list of roots separated by the OS path list separator; a non-empty DEBUG
// forces debug logging.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("REEL_CLIPS"); v != "" {
		c.Clips.Paths = filepath.SplitList(v)
	}
	if v := getenv("REEL_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := getenv("REEL_PREVIEW_ADDR"); v != "" {
		c.Preview.Addr = v
		c.Preview.Enabled = true
	}
	if getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}
