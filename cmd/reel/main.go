package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/clip"
	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/movie"
	"github.com/zsiec/reel/internal/preview"
	"github.com/zsiec/reel/internal/raster"
	"github.com/zsiec/reel/internal/timebase"
)

var version = "dev"

type flags struct {
	config    string
	startMS   int64
	audioOut  string
	framesDir string
	frameStep int
	serveSRT  string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML configuration file")
	flag.Int64Var(&f.startMS, "start", 0, "start position in milliseconds")
	flag.StringVar(&f.audioOut, "audio-out", "", "write played audio as raw s16le to this file")
	flag.StringVar(&f.framesDir, "frames", "", "write displayed frames as PNG into this directory")
	flag.IntVar(&f.frameStep, "frame-step", 30, "write every Nth displayed frame")
	flag.StringVar(&f.serveSRT, "serve-srt", "", "serve the clip library over SRT on this address instead of playing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <clip>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	lib := clip.NewLibrary(cfg.Clips.Paths, cfg.Clips.MaxBytes, nil)

	if f.serveSRT != "" {
		slog.Info("reel clip server starting", "version", version, "srt", f.serveSRT, "paths", cfg.Clips.Paths)
		if err := clip.NewServer(f.serveSRT, lib, nil).Start(ctx); err != nil {
			slog.Error("clip server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(ctx, cfg, f, lib, flag.Arg(0)); err != nil {
		slog.Error("playback failed", "error", err)
		os.Exit(1)
	}
}

func loader(cfg *config.Config, lib *clip.Library) clip.Loader {
	if cfg.Clips.SRTOrigin == "" {
		return lib
	}
	return clip.Chain{lib, &clip.SRTSource{Addr: cfg.Clips.SRTOrigin, MaxBytes: cfg.Clips.MaxBytes}}
}

func colorMap(path string) (*raster.ColorMap, error) {
	if path == "" {
		return nil, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	pal, err := raster.LoadPalette(fh)
	if err != nil {
		return nil, fmt.Errorf("palette %s: %w", path, err)
	}
	return raster.NewColorMap(pal), nil
}

func run(ctx context.Context, cfg *config.Config, f flags, lib *clip.Library, name string) error {
	mode, err := raster.ParseMode(cfg.Raster.Mode)
	if err != nil {
		return err
	}
	cm, err := colorMap(cfg.Raster.PaletteFile)
	if err != nil {
		return err
	}

	opts := []movie.Option{
		movie.WithBackend(cfg.Backend),
		movie.WithTuning(cfg.Playback),
		movie.WithCaptions(cfg.Captions),
	}
	if cm != nil {
		opts = append(opts, movie.WithColorMap(cm))
	}
	m, err := movie.Play(loader(cfg, lib), name, mode, opts...)
	if err != nil {
		return err
	}
	defer m.Stop()

	w, h := m.Dimensions()
	slog.Info("reel starting",
		"version", version,
		"clip", name,
		"movie", m.ID(),
		"backend", cfg.Backend,
		"mode", mode,
		"size", fmt.Sprintf("%dx%d", w, h),
		"duration_ms", m.Duration(),
	)

	g, ctx := errgroup.WithContext(ctx)
	playCtx, stopPlayback := context.WithCancel(ctx)
	defer stopPlayback()

	if cfg.Preview.Enabled {
		cert, err := previewCert(cfg.Preview)
		if err != nil {
			return fmt.Errorf("preview certificate: %w", err)
		}
		slog.Info("certificate ready",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		srv, err := preview.NewServer(preview.Config{Addr: cfg.Preview.Addr, Cert: cert})
		if err != nil {
			return err
		}
		srv.SetProvider(m)
		g.Go(func() error {
			return srv.Start(playCtx)
		})
	}

	g.Go(func() error {
		defer stopPlayback()
		return play(ctx, m, cfg, f)
	})

	err = g.Wait()
	st := m.Stats()
	slog.Info("playback finished",
		"position_ms", st.PositionMS,
		"frames", st.LastFrameID,
		"seeks", st.Seeks,
	)
	return err
}

func previewCert(p config.PreviewConfig) (*certs.CertInfo, error) {
	const validity = 14 * 24 * time.Hour
	var hosts []string
	if host, _, err := net.SplitHostPort(p.Addr); err == nil && host != "" {
		hosts = append(hosts, host)
	}
	if p.CertDir == "" {
		return certs.Generate(validity, hosts...)
	}
	return certs.LoadOrGenerate(p.CertDir, validity, hosts...)
}

// play drives the movie from a wall clock until the end of the clip or
// cancellation.
func play(ctx context.Context, m *movie.Movie, cfg *config.Config, f flags) error {
	var audio io.Writer
	if f.audioOut != "" {
		fh, err := os.Create(f.audioOut)
		if err != nil {
			return err
		}
		defer fh.Close()
		audio = fh
	}
	if f.framesDir != "" {
		if err := os.MkdirAll(f.framesDir, 0o755); err != nil {
			return err
		}
	}

	tick := time.Duration(cfg.TickMS) * time.Millisecond
	_, channels := m.AudioFormat()
	var audioBuf []byte

	m.Seek(f.startMS)
	start := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	shown := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pos := f.startMS + time.Since(start).Milliseconds()
		if pos >= m.Duration() {
			return nil
		}
		m.SetPosition(pos)
		if err := m.Update(); err != nil {
			if errors.Is(err, movie.ErrStopped) {
				return nil
			}
			return err
		}

		if m.Image() != nil {
			shown++
			if f.framesDir != "" && f.frameStep > 0 && shown%f.frameStep == 1 {
				if err := writeFrame(f.framesDir, m); err != nil {
					slog.Warn("writing frame", "error", err)
				}
			}
		}
		if audio != nil && channels > 0 {
			// Pull exactly up to the playback position so rounding never
			// accumulates into drift.
			cur := m.AudioPosition()
			if need := timebase.MSToSamples(pos) - cur; cur >= 0 && need > 0 {
				size := int(need) * channels * 2
				if cap(audioBuf) < size {
					audioBuf = make([]byte, size)
				}
				m.CopyAudioSamples(audioBuf[:size])
				if _, err := audio.Write(audioBuf[:size]); err != nil {
					return fmt.Errorf("writing audio: %w", err)
				}
			}
		}
	}
}

func writeFrame(dir string, m *movie.Movie) error {
	snap, ok := m.Snapshot()
	if !ok {
		return nil
	}
	path := filepath.Join(dir, fmt.Sprintf("frame-%08d.png", snap.ID))
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(fh, snap.Image); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
