// Command reelgen writes synthetic test clips and palette files.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/reel/internal/codec/tscodec"
	"github.com/zsiec/reel/internal/raster"
	"github.com/zsiec/reel/internal/synth"
)

// cueList collects repeated -caption flags of the form "start-end:text",
// with start and end as Go durations.
type cueList []synth.Cue

func (c *cueList) String() string { return fmt.Sprint(len(*c), " cues") }

func (c *cueList) Set(v string) error {
	span, text, ok := strings.Cut(v, ":")
	if !ok || text == "" {
		return fmt.Errorf("caption %q: want start-end:text", v)
	}
	from, to, ok := strings.Cut(span, "-")
	if !ok {
		return fmt.Errorf("caption %q: want start-end:text", v)
	}
	start, err := time.ParseDuration(from)
	if err != nil {
		return fmt.Errorf("caption start: %w", err)
	}
	end, err := time.ParseDuration(to)
	if err != nil {
		return fmt.Errorf("caption end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("caption %q ends before it starts", v)
	}
	*c = append(*c, synth.Cue{Start: start, End: end, Text: text})
	return nil
}

func parseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", s)
	}
	if w, err = strconv.Atoi(ws); err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	if h, err = strconv.Atoi(hs); err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q must be positive", s)
	}
	return w, h, nil
}

func parseRate(s string) (num, den int, err error) {
	ns, ds, ok := strings.Cut(s, "/")
	if !ok {
		ds = "1"
	}
	if num, err = strconv.Atoi(ns); err != nil {
		return 0, 0, fmt.Errorf("rate %q: %w", s, err)
	}
	if den, err = strconv.Atoi(ds); err != nil {
		return 0, 0, fmt.Errorf("rate %q: %w", s, err)
	}
	if num <= 0 || den <= 0 {
		return 0, 0, fmt.Errorf("rate %q must be positive", s)
	}
	return num, den, nil
}

func parseFormat(s string) (tscodec.PixelFormat, error) {
	switch strings.ToLower(s) {
	case "i420", "yuv420p":
		return tscodec.PixelI420, nil
	case "rgb24":
		return tscodec.PixelRGB24, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q", s)
	}
}

func main() {
	var (
		out        = flag.String("o", "clip.ts", "output file")
		duration   = flag.Duration("duration", 10*time.Second, "clip length")
		size       = flag.String("size", "64x36", "frame size WxH")
		rate       = flag.String("fps", "30/1", "frame rate num[/den]")
		format     = flag.String("format", "i420", "pixel format: i420 or rgb24")
		noAudio    = flag.Bool("no-audio", false, "omit the audio stream")
		sampleRate = flag.Int("sample-rate", 48000, "audio sample rate")
		channels   = flag.Int("channels", 2, "audio channels")
		palette    = flag.String("palette", "", "also write the default palette to this file")
		cues       cueList
	)
	flag.Var(&cues, "caption", "caption cue start-end:text, e.g. 1s-3s:HELLO (repeatable)")
	flag.Parse()

	o := synth.Options{
		Duration:   *duration,
		NoAudio:    *noAudio,
		SampleRate: *sampleRate,
		Channels:   *channels,
		Captions:   cues,
	}
	var err error
	if o.Width, o.Height, err = parseSize(*size); err != nil {
		fatal(err)
	}
	if o.FrameRateNum, o.FrameRateDen, err = parseRate(*rate); err != nil {
		fatal(err)
	}
	if o.Format, err = parseFormat(*format); err != nil {
		fatal(err)
	}

	fh, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	if err := synth.Write(fh, o); err != nil {
		fh.Close()
		fatal(err)
	}
	if err := fh.Close(); err != nil {
		fatal(err)
	}
	slog.Info("clip written", "path", *out, "frames", o.Frames(), "size", *size, "fps", *rate, "audio", !*noAudio, "captions", len(cues))

	if *palette != "" {
		pf, err := os.Create(*palette)
		if err != nil {
			fatal(err)
		}
		if _, err := raster.DefaultPalette().WriteTo(pf); err != nil {
			pf.Close()
			fatal(err)
		}
		if err := pf.Close(); err != nil {
			fatal(err)
		}
		slog.Info("palette written", "path", *palette)
	}
}

func fatal(err error) {
	slog.Error("reelgen failed", "error", err)
	os.Exit(1)
}
