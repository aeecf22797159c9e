//go:build libav

// Package libav is the FFmpeg codec backend, built with the libav tag. It
// reads any container FFmpeg can demux through a custom IO context and
// registers itself as "libav".
package libav

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/timebase"
)

// Name is the backend name registered with package codec.
const Name = "libav"

const ioBufferSize = 32 << 10

func init() {
	codec.Register(Name, Open)
}

// Container wraps an FFmpeg format context reading from an io.ReadSeeker.
type Container struct {
	log     *slog.Logger
	r       io.ReadSeeker
	ioc     *astiav.IOContext
	fc      *astiav.FormatContext
	streams []codec.StreamInfo
}

// Open probes r with FFmpeg.
func Open(r io.ReadSeeker, log *slog.Logger) (codec.Container, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Container{log: log.With("component", "libav"), r: r}

	ioc, err := astiav.AllocIOContext(ioBufferSize, false, c.read, c.seek, nil)
	if err != nil {
		return nil, fmt.Errorf("libav: allocating io context: %w", err)
	}
	c.ioc = ioc

	c.fc = astiav.AllocFormatContext()
	if c.fc == nil {
		c.ioc.Free()
		return nil, errors.New("libav: allocating format context failed")
	}
	c.fc.SetPb(c.ioc)
	c.fc.SetFlags(c.fc.Flags().Add(astiav.FormatContextFlagCustomIo))

	if err := c.fc.OpenInput("", nil, nil); err != nil {
		c.fc.Free()
		c.ioc.Free()
		return nil, fmt.Errorf("libav: opening input: %w", err)
	}
	if err := c.fc.FindStreamInfo(nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("libav: finding stream info: %w", err)
	}

	for _, s := range c.fc.Streams() {
		c.streams = append(c.streams, streamInfo(s))
	}
	c.log.Debug("opened", "streams", len(c.streams), "duration_us", c.fc.Duration())
	return c, nil
}

func (c *Container) read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, astiav.ErrEof
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}

// avseekSize is AVSEEK_SIZE: report the stream size instead of seeking.
const avseekSize = 0x10000

func (c *Container) seek(offset int64, whence int) (int64, error) {
	if whence&avseekSize != 0 {
		cur, err := c.r.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := c.r.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := c.r.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return end, nil
	}
	return c.r.Seek(offset, whence&^avseekSize)
}

func rational(r astiav.Rational) timebase.Rational {
	return timebase.Rational{Num: int64(r.Num()), Den: int64(r.Den())}
}

func streamInfo(s *astiav.Stream) codec.StreamInfo {
	par := s.CodecParameters()
	info := codec.StreamInfo{
		Index:    s.Index(),
		Codec:    par.CodecID().Name(),
		TimeBase: rational(s.TimeBase()),
	}
	switch par.MediaType() {
	case astiav.MediaTypeVideo:
		info.Type = codec.MediaVideo
		info.Width = par.Width()
		info.Height = par.Height()
		info.FrameRate = rational(s.AvgFrameRate())
	case astiav.MediaTypeAudio:
		info.Type = codec.MediaAudio
		info.SampleRate = par.SampleRate()
		info.Channels = par.ChannelLayout().Channels()
	case astiav.MediaTypeData, astiav.MediaTypeSubtitle:
		info.Type = codec.MediaData
	}
	return info
}

func (c *Container) Streams() []codec.StreamInfo { return c.streams }

func (c *Container) BestStream(t codec.MediaType) int {
	for _, s := range c.streams {
		if s.Type == t {
			return s.Index
		}
	}
	return -1
}

func (c *Container) Duration() int64 { return c.fc.Duration() }

type packet struct {
	pkt  *astiav.Packet
	h264 func(int) bool
}

func (p *packet) StreamIndex() int { return p.pkt.StreamIndex() }
func (p *packet) PTS() int64       { return p.pkt.Pts() }
func (p *packet) Data() []byte     { return p.pkt.Data() }
func (p *packet) Unref()           { p.pkt.Unref() }

// SEI returns the Annex-B payload of H.264 packets; the caption decoder
// picks out the SEI units itself.
func (p *packet) SEI() []byte {
	if !p.h264(p.pkt.StreamIndex()) {
		return nil
	}
	return p.pkt.Data()
}

func (c *Container) isH264(idx int) bool {
	return idx >= 0 && idx < len(c.streams) && c.streams[idx].Codec == "h264"
}

func (c *Container) NewPacket() codec.Packet {
	return &packet{pkt: astiav.AllocPacket(), h264: c.isH264}
}

func (c *Container) ReadPacket(cp codec.Packet) error {
	p, ok := cp.(*packet)
	if !ok {
		return fmt.Errorf("libav: foreign packet %T", cp)
	}
	p.pkt.Unref()
	if err := c.fc.ReadFrame(p.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return io.EOF
		}
		return fmt.Errorf("libav: reading packet: %w", err)
	}
	return nil
}

func (c *Container) Seek(idx int, minTS, ts, maxTS int64) error {
	if err := c.fc.SeekFile(idx, minTS, ts, maxTS, astiav.NewSeekFlags()); err != nil {
		return fmt.Errorf("libav: seeking stream %d to %d: %w", idx, ts, err)
	}
	return nil
}

func (c *Container) openCodec(idx int, want codec.MediaType) (*astiav.CodecContext, error) {
	if idx < 0 || idx >= len(c.streams) || c.streams[idx].Type != want {
		return nil, fmt.Errorf("libav: stream %d is not %v", idx, want)
	}
	par := c.fc.Streams()[idx].CodecParameters()
	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		return nil, fmt.Errorf("libav: no decoder for %s", par.CodecID().Name())
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return nil, errors.New("libav: allocating codec context failed")
	}
	if err := par.ToCodecContext(ctx); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("libav: copying codec parameters: %w", err)
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("libav: opening %s decoder: %w", dec.Name(), err)
	}
	return ctx, nil
}

func (c *Container) NewVideoDecoder(idx int) (codec.VideoDecoder, error) {
	ctx, err := c.openCodec(idx, codec.MediaVideo)
	if err != nil {
		return nil, err
	}
	return newVideoDecoder(ctx, c.streams[idx]), nil
}

func (c *Container) NewAudioDecoder(idx int) (codec.AudioDecoder, error) {
	ctx, err := c.openCodec(idx, codec.MediaAudio)
	if err != nil {
		return nil, err
	}
	return newAudioDecoder(ctx), nil
}

func (c *Container) Close() error {
	if c.fc != nil {
		c.fc.CloseInput()
		c.fc.Free()
		c.fc = nil
	}
	if c.ioc != nil {
		c.ioc.Free()
		c.ioc = nil
	}
	return nil
}

// mapErr translates FFmpeg's EAGAIN and EOF into the codec sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return codec.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return codec.ErrEOF
	default:
		return err
	}
}
