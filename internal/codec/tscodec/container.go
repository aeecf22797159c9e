// Package tscodec is the pure-Go codec backend. It reads MPEG transport
// streams holding raw video and PCM audio and registers itself as "ts".
package tscodec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/mpegts"
	"github.com/zsiec/reel/internal/timebase"
)

// Name is the backend name registered with package codec.
const Name = "ts"

func init() {
	codec.Register(Name, Open)
}

// ClockRate is the 90 kHz transport stream clock all streams are timed in.
var ClockRate = timebase.Rational{Num: 1, Den: 90000}

// ErrSeekRange is returned when no indexed unit falls in the seek window.
var ErrSeekRange = errors.New("tscodec: no seek point in range")

var codecNames = map[uint8]string{
	mpegts.StreamTypeH264:     "h264",
	mpegts.StreamTypeH265:     "hevc",
	mpegts.StreamTypeAAC:      "aac",
	mpegts.StreamTypeRawVideo: "rawvideo",
	mpegts.StreamTypePCM:      "pcm_s16le",
}

// indexEntry locates one PES unit.
type indexEntry struct {
	offset int64
	pts    int64
}

type stream struct {
	info       codec.StreamInfo
	pid        uint16
	streamType uint8
	index      []indexEntry
	// unit is the duration of the last unit, used for the clip duration.
	unit int64
}

// Container reads an indexed transport stream.
type Container struct {
	log     *slog.Logger
	r       io.ReadSeeker
	dmx     *mpegts.Demuxer
	pmtPID  uint16
	streams []*stream
	byPID   map[uint16]*stream
	dur     int64
}

// Open scans r once to discover streams, probe their formats and build a
// seek index, then rewinds for reading.
func Open(r io.ReadSeeker, log *slog.Logger) (codec.Container, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Container{
		log:   log.With("component", "tscodec"),
		r:     r,
		byPID: make(map[uint16]*stream),
	}
	if err := c.probe(); err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tscodec: rewinding: %w", err)
	}
	c.dmx = mpegts.NewDemuxer(r, mpegts.DemuxerOptPMTPID(c.pmtPID))
	return c, nil
}

func (c *Container) probe() error {
	dmx := mpegts.NewDemuxer(c.r)
	for {
		d, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tscodec: probing: %w", err)
		}
		switch {
		case d.PAT != nil && len(d.PAT.Programs) > 0 && c.pmtPID == 0:
			c.pmtPID = d.PAT.Programs[0].ProgramMapID
		case d.PMT != nil && len(c.streams) == 0:
			for _, es := range d.PMT.ElementaryStreams {
				s := &stream{pid: es.ElementaryPID, streamType: es.StreamType}
				s.info = codec.StreamInfo{
					Index:    len(c.streams),
					Type:     mediaType(es.StreamType),
					Codec:    codecNames[es.StreamType],
					TimeBase: ClockRate,
				}
				c.streams = append(c.streams, s)
				c.byPID[s.pid] = s
			}
		case d.PES != nil:
			s := c.byPID[d.PID()]
			if s == nil {
				continue
			}
			pts, ok := d.PES.PTS()
			if !ok {
				continue
			}
			if len(s.index) == 0 {
				if err := s.probeFormat(d.PES.Data); err != nil {
					return err
				}
			}
			s.index = append(s.index, indexEntry{offset: d.Offset(), pts: pts})
			s.unit = s.unitDuration(d.PES.Data)
		}
	}
	if len(c.streams) == 0 {
		return errors.New("tscodec: no program map found")
	}

	for _, s := range c.streams {
		if len(s.index) == 0 {
			continue
		}
		sort.SliceStable(s.index, func(i, j int) bool { return s.index[i].pts < s.index[j].pts })
		end := s.index[len(s.index)-1].pts + s.unit - s.index[0].pts
		c.dur = max(c.dur, timebase.Rescale(end, ClockRate, timebase.Micros))
		c.log.Debug("stream indexed", "index", s.info.Index, "type", s.info.Type,
			"codec", s.info.Codec, "units", len(s.index))
	}
	return nil
}

func mediaType(st uint8) codec.MediaType {
	switch st {
	case mpegts.StreamTypeH264, mpegts.StreamTypeH265, mpegts.StreamTypeRawVideo:
		return codec.MediaVideo
	case mpegts.StreamTypeAAC, mpegts.StreamTypePCM:
		return codec.MediaAudio
	default:
		return codec.MediaData
	}
}

func (s *stream) probeFormat(payload []byte) error {
	switch s.streamType {
	case mpegts.StreamTypeRawVideo:
		h, _, _, err := ParseVideo(payload)
		if err != nil {
			return fmt.Errorf("tscodec: probing stream %d: %w", s.info.Index, err)
		}
		s.info.Width, s.info.Height = h.Width, h.Height
		s.info.FrameRate = timebase.Rational{Num: int64(h.FrameRateNum), Den: int64(h.FrameRateDen)}
	case mpegts.StreamTypePCM:
		h, _, err := ParseAudio(payload)
		if err != nil {
			return fmt.Errorf("tscodec: probing stream %d: %w", s.info.Index, err)
		}
		s.info.SampleRate, s.info.Channels = h.SampleRate, h.Channels
	}
	return nil
}

func (s *stream) unitDuration(payload []byte) int64 {
	switch s.streamType {
	case mpegts.StreamTypeRawVideo:
		if h, _, _, err := ParseVideo(payload); err == nil {
			return frameDuration(h.FrameRateNum, h.FrameRateDen)
		}
	case mpegts.StreamTypePCM:
		if h, data, err := ParseAudio(payload); err == nil {
			n := int64(len(data) / (2 * h.Channels))
			return timebase.Rescale(n, timebase.Rational{Num: 1, Den: int64(h.SampleRate)}, ClockRate)
		}
	}
	return 0
}

func frameDuration(num, den int) int64 {
	return timebase.Rescale(1, timebase.Rational{Num: int64(den), Den: int64(num)}, ClockRate)
}

func (c *Container) Streams() []codec.StreamInfo {
	out := make([]codec.StreamInfo, len(c.streams))
	for i, s := range c.streams {
		out[i] = s.info
	}
	return out
}

func (c *Container) BestStream(t codec.MediaType) int {
	for _, s := range c.streams {
		if s.info.Type == t && len(s.index) > 0 {
			return s.info.Index
		}
	}
	return -1
}

func (c *Container) Duration() int64 { return c.dur }

// packet is the container's reusable packet.
type packet struct {
	stream int
	pts    int64
	data   []byte
	sei    []byte
}

func (p *packet) StreamIndex() int { return p.stream }
func (p *packet) PTS() int64       { return p.pts }
func (p *packet) Data() []byte     { return p.data }
func (p *packet) SEI() []byte      { return p.sei }

func (p *packet) Unref() {
	p.stream = -1
	p.pts = 0
	p.data = nil
	p.sei = nil
}

func (c *Container) NewPacket() codec.Packet {
	return &packet{stream: -1}
}

func (c *Container) ReadPacket(cp codec.Packet) error {
	pkt, ok := cp.(*packet)
	if !ok {
		return fmt.Errorf("tscodec: foreign packet type %T", cp)
	}
	for {
		d, err := c.dmx.NextData()
		if err != nil {
			return err
		}
		if d.PES == nil {
			continue
		}
		s := c.byPID[d.PID()]
		if s == nil {
			continue
		}
		pts, ok := d.PES.PTS()
		if !ok {
			c.log.Warn("dropping unit without pts", "pid", d.PID(), "offset", d.Offset())
			continue
		}
		pkt.stream = s.info.Index
		pkt.pts = pts
		pkt.data = d.PES.Data
		pkt.sei = nil
		switch s.streamType {
		case mpegts.StreamTypeRawVideo:
			if _, sei, _, err := ParseVideo(pkt.data); err == nil {
				pkt.sei = sei
			}
		case mpegts.StreamTypeH264:
			pkt.sei = pkt.data
		}
		return nil
	}
}

func (c *Container) Seek(idx int, minTS, ts, maxTS int64) error {
	if idx < 0 || idx >= len(c.streams) {
		return fmt.Errorf("tscodec: seek on invalid stream %d", idx)
	}
	entries := c.streams[idx].index
	// Last unit at or before ts.
	i := sort.Search(len(entries), func(i int) bool { return entries[i].pts > ts }) - 1
	if i < 0 || entries[i].pts < minTS {
		// Otherwise the first unit inside the window.
		i = sort.Search(len(entries), func(i int) bool { return entries[i].pts >= minTS })
		if i >= len(entries) || entries[i].pts > maxTS {
			return fmt.Errorf("%w: stream %d [%d, %d]", ErrSeekRange, idx, minTS, maxTS)
		}
	}
	off := entries[i].offset
	if _, err := c.r.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("tscodec: seeking to %d: %w", off, err)
	}
	c.dmx = mpegts.NewDemuxer(c.r, mpegts.DemuxerOptStartOffset(off), mpegts.DemuxerOptPMTPID(c.pmtPID))
	c.log.Debug("seek", "stream", idx, "target", ts, "pts", entries[i].pts, "offset", off)
	return nil
}

func (c *Container) NewVideoDecoder(idx int) (codec.VideoDecoder, error) {
	if idx < 0 || idx >= len(c.streams) {
		return nil, fmt.Errorf("tscodec: invalid stream %d", idx)
	}
	s := c.streams[idx]
	if s.streamType != mpegts.StreamTypeRawVideo {
		return nil, fmt.Errorf("tscodec: no decoder for %s", s.info.Codec)
	}
	return newVideoDecoder(s.info), nil
}

func (c *Container) NewAudioDecoder(idx int) (codec.AudioDecoder, error) {
	if idx < 0 || idx >= len(c.streams) {
		return nil, fmt.Errorf("tscodec: invalid stream %d", idx)
	}
	s := c.streams[idx]
	if s.streamType != mpegts.StreamTypePCM {
		return nil, fmt.Errorf("tscodec: no decoder for %s", s.info.Codec)
	}
	return newAudioDecoder(s.info), nil
}

func (c *Container) Close() error {
	c.dmx = nil
	return nil
}
