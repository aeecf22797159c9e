// Package movie drives playback of one in-memory clip. A Movie feeds
// compressed packets to a background decode worker, collects the decoded
// frames into presentation buffers around the host's playback position,
// seeks when the position leaves the buffered range, and keeps the audio
// cursor in step with the video clock.
package movie

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/reel/internal/blob"
	"github.com/zsiec/reel/internal/captions"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/raster"
	"github.com/zsiec/reel/internal/ring"
	"github.com/zsiec/reel/internal/timebase"

	// The built-in backend is always available.
	_ "github.com/zsiec/reel/internal/codec/tscodec"
)

// DefaultBackend is the codec backend used unless WithBackend says otherwise.
const DefaultBackend = "ts"

// unknownPosition marks an audio cursor to be re-derived from the playback
// position.
const unknownPosition = -1

// fallbackFrameRate sizes the video pool when the container reports no
// frame rate.
var fallbackFrameRate = timebase.Rational{Num: 30, Den: 1}

// Source loads clips by name.
type Source interface {
	Load(name string) ([]byte, error)
}

// Movie is a playing clip. Its methods are safe for concurrent use, but
// Update is expected to be called from a single host loop.
type Movie struct {
	mu sync.Mutex

	id       string
	name     string
	log      *slog.Logger
	tuning   Tuning
	c        codec.Container
	conv     timebase.Converter
	videoIdx int
	audioIdx int
	width    int
	height   int
	channels int
	duration int64
	worker   *decode.Worker
	captions *captions.Decoder
	pal      *raster.Palette

	video *ring.Buffer[*decode.VideoFrame]
	// audio is allocated once the worker has sized its audio pool.
	audio *ring.Buffer[*decode.AudioFrame]

	position int64
	audioPos int64
	seeking  bool
	eof      bool
	mode     raster.Mode
	lastID   uint64
	seeks    int
	err      error
	stopped  bool

	// Reused when returning frames to the worker.
	spareVideo []*decode.VideoFrame
	spareAudio []*decode.AudioFrame
}

// Play loads name from src and starts playing it.
func Play(src Source, name string, mode raster.Mode, opts ...Option) (*Movie, error) {
	data, err := src.Load(name)
	if err != nil {
		return nil, fmt.Errorf("movie: loading %q: %w", name, err)
	}
	return open(data, name, mode, opts)
}

// Open starts playing a clip held in memory.
func Open(data []byte, mode raster.Mode, opts ...Option) (*Movie, error) {
	return open(data, "", mode, opts)
}

func open(data []byte, name string, mode raster.Mode, opts []Option) (*Movie, error) {
	o := options{backend: DefaultBackend}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.colorMap == nil {
		o.colorMap = raster.NewColorMap(nil)
	}
	tuning := o.tuning.withDefaults()
	id := uuid.NewString()
	log := o.log.With("component", "movie", "movie", id)
	if name != "" {
		log = log.With("clip", name)
	}

	c, err := codec.Open(o.backend, blob.NewReader(data), log)
	if err != nil {
		return nil, &FatalError{Op: "open container", Err: err}
	}
	m, err := newMovie(c, id, name, mode, tuning, o, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := m.worker.Start(); err != nil {
		m.worker.Close()
		c.Close()
		return nil, &FatalError{Op: "start worker", Err: err}
	}
	log.Info("movie opened",
		"bytes", len(data),
		"backend", o.backend,
		"width", m.width,
		"height", m.height,
		"duration_ms", m.duration,
		"audio", m.audioIdx >= 0,
		"mode", mode)
	return m, nil
}

func newMovie(c codec.Container, id, name string, mode raster.Mode, tuning Tuning, o options, log *slog.Logger) (*Movie, error) {
	videoIdx := c.BestStream(codec.MediaVideo)
	if videoIdx < 0 {
		return nil, &FatalError{Op: "open container", Err: errors.New("no video stream")}
	}
	audioIdx := c.BestStream(codec.MediaAudio)
	streams := c.Streams()
	v := streams[videoIdx]

	m := &Movie{
		id:       id,
		name:     name,
		log:      log,
		tuning:   tuning,
		c:        c,
		videoIdx: videoIdx,
		audioIdx: audioIdx,
		width:    v.Width,
		height:   v.Height,
		duration: timebase.MicrosToMS(c.Duration()),
		mode:     mode,
		pal:      o.colorMap.Palette(),
		conv:     timebase.Converter{Video: v.TimeBase, Audio: timebase.Samples},
	}
	if audioIdx >= 0 {
		a := streams[audioIdx]
		m.conv.Audio = a.TimeBase
		m.channels = a.Channels
	}
	if o.captions {
		m.captions = captions.NewDecoder(log)
	}

	fps := v.FrameRate
	if !fps.Valid() || fps.Num <= 0 {
		log.Warn("container reports no frame rate", "assumed", fallbackFrameRate)
		fps = fallbackFrameRate
	}
	frames := max(int(tuning.BufferMS*fps.Num/(fps.Den*1000)), 2)

	w, err := decode.NewWorker(decode.Config{
		Container:     c,
		VideoStream:   videoIdx,
		AudioStream:   audioIdx,
		Width:         v.Width,
		Height:        v.Height,
		VideoFrames:   frames,
		AudioBufferMS: tuning.BufferMS,
		Packets:       tuning.Packets,
		Mode:          mode,
		ColorMap:      o.colorMap,
		Log:           log,
	})
	if err != nil {
		return nil, err
	}
	m.worker = w
	m.video = ring.New[*decode.VideoFrame](frames)
	return m, nil
}

// ID returns the session id that tags the movie's log lines.
func (m *Movie) ID() string { return m.id }

// Name returns the clip name, empty for clips opened from memory.
func (m *Movie) Name() string { return m.name }

// Stop stops the worker and releases the clip. It is safe to call more
// than once.
func (m *Movie) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	err := errors.Join(m.worker.Close(), m.c.Close())
	m.log.Info("movie stopped", "position_ms", m.position, "seeks", m.seeks)
	return err
}

// SetPosition moves the playback clock to ms. An unknown audio cursor is
// re-derived from it.
func (m *Movie) SetPosition(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setPosition(ms)
}

// Seek is SetPosition; the next Update decides whether the container has
// to seek.
func (m *Movie) Seek(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setPosition(ms)
}

func (m *Movie) setPosition(ms int64) {
	m.position = ms
	if m.audioPos == unknownPosition {
		m.audioPos = timebase.MSToSamples(ms)
	}
}

// Position returns the playback clock in milliseconds.
func (m *Movie) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Update runs one host tick: it feeds packets to the worker, collects
// decoded frames, seeks if needed and evicts frames behind the position.
// A non-nil error is fatal and the movie should be stopped.
func (m *Movie) Update() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.err != nil {
		return m.err
	}
	if err := m.worker.Err(); err != nil {
		return m.fail(&FatalError{Op: "decode", Err: err})
	}
	if err := m.readPackets(); err != nil {
		return m.fail(err)
	}
	m.pollFrames()
	if err := m.updateSeeking(); err != nil {
		return m.fail(err)
	}
	if m.video.Len() > 0 {
		m.evictVideo()
		m.evictAudio()
	}
	if m.captions != nil {
		m.captions.Prune(m.position)
	}
	return nil
}

func (m *Movie) fail(err error) error {
	m.err = err
	m.log.Error("playback failed", "error", err, "position_ms", m.position)
	return err
}

// readPackets fills every free packet from the container. Packets of
// untracked streams go straight back to the pool.
func (m *Movie) readPackets() error {
	for !m.eof {
		p, ok := m.worker.ClaimPacket()
		if !ok {
			return nil
		}
		err := m.c.ReadPacket(p)
		if errors.Is(err, io.EOF) {
			m.worker.ReturnPacket(p)
			m.eof = true
			m.log.Debug("end of container")
			return nil
		}
		if err != nil {
			m.worker.ReturnPacket(p)
			return &FatalError{Op: "read packet", Err: err}
		}

		idx := p.StreamIndex()
		if idx != m.videoIdx && idx != m.audioIdx {
			m.worker.ReturnPacket(p)
			continue
		}
		if idx == m.videoIdx && m.captions != nil {
			if sc, ok := p.(codec.SEICarrier); ok {
				if sei := sc.SEI(); len(sei) > 0 {
					m.captions.Feed(m.conv.VideoToMS(p.PTS()), sei)
				}
			}
		}
		m.worker.QueuePacket(p)
	}
	return nil
}

// pollFrames moves decoded frames into the presentation buffers and places
// new audio frames on the sample timeline.
func (m *Movie) pollFrames() {
	if m.worker.Flushing() {
		return
	}
	m.worker.DrainVideo(m.video)

	if m.audio == nil {
		n := m.worker.AudioCapacity()
		if n == 0 {
			return
		}
		m.audio = ring.New[*decode.AudioFrame](n)
	}
	from := m.audio.Len()
	m.worker.DrainAudio(m.audio)
	for i := from; i < m.audio.Len(); i++ {
		f := m.audio.At(i)
		if i > 0 {
			f.FirstSample = m.audio.At(i - 1).EndSample()
		} else {
			f.FirstSample = m.conv.AudioToSamples(f.PTS)
		}
	}
}

// seekSettled reports whether a pending seek is over: the newest frame
// covers the position plus lookahead, or is so far off that the seek is
// taken to have failed.
func seekSettled(positionMS, newestEndMS int64, t Tuning) bool {
	dist := positionMS + t.LookaheadMS - newestEndMS
	return dist <= 0 || dist > t.MaxSeekDistanceMS
}

func (m *Movie) updateSeeking() error {
	if m.seeking && m.video.Len() > 0 {
		if seekSettled(m.position, m.conv.VideoToMS(m.video.Back().End()), m.tuning) {
			m.seeking = false
			m.log.Debug("seek settled", "position_ms", m.position)
		}
	}

	if !m.inVideoBuffer(m.conv.MSToVideo(m.position)) &&
		!m.seeking && m.video.Len() > 0 && !m.worker.Flushing() {
		if err := m.seek(); err != nil {
			return err
		}
	}

	if m.audioPos != unknownPosition {
		desync := timebase.SamplesToMS(m.audioPos) - m.position
		if desync < 0 {
			desync = -desync
		}
		if desync > m.tuning.MaxDesyncMS {
			m.log.Debug("audio desync", "desync_ms", desync, "position_ms", m.position)
			m.audioPos = unknownPosition
		}
	}
	return nil
}

func (m *Movie) inVideoBuffer(pts int64) bool {
	if m.video.Len() == 0 {
		return false
	}
	return m.video.Peek().PTS <= pts && pts < m.video.Back().End()
}

// seek drops every buffered frame, repositions the container near the
// playback position and has the worker flush. A container that cannot seek
// is fatal.
func (m *Movie) seek() error {
	m.seeking = true
	m.seeks++
	m.clearAll()

	minTS := m.conv.MSToVideo(max(m.position-m.tuning.SeekWindowMS, 0))
	ts := m.conv.MSToVideo(m.position)
	if err := m.c.Seek(m.videoIdx, minTS, ts, ts); err != nil {
		return &FatalError{Op: fmt.Sprintf("seek to %dms", m.position), Err: err}
	}
	m.eof = false
	m.log.Info("seek", "position_ms", m.position)
	if m.captions != nil {
		m.captions.Reset()
	}
	m.worker.RequestFlush()
	return nil
}

func (m *Movie) clearAll() {
	m.recycleVideo(m.video.Len())
	if m.audio != nil {
		m.recycleAudio(m.audio.Len())
	}
}

func (m *Movie) recycleVideo(n int) {
	if n == 0 {
		return
	}
	m.spareVideo = m.spareVideo[:0]
	for range n {
		m.spareVideo = append(m.spareVideo, m.video.Pop())
	}
	m.worker.RecycleVideo(m.spareVideo...)
	clear(m.spareVideo)
}

func (m *Movie) recycleAudio(n int) {
	if n == 0 {
		return
	}
	m.spareAudio = m.spareAudio[:0]
	for range n {
		m.spareAudio = append(m.spareAudio, m.audio.Pop())
	}
	m.worker.RecycleAudio(m.spareAudio...)
	clear(m.spareAudio)
}

// evictVideo returns frames starting before half the buffer window behind
// the position.
func (m *Movie) evictVideo() {
	limit := m.conv.MSToVideo(m.position - m.tuning.BufferMS/2)
	n := 0
	for n < m.video.Len() && m.video.At(n).PTS < limit {
		n++
	}
	m.recycleVideo(n)
}

func (m *Movie) evictAudio() {
	if m.audio == nil {
		return
	}
	limit := max(m.conv.MSToAudio(m.position-m.tuning.BufferMS/2), 0)
	n := 0
	for n < m.audio.Len() && m.audioEndPTS(m.audio.At(n)) < limit {
		n++
	}
	m.recycleAudio(n)
}

func (m *Movie) audioEndPTS(f *decode.AudioFrame) int64 {
	return f.PTS + timebase.Rescale(int64(f.NumSamples), timebase.Samples, m.conv.Audio)
}

// currentFrame returns the newest buffered frame starting at or before the
// position.
func (m *Movie) currentFrame() *decode.VideoFrame {
	pts := m.conv.MSToVideo(m.position)
	for i := m.video.Len() - 1; i >= 0; i-- {
		if f := m.video.At(i); f.PTS <= pts {
			return f
		}
	}
	return nil
}

// Image returns the raster bytes of the frame for the current position,
// or nil if there is none or it was already returned. The bytes stay valid
// until the next Update.
func (m *Movie) Image() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.currentFrame()
	if f == nil || f.ID == m.lastID {
		return nil
	}
	m.lastID = f.ID
	return f.Image.Bytes()
}

// Snapshot is a copy of the frame showing at the playback position.
type Snapshot struct {
	ID    uint64
	PTSMS int64
	Image image.Image
}

// Snapshot copies the current frame without marking it delivered.
func (m *Movie) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.currentFrame()
	if f == nil {
		return Snapshot{}, false
	}
	s := Snapshot{ID: f.ID, PTSMS: m.conv.VideoToMS(f.PTS)}
	switch img := f.Image.(type) {
	case *raster.RGBA:
		cp := image.NewRGBA(img.Rect)
		copy(cp.Pix, img.Pix)
		s.Image = cp
	case *raster.PatchImage:
		p, err := img.Paletted(m.pal)
		if err != nil {
			m.log.Warn("snapshot of malformed patch", "id", f.ID, "error", err)
			return Snapshot{}, false
		}
		s.Image = p
	default:
		return Snapshot{}, false
	}
	return s, true
}

// CopyAudioSamples fills dst with interleaved little-endian 16-bit samples
// from the audio cursor on and advances the cursor by the whole request.
// Samples that are not buffered are written as silence. It returns the
// number of sample frames taken from decoded audio, and 0 without moving
// the cursor while it is unknown.
func (m *Movie) CopyAudioSamples(dst []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audioIdx < 0 || m.channels <= 0 || m.audioPos == unknownPosition {
		return 0
	}
	frameBytes := 2 * m.channels
	n := int64(len(dst) / frameBytes)
	dst = dst[:n*int64(frameBytes)]
	clear(dst)

	start, end := m.audioPos, m.audioPos+n
	copied := 0
	for i := 0; m.audio != nil && i < m.audio.Len(); i++ {
		f := m.audio.At(i)
		if f.EndSample() <= start {
			continue
		}
		if f.FirstSample >= end {
			break
		}
		lo, hi := max(start, f.FirstSample), min(end, f.EndSample())
		chans := min(f.Channels, m.channels)
		for s := lo; s < hi; s++ {
			src := f.Samples[int(s-f.FirstSample)*f.Channels:]
			out := dst[int(s-start)*frameBytes:]
			for c := range chans {
				v := uint16(src[c])
				out[2*c] = byte(v)
				out[2*c+1] = byte(v >> 8)
			}
		}
		copied += int(hi - lo)
	}
	m.audioPos = end
	return copied
}

// AudioPosition returns the audio cursor as a sample index, or -1 while it
// is waiting to be re-derived from the playback position.
func (m *Movie) AudioPosition() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioPos
}

// AudioFormat returns the output sample rate and channel count. Clips
// without audio report zero channels.
func (m *Movie) AudioFormat() (rate, channels int) {
	return timebase.SampleRate, m.channels
}

// SetImageFormat switches the raster format of delivered frames. The
// worker is stopped while its frames are reallocated, every buffered frame
// is dropped and decoding restarts at the playback position.
func (m *Movie) SetImageFormat(mode raster.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.err != nil {
		return m.err
	}
	if mode == m.mode {
		return nil
	}
	m.worker.Stop()
	m.clearAll()
	if err := m.worker.SetMode(mode); err != nil {
		return m.fail(&FatalError{Op: "set image format", Err: err})
	}
	if err := m.worker.Start(); err != nil {
		return m.fail(&FatalError{Op: "set image format", Err: err})
	}
	m.mode = mode
	m.log.Info("image format changed", "mode", mode)
	// Frames decoded so far are gone; decode again from the position.
	if err := m.seek(); err != nil {
		return m.fail(err)
	}
	return nil
}

// ImageFormat returns the raster format of delivered frames.
func (m *Movie) ImageFormat() raster.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Duration returns the clip length in milliseconds.
func (m *Movie) Duration() int64 { return m.duration }

// Dimensions returns the video size in pixels.
func (m *Movie) Dimensions() (width, height int) { return m.width, m.height }

// PatchBytes returns the size of a frame in patch format.
func (m *Movie) PatchBytes() int { return raster.PatchBytes(m.width, m.height) }

// Caption returns the closed caption showing at the playback position.
// It reports false when captions are disabled or none is showing.
func (m *Movie) Caption() (captions.Cue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.captions == nil {
		return captions.Cue{}, false
	}
	return m.captions.At(m.position)
}

// Stats is a point-in-time view of a movie.
type Stats struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	Mode          string       `json:"mode"`
	PositionMS    int64        `json:"position_ms"`
	AudioPosition int64        `json:"audio_position"`
	DurationMS    int64        `json:"duration_ms"`
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	Seeking       bool         `json:"seeking"`
	Seeks         int          `json:"seeks"`
	EOF           bool         `json:"eof"`
	LastFrameID   uint64       `json:"last_frame_id"`
	VideoFrames   int          `json:"video_frames"`
	VideoStartMS  int64        `json:"video_start_ms"`
	VideoEndMS    int64        `json:"video_end_ms"`
	AudioFrames   int          `json:"audio_frames"`
	AudioStart    int64        `json:"audio_start"`
	AudioEnd      int64        `json:"audio_end"`
	Worker        decode.Stats `json:"worker"`
	Err           string       `json:"error,omitempty"`
}

// Stats returns a snapshot of the movie's buffers and counters.
func (m *Movie) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		ID:            m.id,
		Name:          m.name,
		Mode:          m.mode.String(),
		PositionMS:    m.position,
		AudioPosition: m.audioPos,
		DurationMS:    m.duration,
		Width:         m.width,
		Height:        m.height,
		Seeking:       m.seeking,
		Seeks:         m.seeks,
		EOF:           m.eof,
		LastFrameID:   m.lastID,
		VideoFrames:   m.video.Len(),
		Worker:        m.worker.Stats(),
	}
	if m.video.Len() > 0 {
		s.VideoStartMS = m.conv.VideoToMS(m.video.Peek().PTS)
		s.VideoEndMS = m.conv.VideoToMS(m.video.Back().End())
	}
	if m.audio != nil && m.audio.Len() > 0 {
		s.AudioFrames = m.audio.Len()
		s.AudioStart = m.audio.Peek().FirstSample
		s.AudioEnd = m.audio.Back().EndSample()
	}
	if m.err != nil {
		s.Err = m.err.Error()
	}
	return s
}
