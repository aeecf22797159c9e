package decode

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/raster"
	"github.com/zsiec/reel/internal/ring"
	"github.com/zsiec/reel/internal/timebase"
)

// State is the worker's current activity.
type State int

const (
	StateStopped State = iota
	StateIdle
	StateDecoding
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config describes the streams a worker decodes and how it sizes its pools.
type Config struct {
	Container   codec.Container
	VideoStream int
	// AudioStream is -1 when the clip has no audio.
	AudioStream int
	Width       int
	Height      int
	// VideoFrames is the capacity of the video frame pool.
	VideoFrames int
	// AudioBufferMS sizes the audio pool once the first frame reveals the
	// decoder's frame size.
	AudioBufferMS int64
	Packets       int
	Mode          raster.Mode
	ColorMap      *raster.ColorMap
	Log           *slog.Logger
}

// Worker owns the decoders and runs the decode goroutine. All shared state
// below mu is the monitor both goroutines synchronize on; every foreground
// operation is a single short critical section.
type Worker struct {
	log         *slog.Logger
	vdec        codec.VideoDecoder
	adec        codec.AudioDecoder
	videoStream int
	audioStream int
	width       int
	height      int
	cm          *raster.ColorMap
	scratch     *image.RGBA
	audioMS     int64
	warnedSz    bool

	// Owned by the worker goroutine.
	nextID uint64

	mu          sync.Mutex
	cond        *sync.Cond
	packetPool  *ring.Buffer[codec.Packet]
	packetQueue *ring.Buffer[codec.Packet]
	videoPool   *ring.Buffer[*VideoFrame]
	videoQueue  *ring.Buffer[*VideoFrame]
	audioPool   *ring.Buffer[*AudioFrame]
	audioQueue  *ring.Buffer[*AudioFrame]
	mode        raster.Mode
	state       State
	stopping    bool
	flushing    bool
	err         error
	done        chan struct{}
	videoOut    uint64
	audioOut    uint64
}

// NewWorker opens the decoders and allocates every pool except audio.
func NewWorker(cfg Config) (*Worker, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Container == nil {
		return nil, errors.New("decode: nil container")
	}
	if cfg.VideoFrames < 1 || cfg.Packets < 1 {
		return nil, fmt.Errorf("decode: invalid pool sizes: %d frames, %d packets", cfg.VideoFrames, cfg.Packets)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	cm := cfg.ColorMap
	if cm == nil {
		cm = raster.NewColorMap(nil)
	}

	w := &Worker{
		log:         log.With("component", "decode"),
		videoStream: cfg.VideoStream,
		audioStream: cfg.AudioStream,
		width:       cfg.Width,
		height:      cfg.Height,
		cm:          cm,
		audioMS:     cfg.AudioBufferMS,
		mode:        cfg.Mode,
	}
	w.cond = sync.NewCond(&w.mu)

	vdec, err := cfg.Container.NewVideoDecoder(cfg.VideoStream)
	if err != nil {
		return nil, &FatalError{Op: "open video decoder", Err: err}
	}
	w.vdec = vdec
	if cfg.AudioStream < 0 {
		w.audioStream = -1
	} else {
		adec, err := cfg.Container.NewAudioDecoder(cfg.AudioStream)
		if err != nil {
			vdec.Close()
			return nil, &FatalError{Op: "open audio decoder", Err: err}
		}
		w.adec = adec
	}

	w.packetPool = ring.New[codec.Packet](cfg.Packets)
	for range cfg.Packets {
		w.packetPool.Push(cfg.Container.NewPacket())
	}
	w.packetQueue = w.packetPool.Clone()

	w.videoPool = ring.New[*VideoFrame](cfg.VideoFrames)
	w.videoQueue = w.videoPool.Clone()
	w.allocVideo()
	return w, nil
}

// allocVideo fills the video pool with frames for the current mode. The
// caller guarantees every frame is back in the pool.
func (w *Worker) allocVideo() {
	for w.videoPool.Len() > 0 {
		w.videoPool.Pop()
	}
	for range w.videoPool.Cap() {
		w.videoPool.Push(&VideoFrame{Image: raster.NewImage(w.mode, w.width, w.height)})
	}
	if w.mode == raster.Patch {
		w.scratch = image.NewRGBA(image.Rect(0, 0, w.width, w.height))
	} else {
		w.scratch = nil
	}
}

// Start launches the decode goroutine. It is a no-op while running and
// fails after a fatal error.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.done != nil {
		return nil
	}
	w.done = make(chan struct{})
	w.state = StateIdle
	go w.run(w.done)
	w.log.Debug("worker started", "mode", w.mode)
	return nil
}

// Stop asks the goroutine to exit and waits for it. The worker can be
// started again afterwards.
func (w *Worker) Stop() {
	w.mu.Lock()
	done := w.done
	if done == nil {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	w.cond.Signal()
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	w.done = nil
	w.mu.Unlock()
	w.log.Debug("worker stopped")
}

// Running reports whether the goroutine is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done != nil && w.state != StateStopped
}

// SetMode switches the raster format of future frames. Every video frame
// must have been returned to the pool and the worker must be stopped.
func (w *Worker) SetMode(m raster.Mode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return ErrRunning
	}
	if w.mode == m {
		return nil
	}
	ring.MoveAll(w.videoPool, w.videoQueue)
	if w.videoPool.Len() != w.videoPool.Cap() {
		return fmt.Errorf("decode: %d video frames still in use", w.videoPool.Cap()-w.videoPool.Len())
	}
	w.mode = m
	w.allocVideo()
	w.log.Info("raster mode changed", "mode", m)
	return nil
}

// Mode returns the current raster format.
func (w *Worker) Mode() raster.Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Close stops the worker and releases the decoders.
func (w *Worker) Close() error {
	w.Stop()
	var errs []error
	if w.vdec != nil {
		errs = append(errs, w.vdec.Close())
	}
	if w.adec != nil {
		errs = append(errs, w.adec.Close())
	}
	return errors.Join(errs...)
}

func (w *Worker) run(done chan struct{}) {
	defer close(done)
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		switch {
		case w.stopping:
			w.stopping = false
			w.state = StateStopped
			return

		case w.flushing:
			w.state = StateFlushing
			w.mu.Unlock()
			err := w.drainDecoders()
			w.mu.Lock()
			if err != nil {
				w.err = err
				w.flushing = false
				w.stopping = false
				w.state = StateStopped
				w.log.Error("decoder flush failed", "error", err)
				return
			}
			ring.MoveAll(w.videoPool, w.videoQueue)
			if w.audioQueue != nil {
				ring.MoveAll(w.audioPool, w.audioQueue)
			}
			w.flushing = false
			w.log.Debug("decoders flushed")

		case w.videoPool.Empty() || (w.audioPool != nil && w.audioPool.Empty()):
			w.state = StateIdle
			w.cond.Wait()

		default:
			w.state = StateDecoding
			progressed, err := w.step()
			if err != nil {
				w.err = err
				w.stopping = false
				w.state = StateStopped
				w.log.Error("decode failed", "error", err)
				return
			}
			if !progressed {
				w.state = StateIdle
				w.cond.Wait()
			}
		}
	}
}

// drainDecoders signals end of stream, discards what the decoders still
// hold, and resets them. Called without the lock.
func (w *Worker) drainDecoders() error {
	err := drain(w.vdec, func() error {
		_, err := w.vdec.ReceiveFrame()
		return err
	})
	if err != nil {
		return &FatalError{Op: "flush video decoder", Err: err}
	}
	w.vdec.Flush()
	if w.adec != nil {
		err := drain(w.adec, func() error {
			_, err := w.adec.ReceiveFrame()
			return err
		})
		if err != nil {
			return &FatalError{Op: "flush audio decoder", Err: err}
		}
		w.adec.Flush()
	}
	return nil
}

// drain sends end of stream and receives until the decoder reports it.
// ErrEOF from the send means the decoder was already draining.
func drain(d codec.Decoder, receive func() error) error {
	if err := d.SendPacket(nil); err != nil && !errors.Is(err, codec.ErrEOF) {
		return err
	}
	for {
		err := receive()
		switch {
		case err == nil:
		case errors.Is(err, codec.ErrEOF):
			return nil
		default:
			return err
		}
	}
}

// received is the outcome of one receive attempt.
type received struct {
	video bool
	audio *AudioFrame
	// pool is a newly allocated audio pool, set on the first audio frame.
	pool *ring.Buffer[*AudioFrame]
}

// step makes one unit of progress: receive a video frame, else an audio
// frame, else send one queued packet. It is called and returns with the
// lock held, releasing it around codec work. It reports false when there
// was nothing to do.
func (w *Worker) step() (bool, error) {
	vf := w.videoPool.Pop()
	var af *AudioFrame
	if w.audioPool != nil {
		af = w.audioPool.Pop()
	}

	w.mu.Unlock()
	got, err := w.receive(vf, af)
	w.mu.Lock()

	if got.pool != nil {
		w.audioPool = got.pool
		w.audioQueue = got.pool.Clone()
	}
	if got.video {
		w.videoQueue.Push(vf)
		w.videoOut++
	} else {
		w.videoPool.Push(vf)
	}
	if got.audio != nil {
		w.audioQueue.Push(got.audio)
		w.audioOut++
	} else if af != nil {
		w.audioPool.Push(af)
	}
	if err != nil {
		return false, err
	}
	if got.video || got.audio != nil {
		return true, nil
	}

	if w.packetQueue.Empty() {
		return false, nil
	}
	pkt := w.packetQueue.Pop()

	w.mu.Unlock()
	err = w.send(pkt)
	w.mu.Lock()

	pkt.Unref()
	w.packetPool.Push(pkt)
	w.cond.Signal()
	return true, err
}

func (w *Worker) send(pkt codec.Packet) error {
	var dec codec.Decoder
	switch idx := pkt.StreamIndex(); {
	case idx == w.videoStream:
		dec = w.vdec
	case idx == w.audioStream && w.adec != nil:
		dec = w.adec
	default:
		return &FatalError{Op: "send packet", Err: fmt.Errorf("unexpected stream index %d", idx)}
	}
	err := dec.SendPacket(pkt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, codec.ErrAgain):
		// Every pending frame was received before sending.
		return &FatalError{Op: "send packet", Err: errors.New("decoder refused input with no output pending")}
	case errors.Is(err, codec.ErrEOF):
		// Draining until the next flush; drop the packet.
		return nil
	default:
		return &FatalError{Op: "send packet", Err: err}
	}
}

func (w *Worker) receive(vf *VideoFrame, af *AudioFrame) (received, error) {
	var got received

	pic, err := w.vdec.ReceiveFrame()
	switch {
	case err == nil:
		if err := w.convert(vf); err != nil {
			return got, &FatalError{Op: "convert video", Err: err}
		}
		w.nextID++
		vf.ID = w.nextID
		vf.PTS = pic.PTS
		vf.Duration = pic.Duration
		got.video = true
		return got, nil
	case !errors.Is(err, codec.ErrAgain) && !errors.Is(err, codec.ErrEOF):
		return got, &FatalError{Op: "receive video", Err: err}
	}

	if w.adec == nil {
		return got, nil
	}
	s, err := w.adec.ReceiveFrame()
	switch {
	case errors.Is(err, codec.ErrAgain), errors.Is(err, codec.ErrEOF):
		return got, nil
	case err != nil:
		return got, &FatalError{Op: "receive audio", Err: err}
	}

	if s.Channels <= 0 {
		return got, &FatalError{Op: "receive audio", Err: fmt.Errorf("invalid channel count %d", s.Channels)}
	}
	if af == nil {
		got.pool, af = w.allocAudio(s)
	}
	if s.Channels != af.Channels || w.adec.MaxOutputSamples(s.NumSamples)*s.Channels > len(af.Samples) {
		if !w.warnedSz {
			w.log.Warn("audio frame exceeds pool slot, truncating",
				"samples", s.NumSamples, "channels", s.Channels, "slot", len(af.Samples))
			w.warnedSz = true
		}
	}
	n, err := w.adec.Resample(af.Samples[:len(af.Samples)/s.Channels*s.Channels])
	if err != nil {
		if got.pool != nil {
			got.pool.Push(af)
		}
		return got, &FatalError{Op: "resample audio", Err: err}
	}
	af.PTS = s.PTS
	af.NumSamples = n
	af.Channels = s.Channels
	af.FirstSample = 0
	got.audio = af
	return got, nil
}

// allocAudio sizes the audio pool from the first decoded frame. It returns
// the pool minus one frame, and that frame.
func (w *Worker) allocAudio(s codec.Samples) (*ring.Buffer[*AudioFrame], *AudioFrame) {
	spf := w.adec.MaxOutputSamples(s.NumSamples)
	capacity := max(int(w.audioMS*timebase.SampleRate/(1000*int64(spf))), 2)
	pool := ring.New[*AudioFrame](capacity)
	for range capacity {
		pool.Push(&AudioFrame{Channels: s.Channels, Samples: make([]int16, spf*s.Channels)})
	}
	w.log.Debug("audio pool allocated", "frames", capacity, "samples_per_frame", spf,
		"input_rate", s.SampleRate, "channels", s.Channels)
	return pool, pool.Pop()
}

func (w *Worker) convert(vf *VideoFrame) error {
	switch img := vf.Image.(type) {
	case *raster.RGBA:
		return w.vdec.ConvertRGBA(img.RGBA)
	case *raster.PatchImage:
		if err := w.vdec.ConvertRGBA(w.scratch); err != nil {
			return err
		}
		return raster.EncodePatch(img.Data, w.scratch, w.cm)
	default:
		return fmt.Errorf("unsupported image %T", vf.Image)
	}
}
