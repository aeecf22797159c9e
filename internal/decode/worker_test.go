package decode

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/blob"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/codec/tscodec"
	"github.com/zsiec/reel/internal/raster"
	"github.com/zsiec/reel/internal/ring"
	"github.com/zsiec/reel/internal/synth"
)

func newTestWorker(t *testing.T, o synth.Options, mode raster.Mode) (*Worker, codec.Container) {
	t.Helper()
	data, err := synth.Clip(o)
	if err != nil {
		t.Fatalf("synth.Clip: %v", err)
	}
	c, err := codec.Open(tscodec.Name, blob.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w, err := NewWorker(Config{
		Container:     c,
		VideoStream:   c.BestStream(codec.MediaVideo),
		AudioStream:   c.BestStream(codec.MediaAudio),
		Width:         32,
		Height:        18,
		VideoFrames:   4,
		AudioBufferMS: 200,
		Packets:       6,
		Mode:          mode,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		c.Close()
	})
	return w, c
}

// feed queues packets until the pool runs dry or the clip ends. It
// reports whether the end was reached.
func feed(t *testing.T, w *Worker, c codec.Container) bool {
	t.Helper()
	for {
		p, ok := w.ClaimPacket()
		if !ok {
			return false
		}
		err := c.ReadPacket(p)
		if errors.Is(err, io.EOF) {
			w.ReturnPacket(p)
			return true
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		w.QueuePacket(p)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerDecodesClip(t *testing.T) {
	t.Parallel()

	o := synth.Options{Duration: time.Second, Width: 32, Height: 18}
	w, c := newTestWorker(t, o, raster.Direct)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	vbuf := ring.New[*VideoFrame](w.VideoCapacity())
	abuf := ring.New[*AudioFrame](64)
	var (
		eof     bool
		frames  int
		samples int64
		lastPTS int64 = -1
	)
	waitFor(t, "whole clip", func() bool {
		if !eof {
			eof = feed(t, w, c)
		}
		w.DrainVideo(vbuf)
		for !vbuf.Empty() {
			f := vbuf.Pop()
			frames++
			if f.ID != uint64(frames) {
				t.Fatalf("frame %d has id %d", frames, f.ID)
			}
			if f.PTS <= lastPTS {
				t.Fatalf("pts %d after %d", f.PTS, lastPTS)
			}
			lastPTS = f.PTS
			if f.Duration != 3000 {
				t.Fatalf("duration = %d, want 3000", f.Duration)
			}
			rgba := f.Image.(*raster.RGBA)
			if got, want := rgba.Pix[0], synth.LumaAt(0, 0, frames-1); absDiff(got, want) > 2 {
				t.Fatalf("frame %d first pixel %d, want about %d", frames, got, want)
			}
			w.RecycleVideo(f)
		}
		w.DrainAudio(abuf)
		for !abuf.Empty() {
			f := abuf.Pop()
			for i := range f.NumSamples {
				for ch := range f.Channels {
					got := f.Samples[i*f.Channels+ch]
					if want := synth.SampleValue(samples+int64(i), ch); got != want {
						t.Fatalf("sample %d channel %d = %d, want %d", samples+int64(i), ch, got, want)
					}
				}
			}
			samples += int64(f.NumSamples)
			w.RecycleAudio(f)
		}
		if err := w.Err(); err != nil {
			t.Fatalf("worker failed: %v", err)
		}
		return eof && frames == o.Frames() && samples == 44100
	})

	if got := w.AudioCapacity(); got < 2 {
		t.Errorf("AudioCapacity = %d, want at least 2", got)
	}
	st := w.Stats()
	if st.VideoFrames != uint64(o.Frames()) {
		t.Errorf("Stats.VideoFrames = %d, want %d", st.VideoFrames, o.Frames())
	}
	if st.FreeVideo != w.VideoCapacity() {
		t.Errorf("Stats.FreeVideo = %d, want %d", st.FreeVideo, w.VideoCapacity())
	}
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestWorkerWaitsForFreeFrames(t *testing.T) {
	t.Parallel()

	w, c := newTestWorker(t, synth.Options{Duration: time.Second, Width: 32, Height: 18, NoAudio: true}, raster.Direct)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	feed(t, w, c)
	waitFor(t, "full video queue", func() bool {
		st := w.Stats()
		return st.QueuedVideo == w.VideoCapacity() && st.State == StateIdle
	})
	if st := w.Stats(); st.FreeVideo != 0 {
		t.Errorf("FreeVideo = %d, want 0", st.FreeVideo)
	}
}

func TestWorkerFlush(t *testing.T) {
	t.Parallel()

	w, c := newTestWorker(t, synth.Options{Duration: time.Second, Width: 32, Height: 18}, raster.Direct)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	feed(t, w, c)
	waitFor(t, "decoded video", func() bool { return w.Stats().QueuedVideo > 0 })

	w.RequestFlush()
	vbuf := ring.New[*VideoFrame](w.VideoCapacity())
	if w.Flushing() {
		if n := w.DrainVideo(vbuf); n != 0 {
			t.Errorf("DrainVideo during flush moved %d frames", n)
		}
	}
	waitFor(t, "flush", func() bool { return !w.Flushing() })

	st := w.Stats()
	if st.QueuedVideo != 0 || st.QueuedAudio != 0 || st.QueuedPacket != 0 {
		t.Errorf("queues after flush = %+v", st)
	}
	if st.FreeVideo != w.VideoCapacity() {
		t.Errorf("FreeVideo = %d, want %d", st.FreeVideo, w.VideoCapacity())
	}
	if st.FreePackets != 6 {
		t.Errorf("FreePackets = %d, want 6", st.FreePackets)
	}

	// Decoding resumes with frames after the seek point.
	if err := c.Seek(c.BestStream(codec.MediaVideo), 0, 15000, 15000); err != nil {
		t.Fatal(err)
	}
	feed(t, w, c)
	waitFor(t, "decoded video after flush", func() bool { return w.DrainVideo(vbuf) > 0 })
	if f := vbuf.Peek(); f.PTS < 15000 {
		t.Errorf("first frame after flush has pts %d, want >= 15000", f.PTS)
	}
}

type strayPacket struct{}

func (strayPacket) StreamIndex() int { return 7 }
func (strayPacket) PTS() int64       { return 0 }
func (strayPacket) Data() []byte     { return nil }
func (strayPacket) Unref()           {}

func TestWorkerFatalError(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, synth.Options{Duration: time.Second, Width: 32, Height: 18}, raster.Direct)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.QueuePacket(strayPacket{})
	waitFor(t, "worker error", func() bool { return w.Err() != nil })

	err := w.Err()
	if !errors.Is(err, ErrUnrecoverable) {
		t.Errorf("Err = %v, want ErrUnrecoverable", err)
	}
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != "send packet" {
		t.Errorf("Err = %#v, want send packet FatalError", err)
	}
	waitFor(t, "worker exit", func() bool { return !w.Running() })
	if err := w.Start(); !errors.Is(err, ErrUnrecoverable) {
		t.Errorf("Start after failure = %v, want ErrUnrecoverable", err)
	}
}

// brokenDrain fails the end-of-stream handshake of a video decoder.
type brokenDrain struct {
	codec.VideoDecoder
	sendErr    error
	receiveErr error
	draining   bool
}

func (d *brokenDrain) SendPacket(p codec.Packet) error {
	err := d.VideoDecoder.SendPacket(p)
	if p == nil {
		d.draining = true
		if d.sendErr != nil {
			return d.sendErr
		}
	}
	return err
}

func (d *brokenDrain) ReceiveFrame() (codec.Picture, error) {
	if d.draining && d.receiveErr != nil {
		return codec.Picture{}, d.receiveErr
	}
	return d.VideoDecoder.ReceiveFrame()
}

func (d *brokenDrain) Flush() {
	d.draining = false
	d.VideoDecoder.Flush()
}

func TestWorkerFlushFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sendErr    error
		receiveErr error
		fatal      bool
	}{
		{name: "send fails", sendErr: errors.New("cannot flush"), fatal: true},
		{name: "receive fails", receiveErr: errors.New("corrupt frame"), fatal: true},
		{name: "already draining", sendErr: codec.ErrEOF},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w, _ := newTestWorker(t, synth.Options{Duration: time.Second, Width: 32, Height: 18}, raster.Direct)
			w.vdec = &brokenDrain{VideoDecoder: w.vdec, sendErr: tc.sendErr, receiveErr: tc.receiveErr}
			if err := w.Start(); err != nil {
				t.Fatal(err)
			}

			w.RequestFlush()
			waitFor(t, "flush to finish", func() bool { return !w.Flushing() })

			err := w.Err()
			if !tc.fatal {
				if err != nil {
					t.Errorf("Err = %v, want nil", err)
				}
				if !w.Running() {
					t.Error("worker stopped after a clean flush")
				}
				return
			}
			if !errors.Is(err, ErrUnrecoverable) {
				t.Fatalf("Err = %v, want ErrUnrecoverable", err)
			}
			var fe *FatalError
			if !errors.As(err, &fe) || fe.Op != "flush video decoder" {
				t.Errorf("Err = %v, want flush video decoder FatalError", err)
			}
			waitFor(t, "worker exit", func() bool { return !w.Running() })
			if st := w.State(); st != StateStopped {
				t.Errorf("State = %v, want %v", st, StateStopped)
			}
		})
	}
}

func TestWorkerSetMode(t *testing.T) {
	t.Parallel()

	w, c := newTestWorker(t, synth.Options{Duration: time.Second, Width: 32, Height: 18, NoAudio: true}, raster.Direct)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.SetMode(raster.Patch); !errors.Is(err, ErrRunning) {
		t.Fatalf("SetMode while running = %v, want ErrRunning", err)
	}
	w.Stop()
	if w.Running() {
		t.Fatal("Running after Stop")
	}
	if err := w.SetMode(raster.Patch); err != nil {
		t.Fatal(err)
	}
	if w.Mode() != raster.Patch {
		t.Fatalf("Mode = %v, want patch", w.Mode())
	}

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	feed(t, w, c)
	vbuf := ring.New[*VideoFrame](w.VideoCapacity())
	waitFor(t, "patch frame", func() bool { return w.DrainVideo(vbuf) > 0 })
	img, ok := vbuf.Peek().Image.(*raster.PatchImage)
	if !ok {
		t.Fatalf("image is %T, want *raster.PatchImage", vbuf.Peek().Image)
	}
	if len(img.Data) != raster.PatchBytes(32, 18) {
		t.Errorf("patch is %d bytes, want %d", len(img.Data), raster.PatchBytes(32, 18))
	}
	if _, err := raster.DecodePatch(img.Data, 32, 18); err != nil {
		t.Errorf("DecodePatch: %v", err)
	}
}

func TestNewWorkerValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewWorker(Config{}); err == nil {
		t.Error("NewWorker without container succeeded")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateStopped:  "stopped",
		StateIdle:     "idle",
		StateDecoding: "decoding",
		StateFlushing: "flushing",
		State(9):      "State(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
