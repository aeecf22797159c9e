package decode

import (
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/ring"
)

// ClaimPacket takes a free packet from the pool for the caller to fill.
func (w *Worker) ClaimPacket() (codec.Packet, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.packetPool.Empty() {
		return nil, false
	}
	return w.packetPool.Pop(), true
}

// QueuePacket hands a filled packet to the worker.
func (w *Worker) QueuePacket(p codec.Packet) {
	w.mu.Lock()
	w.packetQueue.Push(p)
	w.cond.Signal()
	w.mu.Unlock()
}

// ReturnPacket gives back a claimed packet that will not be queued.
func (w *Worker) ReturnPacket(p codec.Packet) {
	p.Unref()
	w.mu.Lock()
	w.packetPool.Push(p)
	w.mu.Unlock()
}

// DrainVideo moves every published video frame onto dst and returns how
// many moved. Nothing moves while a flush is pending since those frames
// predate it.
func (w *Worker) DrainVideo(dst *ring.Buffer[*VideoFrame]) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flushing {
		return 0
	}
	return ring.MoveAll(dst, w.videoQueue)
}

// DrainAudio moves every published audio frame onto dst and returns how
// many moved.
func (w *Worker) DrainAudio(dst *ring.Buffer[*AudioFrame]) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flushing || w.audioQueue == nil {
		return 0
	}
	return ring.MoveAll(dst, w.audioQueue)
}

// RecycleVideo returns frames to the pool and wakes the worker.
func (w *Worker) RecycleVideo(frames ...*VideoFrame) {
	if len(frames) == 0 {
		return
	}
	w.mu.Lock()
	for _, f := range frames {
		w.videoPool.Push(f)
	}
	w.cond.Signal()
	w.mu.Unlock()
}

// RecycleAudio returns frames to the pool and wakes the worker.
func (w *Worker) RecycleAudio(frames ...*AudioFrame) {
	if len(frames) == 0 {
		return
	}
	w.mu.Lock()
	for _, f := range frames {
		w.audioPool.Push(f)
	}
	w.cond.Signal()
	w.mu.Unlock()
}

// RequestFlush discards every queued packet and asks the worker to reset
// its decoders and drop published frames. Packets queued afterwards are
// decoded once the flush completes.
func (w *Worker) RequestFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.packetQueue.Empty() {
		p := w.packetQueue.Pop()
		p.Unref()
		w.packetPool.Push(p)
	}
	w.flushing = true
	w.cond.Signal()
}

// Flushing reports whether a requested flush has not completed yet.
func (w *Worker) Flushing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushing
}

// VideoCapacity returns the number of video frames in circulation.
func (w *Worker) VideoCapacity() int {
	return w.videoPool.Cap()
}

// AudioCapacity returns the number of audio frames in circulation, or 0
// before the first audio frame has been decoded.
func (w *Worker) AudioCapacity() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.audioPool == nil {
		return 0
	}
	return w.audioPool.Cap()
}

// State returns the worker's current activity.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the fatal error that stopped the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stats is a point-in-time view of the worker's pools and counters.
type Stats struct {
	State        State
	FreePackets  int
	QueuedPacket int
	FreeVideo    int
	QueuedVideo  int
	FreeAudio    int
	QueuedAudio  int
	VideoFrames  uint64
	AudioFrames  uint64
}

// Stats returns a snapshot of the monitor state.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		State:        w.state,
		FreePackets:  w.packetPool.Len(),
		QueuedPacket: w.packetQueue.Len(),
		FreeVideo:    w.videoPool.Len(),
		QueuedVideo:  w.videoQueue.Len(),
		VideoFrames:  w.videoOut,
		AudioFrames:  w.audioOut,
	}
	if w.audioPool != nil {
		s.FreeAudio = w.audioPool.Len()
		s.QueuedAudio = w.audioQueue.Len()
	}
	return s
}
