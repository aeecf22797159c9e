package clip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtChunkSize is one full SRT payload in file mode.
const srtChunkSize = 1456

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// streamPrefix is prepended to the clip name to form the SRT stream ID.
const streamPrefix = "clip/"

const defaultDialTimeout = 10 * time.Second

// Every reply starts with a status byte and, for statusOK, the clip length
// as a big-endian uint64. The clip bytes follow.
const (
	statusOK byte = iota
	statusNotFound
	statusUnavailable
)

const replyHeaderSize = 9

var errTruncated = errors.New("clip truncated")

// fileConfig is the srtgo configuration for whole-clip transfers. Live mode
// drops late packets and discards unsent data on close.
func fileConfig() srtgo.Config {
	cfg := srtgo.DefaultConfig()
	cfg.TransType = srtgo.TransTypeFile
	cfg.Latency = srtLatencyNs
	return cfg
}

// SRTSource fetches clips from a Server over SRT. The clip name travels as
// the stream ID; the reply carries the clip length so a short transfer is
// an error rather than a smaller clip.
type SRTSource struct {
	Addr        string
	DialTimeout time.Duration
	MaxBytes    int64
	Log         *slog.Logger
}

// Load dials the server and reads the whole clip.
func (s *SRTSource) Load(name string) ([]byte, error) {
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.LoadContext(ctx, name)
}

// LoadContext is Load bounded by ctx for both the dial and the transfer.
func (s *SRTSource) LoadContext(ctx context.Context, name string) ([]byte, error) {
	if s.Addr == "" {
		return nil, errors.New("srt source: address is required")
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "clip-srt", "addr", s.Addr, "name", name)

	cfg := fileConfig()
	cfg.StreamID = streamPrefix + name

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.Addr, cfg)
		ch <- dialResult{conn, err}
	}()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := readReply(conn, name, maxBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	log.Info("fetched", "bytes", len(data))
	return data, nil
}

func readReply(r io.Reader, name string, maxBytes int64) ([]byte, error) {
	var hdr [replyHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return nil, fmt.Errorf("SRT read: %w", err)
	}
	switch hdr[0] {
	case statusOK:
	case statusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	case statusUnavailable:
		return nil, fmt.Errorf("srt source: clip %q unavailable on server", name)
	default:
		return nil, fmt.Errorf("srt source: unknown reply status %d", hdr[0])
	}
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		return nil, fmt.Errorf("SRT read: %w", err)
	}
	size := binary.BigEndian.Uint64(hdr[1:])
	if size > uint64(maxBytes) {
		return nil, ErrTooLarge
	}
	data := make([]byte, size)
	if n, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %q after %d of %d bytes: %v", errTruncated, name, n, size, err)
	}
	return data, nil
}

// Server answers SRT callers with clips from a source, one clip per
// connection, named by the caller's stream ID.
type Server struct {
	log  *slog.Logger
	addr string
	src  Loader

	mu sync.Mutex
	l  *srtgo.Listener
}

// NewServer creates a clip server on addr backed by src. If log is nil,
// slog.Default() is used.
func NewServer(addr string, src Loader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:  log.With("component", "clip-server"),
		addr: addr,
		src:  src,
	}
}

// Start accepts callers until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := srtgo.Listen(s.addr, fileConfig())
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.l = l
	s.mu.Unlock()
	s.log.Info("listening", "addr", l.Addr())

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if _, ok := clipNameFromStreamID(req.StreamID); !ok {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.serve(ctx, conn)
	}
}

// Addr returns the bound address once Start is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// serve writes one reply. Close lingers until the peer has acknowledged the
// send buffer.
func (s *Server) serve(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	name, _ := clipNameFromStreamID(conn.StreamID())
	data, err := s.src.Load(name)
	if err != nil {
		s.log.Warn("clip unavailable", "name", name, "remote", conn.RemoteAddr(), "error", err)
		status := statusUnavailable
		if errors.Is(err, ErrNotFound) {
			status = statusNotFound
		}
		if _, err := conn.Write([]byte{status}); err != nil {
			s.log.Debug("write error", "name", name, "error", err)
		}
		return
	}
	s.log.Info("sending", "name", name, "remote", conn.RemoteAddr(), "bytes", len(data))

	var hdr [replyHeaderSize]byte
	hdr[0] = statusOK
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(data)))
	if _, err := conn.Write(hdr[:]); err != nil {
		s.log.Debug("write error", "name", name, "error", err)
		return
	}
	for i := 0; i < len(data); i += srtChunkSize {
		if ctx.Err() != nil {
			return
		}
		end := min(i+srtChunkSize, len(data))
		if _, err := conn.Write(data[i:end]); err != nil {
			s.log.Debug("write error", "name", name, "error", err)
			return
		}
	}
}

// clipNameFromStreamID extracts the clip name from "clip/<name>", tolerating
// a leading slash.
func clipNameFromStreamID(streamID string) (string, bool) {
	streamID = strings.TrimPrefix(streamID, "/")
	name, ok := strings.CutPrefix(streamID, streamPrefix)
	if !ok {
		return "", false
	}
	name, err := cleanName(name)
	if err != nil {
		return "", false
	}
	return name, true
}
