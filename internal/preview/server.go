// Package preview serves a read-only inspection API for the playing movie
// over HTTP/3: buffer statistics, the current frame as PNG and the current
// caption.
package preview

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/reel/internal/captions"
	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/movie"
)

// Provider is the view of a movie the server needs. *movie.Movie
// implements it.
type Provider interface {
	Stats() movie.Stats
	Snapshot() (movie.Snapshot, bool)
	Caption() (captions.Cue, bool)
}

// Config holds the listen address and certificate.
type Config struct {
	Addr string
	Cert *certs.CertInfo
	Log  *slog.Logger
}

// Server is the preview server.
type Server struct {
	config Config
	log    *slog.Logger
	h3     *http3.Server

	mu       sync.RWMutex
	provider Provider
}

// NewServer validates the configuration.
func NewServer(config Config) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("preview: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("preview: Addr is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{config: config, log: log.With("component", "preview")}, nil
}

// SetProvider sets the movie being previewed; nil clears it.
func (s *Server) SetProvider(p Provider) {
	s.mu.Lock()
	s.provider = p
	s.mu.Unlock()
}

func (s *Server) current() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/movie", s.handleStats)
	mux.HandleFunc("GET /api/movie/frame.png", s.handleFrame)
	mux.HandleFunc("GET /api/movie/caption", s.handleCaption)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	p := s.current()
	if p == nil {
		writeError(w, http.StatusNotFound, "no movie playing")
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	p := s.current()
	if p == nil {
		writeError(w, http.StatusNotFound, "no movie playing")
		return
	}
	snap, ok := p.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no frame at the playback position")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Frame-Id", strconv.FormatUint(snap.ID, 10))
	w.Header().Set("X-Frame-Pts-Ms", strconv.FormatInt(snap.PTSMS, 10))
	if err := png.Encode(w, snap.Image); err != nil {
		s.log.Warn("encoding frame", "id", snap.ID, "error", err)
	}
}

type captionResponse struct {
	Showing bool   `json:"showing"`
	Start   int64  `json:"start_ms,omitempty"`
	Channel int    `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (s *Server) handleCaption(w http.ResponseWriter, _ *http.Request) {
	p := s.current()
	if p == nil {
		writeError(w, http.StatusNotFound, "no movie playing")
		return
	}
	cue, ok := p.Caption()
	writeJSON(w, http.StatusOK, captionResponse{Showing: ok, Start: cue.Start, Channel: cue.Channel, Text: cue.Text})
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{Hash: s.config.Cert.FingerprintBase64(), Addr: s.config.Addr})
}

// Start serves HTTP/3 until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.h3 = &http3.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{s.config.Cert.TLSCert},
		},
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	s.log.Info("preview server listening", "addr", s.config.Addr, "cert_hash", s.config.Cert.FingerprintBase64())

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
