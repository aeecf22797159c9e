package preview

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/captions"
	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/movie"
)

type fakeProvider struct {
	stats movie.Stats
	snap  movie.Snapshot
	ok    bool
	cue   captions.Cue
}

func (f *fakeProvider) Stats() movie.Stats { return f.stats }
func (f *fakeProvider) Snapshot() (movie.Snapshot, bool) { return f.snap, f.ok }
func (f *fakeProvider) Caption() (captions.Cue, bool) { return f.cue, f.cue.Text != "" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewServer(Config{Addr: "127.0.0.1:0", Cert: cert})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Config{Addr: ":1"}); err == nil {
		t.Error("NewServer without cert succeeded")
	}
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewServer(Config{Cert: cert}); err == nil {
		t.Error("NewServer without addr succeeded")
	}
}

func TestNoMovie(t *testing.T) {
	t.Parallel()

	h := newTestServer(t).Handler()
	for _, path := range []string{"/api/movie", "/api/movie/frame.png", "/api/movie/caption"} {
		if rec := get(t, h, path); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestStatsAndCaption(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.SetProvider(&fakeProvider{
		stats: movie.Stats{ID: "abc", PositionMS: 1234, Width: 64, Height: 36},
		cue:   captions.Cue{Start: 1000, Channel: 1, Text: "HELLO"},
	})
	h := s.Handler()

	rec := get(t, h, "/api/movie")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/movie = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
	var stats movie.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.ID != "abc" || stats.PositionMS != 1234 {
		t.Errorf("stats = %+v", stats)
	}

	rec = get(t, h, "/api/movie/caption")
	var cap captionResponse
	if err := json.NewDecoder(rec.Body).Decode(&cap); err != nil {
		t.Fatal(err)
	}
	if !cap.Showing || cap.Text != "HELLO" || cap.Start != 1000 {
		t.Errorf("caption = %+v", cap)
	}

	rec = get(t, h, "/api/cert-hash")
	var hash certHashResponse
	if err := json.NewDecoder(rec.Body).Decode(&hash); err != nil {
		t.Fatal(err)
	}
	if hash.Hash != s.config.Cert.FingerprintBase64() {
		t.Errorf("hash = %q", hash.Hash)
	}
}

func TestFrame(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 200, G: 10, B: 20, A: 255})
	s := newTestServer(t)
	s.SetProvider(&fakeProvider{snap: movie.Snapshot{ID: 7, PTSMS: 233, Image: img}, ok: true})

	rec := get(t, s.Handler(), "/api/movie/frame.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET frame = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Frame-Id"); got != "7" {
		t.Errorf("X-Frame-Id = %q, want 7", got)
	}
	decoded, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b, _ := decoded.At(1, 1).RGBA(); r>>8 != 200 || g>>8 != 10 || b>>8 != 20 {
		t.Errorf("pixel = %d,%d,%d", r>>8, g>>8, b>>8)
	}

	s.SetProvider(&fakeProvider{})
	if rec := get(t, s.Handler(), "/api/movie/frame.png"); rec.Code != http.StatusNotFound {
		t.Errorf("GET frame without snapshot = %d, want 404", rec.Code)
	}
}
