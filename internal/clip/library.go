// Package clip locates movie data by name, either in a set of local library
// roots or on a remote SRT clip server.
package clip

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// MoviesDir is the directory under each library root that holds clips.
const MoviesDir = "Movies"

// DefaultMaxBytes caps a single clip when no limit is configured.
const DefaultMaxBytes = 512 << 20

// ErrNotFound is returned when no source has a clip of the given name.
var ErrNotFound = errors.New("clip not found")

// ErrTooLarge is returned when a clip exceeds the configured size limit.
var ErrTooLarge = errors.New("clip exceeds size limit")

// Library resolves clip names against an ordered list of roots. A clip in a
// later root shadows one of the same name in an earlier root.
type Library struct {
	log      *slog.Logger
	roots    []string
	maxBytes int64

	mu    sync.Mutex
	cache map[string][]byte
}

// NewLibrary creates a library over roots. maxBytes <= 0 selects
// DefaultMaxBytes. If log is nil, slog.Default() is used.
func NewLibrary(roots []string, maxBytes int64, log *slog.Logger) *Library {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Library{
		log:      log.With("component", "clip-library"),
		roots:    append([]string(nil), roots...),
		maxBytes: maxBytes,
		cache:    make(map[string][]byte),
	}
}

// Resolve returns the path a clip would be loaded from.
func (l *Library) Resolve(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	for i := len(l.roots) - 1; i >= 0; i-- {
		path := filepath.Join(l.roots[i], MoviesDir, filepath.FromSlash(name))
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Load returns the clip's bytes. Results are cached; the returned slice must
// not be modified.
func (l *Library) Load(name string) ([]byte, error) {
	l.mu.Lock()
	data, ok := l.cache[name]
	l.mu.Unlock()
	if ok {
		return data, nil
	}

	path, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err = readLimited(f, l.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	l.log.Debug("loaded", "name", name, "path", path, "bytes", len(data))

	l.mu.Lock()
	l.cache[name] = data
	l.mu.Unlock()
	return data, nil
}

// Names lists every clip visible through the library, sorted.
func (l *Library) Names() ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range l.roots {
		dir := filepath.Join(root, MoviesDir)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			seen[filepath.ToSlash(rel)] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	if name == "" || !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid clip name %q", name)
	}
	return name, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
