package clip

import (
	"errors"
	"fmt"
)

// Loader is anything that maps a clip name to its bytes.
type Loader interface {
	Load(name string) ([]byte, error)
}

// Chain tries each loader in order and returns the first clip found. Errors
// other than ErrNotFound stop the search.
type Chain []Loader

// Load implements Loader.
func (c Chain) Load(name string) ([]byte, error) {
	for _, l := range c {
		data, err := l.Load(name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}
