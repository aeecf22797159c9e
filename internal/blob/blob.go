// Package blob exposes an in-memory clip as the seekable byte stream a
// container parser reads from.
package blob

import (
	"errors"
	"fmt"
	"io"
)

// SeekSize is the extra whence value asking for the total stream size
// instead of moving the cursor.
const SeekSize = 0x10000

// ErrInvalidSeek is returned for unknown whence values and negative targets.
var ErrInvalidSeek = errors.New("blob: invalid seek")

// Reader reads from an immutable byte slice. The clip bytes are shared,
// never copied, and must outlive the reader.
type Reader struct {
	data []byte
	off  int64
}

// NewReader returns a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Size returns the total length of the blob.
func (r *Reader) Size() int64 { return int64(len(r.data)) }

// Read copies up to len(p) bytes. At the end of the blob it returns 0, io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if r.off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt without moving the cursor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidSeek, off)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek moves the cursor and returns the new offset. Whence SeekSize returns
// the blob size and leaves the cursor untouched. Seeking past the end is
// allowed; the next Read returns io.EOF.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = int64(len(r.data)) + offset
	case SeekSize:
		return int64(len(r.data)), nil
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidSeek, whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidSeek, abs)
	}
	r.off = abs
	return abs, nil
}
