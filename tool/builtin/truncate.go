package builtin

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// Default output caps for streamed tool output.
const (
	DefaultMaxOutputLines = 250
	DefaultMaxOutputBytes = 50 * 1024
)

// TailBuffer keeps the tail of a byte stream bounded by line and byte caps.
// Until a cap is hit, everything stays in memory. On the first overflow the
// complete stream starts spooling to a temp file, so the full output remains
// recoverable, while the in-memory view rolls forward keeping only the tail.
// Truncation preserves full-line boundaries except when a single line
// exceeds the byte cap.
type TailBuffer struct {
	mu       sync.Mutex
	maxLines int
	maxBytes int

	head      []byte
	tail      []byte
	total     int64
	truncated bool

	spill     *os.File
	spillPath string
	spillErr  error
}

// NewTailBuffer creates a buffer with the given caps. Zero or negative caps
// fall back to the defaults.
func NewTailBuffer(maxLines, maxBytes int) *TailBuffer {
	if maxLines <= 0 {
		maxLines = DefaultMaxOutputLines
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	return &TailBuffer{maxLines: maxLines, maxBytes: maxBytes}
}

// Write implements io.Writer. It never fails; spill file errors are
// recorded and reported via SpillPath returning empty.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))

	if !b.truncated {
		b.head = append(b.head, p...)
		if len(b.head) <= b.maxBytes && bytes.Count(b.head, []byte{'\n'}) <= b.maxLines {
			return len(p), nil
		}
		b.truncated = true
		b.openSpill()
		if b.spill != nil {
			_, _ = b.spill.Write(b.head)
		}
		b.tail = b.head
		b.head = nil
		b.trimTail()
		return len(p), nil
	}

	if b.spill != nil {
		_, _ = b.spill.Write(p)
	}
	b.tail = append(b.tail, p...)
	b.trimTail()
	return len(p), nil
}

// String returns the user-visible output: the whole stream while under the
// caps, otherwise its tail.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.truncated {
		return string(b.head)
	}
	return string(b.tail)
}

// Truncated reports whether the caps were exceeded.
func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// TotalBytes returns the number of bytes written, including truncated ones.
func (b *TailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// SpillPath returns the path of the file holding the complete output, or
// empty when nothing was truncated (or the spill file could not be created).
func (b *TailBuffer) SpillPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spillPath
}

// Notice returns a human-readable truncation marker, or empty when the
// output fit within the caps.
func (b *TailBuffer) Notice() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.truncated {
		return ""
	}
	notice := fmt.Sprintf("[output truncated: showing the tail of %d bytes", b.total)
	if b.spillPath != "" {
		notice += ", full output in " + b.spillPath
	}
	return notice + "]"
}

// Close closes the spill file, if any. The file itself is left behind for
// the user to inspect.
func (b *TailBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spill == nil {
		return nil
	}
	err := b.spill.Close()
	b.spill = nil
	return err
}

func (b *TailBuffer) openSpill() {
	f, err := os.CreateTemp("", "banyan-output-*.log")
	if err != nil {
		b.spillErr = err
		return
	}
	b.spill = f
	b.spillPath = f.Name()
}

// trimTail drops leading content until the tail fits both caps, cutting on
// line boundaries where possible.
func (b *TailBuffer) trimTail() {
	if len(b.tail) > b.maxBytes {
		cut := len(b.tail) - b.maxBytes
		rest := b.tail[cut:]
		// Advance past the partial leading line unless it is all we have.
		if i := bytes.IndexByte(rest, '\n'); i >= 0 && i+1 < len(rest) {
			rest = rest[i+1:]
		}
		b.tail = append(b.tail[:0:0], rest...)
	}

	if n := bytes.Count(b.tail, []byte{'\n'}); n > b.maxLines {
		drop := n - b.maxLines
		idx := 0
		for ; drop > 0; drop-- {
			j := bytes.IndexByte(b.tail[idx:], '\n')
			idx += j + 1
		}
		b.tail = append(b.tail[:0:0], b.tail[idx:]...)
	}
}
