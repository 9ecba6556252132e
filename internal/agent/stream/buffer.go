package stream

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Sink receives stream lines in emission order.
type Sink interface {
	Append(line string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string)

func (f SinkFunc) Append(line string) { f(line) }

// Tee fans a line out to several sinks.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(line string) {
		for _, s := range sinks {
			s.Append(line)
		}
	})
}

// Buffer accumulates lines. With maxLines <= 0 it is append-only and never
// evicts; otherwise it keeps the newest maxLines lines.
type Buffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	start   int
	dropped uint64
}

// NewBuffer returns a Buffer with the given retention policy.
func NewBuffer(maxLines int) *Buffer {
	if maxLines < 0 {
		maxLines = 0
	}
	return &Buffer{max: maxLines}
}

func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max == 0 || len(b.lines) < b.max {
		b.lines = append(b.lines, line)
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % b.max
	b.dropped++
}

// Lines returns the retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.start:]...)
	out = append(out, b.lines[:b.start]...)
	return out
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Dropped returns how many lines were evicted by the retention policy.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Reset discards all lines.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.start = 0
	b.dropped = 0
}

// String renders the buffer as newline-terminated text.
func (b *Buffer) String() string {
	var sb strings.Builder
	_, _ = b.WriteTo(&sb)
	return sb.String()
}

// WriteTo writes every retained line followed by a newline.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, line := range b.Lines() {
		n, err := bw.WriteString(line)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return total, err
		}
		total++
	}
	return total, bw.Flush()
}

// Export saves the buffer to path, zstd-compressed when path ends in ".zst".
func (b *Buffer) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create log export %s failed", path)
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return errors.Wrap(err, "init zstd encoder failed")
		}
		w = enc
	}
	if _, err := b.WriteTo(w); err != nil {
		return errors.Wrapf(err, "write log export %s failed", path)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return errors.Wrap(err, "flush zstd encoder failed")
		}
	}
	return f.Sync()
}
