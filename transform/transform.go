/*
Package transform contains line transforms used by built-in plugins.

Pure transforms (Upper, Flip, Rotate, Expand) never drop lines. Output
transforms write lines to a writer: Logger and Typewriter forward the
line unchanged, Sink consumes it.
*/
package transform

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudk/linepipe"
)

// Upper converts line to upper case.
func Upper(in string) (string, bool) {
	return strings.ToUpper(in), true
}

// Flip reverses characters of line.
func Flip(in string) (string, bool) {
	r := []rune(in)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), true
}

// Rotate moves every character one position to the right. The last
// character becomes the first one.
func Rotate(in string) (string, bool) {
	r := []rune(in)
	if len(r) < 2 {
		return in, true
	}
	last := r[len(r)-1]
	copy(r[1:], r[:len(r)-1])
	r[0] = last
	return string(r), true
}

// Expand inserts a single space between characters.
func Expand(in string) (string, bool) {
	r := []rune(in)
	if len(r) < 2 {
		return in, true
	}
	var b strings.Builder
	b.Grow(len(in) * 2)
	for i, c := range r {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}
	return b.String(), true
}

// SyncWriter serializes writes from multiple stages to one writer, so
// a single Write is never interleaved with another one.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

// Write implements io.Writer.
func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Logger writes "[logger] <line>" to out and "<line>" to file and
// forwards the line. Write errors are reported to l.
func Logger(out, file io.Writer, l logrus.FieldLogger) linepipe.TransformFunc {
	return func(in string) (string, bool) {
		if _, err := fmt.Fprintf(out, "[logger] %s\n", in); err != nil {
			l.WithError(err).Warn("failed to write line")
		}
		if file != nil {
			if _, err := fmt.Fprintf(file, "%s\n", in); err != nil {
				l.WithError(err).Warn("failed to append line to log file")
			}
		}
		return in, true
	}
}

// Typewriter writes line to out one character at a time with delay
// between characters, then a newline. The line is forwarded.
func Typewriter(out io.Writer, delay time.Duration, l logrus.FieldLogger) linepipe.TransformFunc {
	return func(in string) (string, bool) {
		for _, c := range in {
			if _, err := io.WriteString(out, string(c)); err != nil {
				l.WithError(err).Warn("failed to write character")
				break
			}
			if delay > 0 {
				time.Sleep(delay)
			}
		}
		if _, err := io.WriteString(out, "\n"); err != nil {
			l.WithError(err).Warn("failed to write line")
		}
		return in, true
	}
}

// Sink writes line to out and consumes it.
func Sink(out io.Writer, l logrus.FieldLogger) linepipe.TransformFunc {
	return func(in string) (string, bool) {
		if _, err := fmt.Fprintf(out, "%s\n", in); err != nil {
			l.WithError(err).Warn("failed to write line")
		}
		return "", false
	}
}
