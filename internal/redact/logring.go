package redact

import (
	"bufio"
	"io"

	"github.com/teng-lin/beamcode/internal/ring"
)

// DefaultLogRingSize is the per-session cap on captured process output lines.
const DefaultLogRingSize = 500

// LogRing captures process output lines, redacting each line before storage.
type LogRing struct {
	buf *ring.Buffer[string]
}

// NewLogRing creates a LogRing with the given line capacity.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogRingSize
	}
	return &LogRing{buf: ring.New[string](capacity)}
}

// Append redacts and stores one line.
func (l *LogRing) Append(line string) {
	l.buf.Push(String(line))
}

// Lines returns the captured lines, oldest first.
func (l *LogRing) Lines() []string {
	return l.buf.ToArray()
}

// Len returns the number of captured lines.
func (l *LogRing) Len() int {
	return l.buf.Len()
}

// Capture reads r line by line into the ring until EOF or a read error.
// Intended to run in its own goroutine against a process pipe.
func (l *LogRing) Capture(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		l.Append(scanner.Text())
	}
}
