package opencodecli

import (
	"io"
	"strings"

	"github.com/r3labs/sse/v2"
)

// maxEventSize caps one SSE event at 10 MiB. Oversized events fail the
// stream rather than growing without bound.
const maxEventSize = 10 << 20

// Event is one parsed server-sent event.
type Event struct {
	Name string
	Data string
}

// EventReader frames and parses a text/event-stream. Framing (blank-line
// event boundaries, CR/LF and CR-only terminator normalization, bounded
// buffering) is delegated to r3labs' EventStreamReader; field parsing is
// done here because the server interleaves event and data lines.
type EventReader struct {
	stream *sse.EventStreamReader
}

// NewEventReader wraps r with the 10 MiB event cap.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{stream: sse.NewEventStreamReader(r, maxEventSize)}
}

// Next returns the next event. Comment-only keep-alives are skipped.
// io.EOF signals a cleanly closed stream.
func (er *EventReader) Next() (Event, error) {
	for {
		raw, err := er.stream.ReadEvent()
		if err != nil {
			return Event{}, err
		}

		ev, ok := parseEvent(raw)
		if ok {
			return ev, nil
		}
	}
}

// parseEvent extracts the event name and concatenated data lines. Returns
// false for events with no data (heartbeat comments).
func parseEvent(raw []byte) (Event, bool) {
	var ev Event
	var data []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if len(data) == 0 {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
