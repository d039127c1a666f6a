package opencodecli

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventReaderBasic(t *testing.T) {
	stream := "event: message\ndata: {\"type\":\"server.connected\"}\n\n" +
		"event: message\ndata: {\"type\":\"part.updated\"}\n\n"

	r := NewEventReader(strings.NewReader(stream))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Name)
	assert.Equal(t, `{"type":"server.connected"}`, ev.Data)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"part.updated"}`, ev.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventReaderNormalizesCRLF(t *testing.T) {
	stream := "event: message\r\ndata: {\"a\":1}\r\n\r\n"

	r := NewEventReader(strings.NewReader(stream))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Name)
	assert.Equal(t, `{"a":1}`, ev.Data)
}

func TestEventReaderSkipsHeartbeats(t *testing.T) {
	stream := ": heartbeat\n\n" +
		": heartbeat\n\n" +
		"event: message\ndata: {\"real\":true}\n\n"

	r := NewEventReader(strings.NewReader(stream))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"real":true}`, ev.Data)
}

func TestEventReaderJoinsMultiLineData(t *testing.T) {
	stream := "data: line one\ndata: line two\n\n"

	r := NewEventReader(strings.NewReader(stream))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", ev.Data)
}

func TestEventReaderRejectsOversizedEvent(t *testing.T) {
	// One event larger than the 10 MiB cap must error, not hang or OOM.
	huge := "data: " + strings.Repeat("x", maxEventSize+1024) + "\n\n"

	r := NewEventReader(strings.NewReader(huge))
	_, err := r.Next()
	assert.Error(t, err)
}
