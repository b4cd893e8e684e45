package live

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderEvents(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"event: connected",
		"data: connected!",
		"",
		"id: 7",
		"event: notification",
		`data: {"id":1,`,
		`data: "title":"t"}`,
		"",
		"data: plain",
		"",
		"",
	}, "\n")

	dec := NewDecoder(strings.NewReader(stream))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Name: "connected", Data: "connected!"}, ev)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "7", Name: "notification", Data: "{\"id\":1,\n\"title\":\"t\"}"}, ev)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Name)
	assert.Equal(t, "plain", ev.Data)
	assert.Equal(t, "7", ev.ID, "id persists across events")

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "7", dec.LastEventID())
}

func TestDecoderCRLFAndFieldWithoutSpace(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\ufeffevent:notification\r\ndata:x\r\n\r\n"))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "notification", ev.Name)
	assert.Equal(t, "x", ev.Data)
}

func TestDecoderSkipsEventWithoutData(t *testing.T) {
	dec := NewDecoder(strings.NewReader("event: ping\n\nevent: notification\ndata: y\n\n"))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "notification", ev.Name)
	assert.Equal(t, "y", ev.Data)
}

func TestDecoderDiscardsTruncatedEvent(t *testing.T) {
	dec := NewDecoder(strings.NewReader("event: notification\ndata: {\"id\":"))

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoderIgnoresRetry(t *testing.T) {
	dec := NewDecoder(strings.NewReader("retry: 1\ndata: z\n\n"))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "z", ev.Data)
}
