package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEncodeUsesSnakeCase(t *testing.T) {
	ev := Event{Type: MessageSent, OwnerID: "u1", ConversationID: "u1_u2", MessageID: "m1", At: time.Unix(0, 0).UTC()}
	b, err := ev.Encode()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "message.sent", m["type"])
	assert.Equal(t, "u1_u2", m["conversation_id"])
	assert.NotContains(t, m, "payload")
	assert.Equal(t, "u1_u2", ev.Key())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), Event{Type: MessageSent}))
	require.NoError(t, r.Publish(context.Background(), Event{Type: ConversationRead}))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(ConversationRead), 1)

	r.Err = errors.New("broker down")
	assert.Error(t, r.Publish(context.Background(), Event{}))
	assert.Len(t, r.Events(), 2)
}

func TestNilNATSPublisherIsSafe(t *testing.T) {
	var p *NATSPublisher
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
