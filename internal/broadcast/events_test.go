package broadcast

import (
	"encoding/json"
	"testing"

	"tush00nka/bbbab_teamchat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNames(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		feed Feed
		id   uint
	}{
		{"private-channel.12", KindPrivate, FeedChannel, 12},
		{"presence-channel.3", KindPresence, FeedChannel, 3},
		{"private-user.7", KindPrivate, FeedUser, 7},
		{"presence-global", KindPresence, FeedGlobal, 0},
		{"public.channels", KindPublic, FeedChannelList, 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			target, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, target.Kind)
			assert.Equal(t, tt.feed, target.Feed)
			assert.Equal(t, tt.id, target.ID)
		})
	}

	for _, bad := range []string{"", "private-channel.", "private-channel.0", "chat.1", "presence-user.1"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestFrameShape(t *testing.T) {
	frame, err := EncodeFrame(PresenceChannel(4), UserTyping{
		ChannelID:   4,
		User:        model.UserSummary{ID: 2, Name: "bob"},
		ExpiresInMs: 3000,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, "presence-channel.4", decoded["channel"])
	assert.Equal(t, "user.typing", decoded["event"])
	assert.Equal(t, float64(3000), decoded["data"].(map[string]any)["expires_in_ms"])
}

func TestEnvelopeDecodeUnknownEvent(t *testing.T) {
	_, err := Envelope{Event: "message.exploded", Data: []byte(`{}`)}.Decode()
	assert.Error(t, err)
}

func TestEnvelopeDecodeKeepsSeq(t *testing.T) {
	env, err := NewEnvelope(PresenceGlobal, PresenceLeaving{Member: model.UserSummary{ID: 1}, Seq: 9}, 0, "n")
	require.NoError(t, err)

	event, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, PresenceLeaving{Member: model.UserSummary{ID: 1}, Seq: 9}, event)
}
