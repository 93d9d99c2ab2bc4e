package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/eventchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tcases := []struct {
		name    string
		raw     string
		want    Type
		wantErr error
	}{
		{
			name: "join event",
			raw:  `{"type":"join_event","userId":"u1","eventId":42}`,
			want: TypeJoinEvent,
		},
		{
			name: "chat message",
			raw:  `{"type":"chat_message","content":"hi","messageType":"message"}`,
			want: TypeChatMessage,
		},
		{
			name: "typing start short form",
			raw:  `{"type":"typing_start"}`,
			want: TypeTypingStart,
		},
		{
			name: "enriched typing stop",
			raw:  `{"type":"user_typing_stop","userId":"u1","username":"alice"}`,
			want: TypeUserTypingStop,
		},
		{
			name: "active users count of zero",
			raw:  `{"type":"active_users_count","count":0}`,
			want: TypeActiveUsers,
		},
		{
			name:    "not json",
			raw:     `{"type":`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"launch_missiles"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing type",
			raw:     `{"content":"hi"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "join without event id",
			raw:     `{"type":"join_event","userId":"u1"}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "blank chat message",
			raw:     `{"type":"chat_message","content":"   "}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "new message without stored id",
			raw:     `{"type":"new_message","message":{"content":"hi"}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "count missing",
			raw:     `{"type":"active_users_count"}`,
			wantErr: ErrMalformedFrame,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode([]byte(tc.raw))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr, "expected decode error")
				assert.Nil(t, f, "expected no frame on error")
				return
			}
			require.NoError(t, err, "expected frame to decode")
			assert.Equal(t, tc.want, f.Type, "expected frame type to match")
		})
	}
}

func TestEncodeNewMessage(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &types.Message{
		Id:        7,
		EventId:   42,
		UserId:    "u1",
		Content:   "hello",
		Type:      types.MessageTypeMessage,
		CreatedAt: created,
		User:      &types.User{Id: "u1", FirstName: "Ada"},
	}

	raw, err := Encode(NewMessage(msg))
	require.NoError(t, err, "expected encode to succeed")

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "new_message", got["type"], "expected type discriminator")

	m, ok := got["message"].(map[string]any)
	require.True(t, ok, "expected nested message object")
	assert.Equal(t, float64(7), m["id"], "expected stored id")
	assert.Equal(t, "hello", m["content"], "expected content")
	assert.Equal(t, "u1", m["user"].(map[string]any)["id"], "expected hydrated user")
	assert.NotContains(t, got, "count", "expected unrelated fields to be omitted")
}

func TestActiveUsersEncodesZero(t *testing.T) {
	raw, err := Encode(ActiveUsers(0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"active_users_count","count":0}`, string(raw), "expected zero count to be present")
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "event-42", ChannelName(42), "expected channel name to embed event id")

	id, err := ParseChannelName("event-42")
	assert.NoError(t, err)
	assert.Equal(t, 42, id, "expected round trip event id")

	for _, bad := range []string{"room-42", "event-", "event-abc", "event--1"} {
		_, err := ParseChannelName(bad)
		assert.Error(t, err, "expected error for channel %q", bad)
	}
}

func TestTypeInbound(t *testing.T) {
	assert.True(t, TypeJoinEvent.Inbound())
	assert.True(t, TypeTypingStop.Inbound())
	assert.False(t, TypeNewMessage.Inbound(), "expected server frames not to be inbound")
	assert.False(t, TypeUserTypingStart.Inbound(), "expected enriched typing to be server-only")
}
