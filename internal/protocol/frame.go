// Package protocol defines the JSON frames exchanged over the event socket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/npezzotti/eventchat/internal/types"
)

type Type string

const (
	TypeJoinEvent       Type = "join_event"
	TypeChatMessage     Type = "chat_message"
	TypeNewMessage      Type = "new_message"
	TypeTypingStart     Type = "typing_start"
	TypeTypingStop      Type = "typing_stop"
	TypeUserTypingStart Type = "user_typing_start"
	TypeUserTypingStop  Type = "user_typing_stop"
	TypeReactionUpdate  Type = "reaction_update"
	TypeUserJoined      Type = "user_joined"
	TypeUserLeft        Type = "user_left"
	TypeActiveUsers     Type = "active_users_count"
)

// Inbound reports whether frames of this type are sent by clients.
func (t Type) Inbound() bool {
	switch t {
	case TypeJoinEvent, TypeChatMessage, TypeTypingStart, TypeTypingStop:
		return true
	}
	return false
}

func (t Type) known() bool {
	switch t {
	case TypeJoinEvent, TypeChatMessage, TypeNewMessage, TypeTypingStart, TypeTypingStop,
		TypeUserTypingStart, TypeUserTypingStop, TypeReactionUpdate, TypeUserJoined,
		TypeUserLeft, TypeActiveUsers:
		return true
	}
	return false
}

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)

// Frame is a single wire message. Type selects which of the remaining fields
// are meaningful; Validate enforces that per type.
type Frame struct {
	Type        Type            `json:"type"`
	UserId      string          `json:"userId,omitempty"`
	EventId     int             `json:"eventId,omitempty"`
	Username    string          `json:"username,omitempty"`
	Content     string          `json:"content,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
	Metadata    *types.Metadata `json:"metadata,omitempty"`
	Message     *types.Message  `json:"message,omitempty"`
	MessageId   int             `json:"messageId,omitempty"`
	Reactions   map[string]int  `json:"reactions,omitempty"`
	Count       *int            `json:"count,omitempty"`
}

// Validate checks that the fields required by f.Type are present.
func (f *Frame) Validate() error {
	switch f.Type {
	case TypeJoinEvent:
		if f.UserId == "" || f.EventId <= 0 {
			return fmt.Errorf("%w: join_event requires userId and eventId", ErrMalformedFrame)
		}
	case TypeChatMessage:
		if strings.TrimSpace(f.Content) == "" {
			return fmt.Errorf("%w: chat_message requires content", ErrMalformedFrame)
		}
	case TypeTypingStart, TypeTypingStop:
		// the server fills identity from the session
	case TypeUserTypingStart, TypeUserTypingStop:
		if f.Username == "" {
			return fmt.Errorf("%w: %s requires username", ErrMalformedFrame, f.Type)
		}
	case TypeNewMessage:
		if f.Message == nil || f.Message.Id <= 0 {
			return fmt.Errorf("%w: new_message requires a stored message", ErrMalformedFrame)
		}
	case TypeReactionUpdate:
		if f.MessageId <= 0 {
			return fmt.Errorf("%w: reaction_update requires messageId", ErrMalformedFrame)
		}
	case TypeActiveUsers:
		if f.Count == nil || *f.Count < 0 {
			return fmt.Errorf("%w: active_users_count requires count", ErrMalformedFrame)
		}
	case TypeUserJoined, TypeUserLeft:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return nil
}

// Decode parses and validates a raw frame.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !f.Type.known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// ChannelName is the pub/sub channel carrying frames for an event room.
func ChannelName(eventId int) string {
	return "event-" + strconv.Itoa(eventId)
}

// ParseChannelName is the inverse of ChannelName.
func ParseChannelName(channel string) (int, error) {
	id, ok := strings.CutPrefix(channel, "event-")
	if !ok {
		return 0, fmt.Errorf("invalid channel %q", channel)
	}
	eventId, err := strconv.Atoi(id)
	if err != nil || eventId <= 0 {
		return 0, fmt.Errorf("invalid channel %q", channel)
	}
	return eventId, nil
}

func JoinEvent(userId string, eventId int) *Frame {
	return &Frame{Type: TypeJoinEvent, UserId: userId, EventId: eventId}
}

func ChatMessage(content, messageType string, metadata *types.Metadata) *Frame {
	return &Frame{Type: TypeChatMessage, Content: content, MessageType: messageType, Metadata: metadata}
}

func NewMessage(msg *types.Message) *Frame {
	return &Frame{Type: TypeNewMessage, Message: msg}
}

func TypingStart() *Frame { return &Frame{Type: TypeTypingStart} }

func TypingStop() *Frame { return &Frame{Type: TypeTypingStop} }

func UserTypingStart(userId, username string) *Frame {
	return &Frame{Type: TypeUserTypingStart, UserId: userId, Username: username}
}

func UserTypingStop(userId, username string) *Frame {
	return &Frame{Type: TypeUserTypingStop, UserId: userId, Username: username}
}

func ReactionUpdate(messageId int, reactions map[string]int) *Frame {
	return &Frame{Type: TypeReactionUpdate, MessageId: messageId, Reactions: reactions}
}

func UserJoined(userId, username string) *Frame {
	return &Frame{Type: TypeUserJoined, UserId: userId, Username: username}
}

func UserLeft(userId, username string) *Frame {
	return &Frame{Type: TypeUserLeft, UserId: userId, Username: username}
}

func ActiveUsers(count int) *Frame {
	return &Frame{Type: TypeActiveUsers, Count: &count}
}
