package database

import (
	"strings"

	"github.com/npezzotti/eventchat/internal/types"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
	maxContentLength    = 4000
)

type CreateMessageParams struct {
	EventId  int
	UserId   string
	Content  string
	Type     string
	Metadata *types.Metadata
}

// Normalize trims the content and applies the default message type.
// Reactions are only ever counted by AddReaction, so any sent with a new
// message are dropped.
func (p *CreateMessageParams) Normalize() {
	p.Content = strings.TrimSpace(p.Content)
	if p.Type == "" {
		p.Type = types.MessageTypeMessage
	}

	if p.Metadata != nil {
		md := *p.Metadata
		md.Reactions = nil
		p.Metadata = &md
		if md.IsZero() {
			p.Metadata = nil
		}
	}
}

// Validate reports a *ValidationError when the params cannot be stored.
func (p CreateMessageParams) Validate() error {
	if p.EventId <= 0 {
		return &ValidationError{Field: "eventId", Reason: "must be positive"}
	}
	if p.UserId == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if strings.TrimSpace(p.Content) == "" {
		return &ValidationError{Field: "content", Reason: "message content is required"}
	}
	if len(p.Content) > maxContentLength {
		return &ValidationError{Field: "content", Reason: "message content is too long"}
	}
	switch p.Type {
	case types.MessageTypeMessage, types.MessageTypeSystem, types.MessageTypeChallenge:
	default:
		return &ValidationError{Field: "type", Reason: "unknown message type"}
	}
	return nil
}

type CreateNotificationParams struct {
	UserId    string
	Type      string
	Title     string
	Content   string
	RelatedId int
}

// ClampLimit maps a requested history size onto the supported range.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
