package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	MessageTypeMessage   = "message"
	MessageTypeSystem    = "system"
	MessageTypeChallenge = "challenge"
)

// User is the public profile of an authenticated user. It is produced by the
// identity layer and never re-derived by the messaging core.
type User struct {
	Id              string `json:"id"`
	FirstName       string `json:"firstName,omitempty"`
	Username        string `json:"username,omitempty"`
	ProfileImageUrl string `json:"profileImageUrl,omitempty"`
}

// DisplayName is the name shown next to messages and typing indicators.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return "Anonymous"
	}
}

// Metadata is the typed replacement for a message's free-form metadata column.
type Metadata struct {
	Reactions   map[string]int `json:"reactions,omitempty"`
	ChallengeId int            `json:"challengeId,omitempty"`
	ReplyToId   int            `json:"replyToId,omitempty"`
}

func (m Metadata) IsZero() bool {
	return len(m.Reactions) == 0 && m.ChallengeId == 0 && m.ReplyToId == 0
}

// Value implements driver.Valuer so Metadata can be written to a jsonb column.
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb columns. NULL scans to the zero value.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("metadata: unsupported scan type")
	}
}

// Message is a stored chat message, hydrated with the sender's public profile.
type Message struct {
	Id        int       `json:"id"`
	EventId   int       `json:"eventId"`
	UserId    string    `json:"userId"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	User      *User     `json:"user,omitempty"`
}

type Notification struct {
	Id        int       `json:"id"`
	UserId    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	RelatedId int       `json:"relatedId,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Presence is a point-in-time view of a room.
type Presence struct {
	EventId int      `json:"eventId"`
	Count   int      `json:"count"`
	Typing  []string `json:"typing"`
}
