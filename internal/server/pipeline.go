package server

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/eventchat/internal/database"
	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/types"
)

// Notifier is told about every stored message. Implementations must not block.
type Notifier interface {
	MessagePosted(msg types.Message)
}

// PostMessage stores a chat message and broadcasts it to the event room as a
// new_message frame. Messages from one sender are stored and broadcast in the
// order they are submitted. Nothing is broadcast when validation or storage
// fails.
func (cs *ChatServer) PostMessage(ctx context.Context, eventId int, sender types.User, content, msgType string, metadata *types.Metadata) (types.Message, error) {
	params := database.CreateMessageParams{
		EventId:  eventId,
		UserId:   sender.Id,
		Content:  content,
		Type:     msgType,
		Metadata: metadata,
	}
	params.Normalize()
	if err := params.Validate(); err != nil {
		return types.Message{}, err
	}

	unlock := cs.senders.Lock(sender.Id)
	defer unlock()

	msg, err := cs.db.CreateMessage(params)
	if err != nil {
		var verr *database.ValidationError
		var perr *database.PersistenceError
		if !errors.As(err, &verr) && !errors.As(err, &perr) {
			err = &database.PersistenceError{Op: "create message", Err: err}
		}
		return types.Message{}, err
	}

	profile := sender
	msg.User = &profile

	if err := cs.broadcaster.Broadcast(ctx, eventId, protocol.NewMessage(&msg)); err != nil {
		// the message is stored; clients pick it up on their next history fetch
		cs.log.Printf("broadcast message %d to event %d: %v", msg.Id, eventId, err)
	}
	cs.stats.Incr(metricMessagesSent)

	if cs.notifier != nil {
		cs.notifier.MessagePosted(msg)
	}

	return msg, nil
}

// React adds one emoji reaction to a message and broadcasts the resulting
// counts. The repository returns sql.ErrNoRows when the message is not part
// of the event.
func (cs *ChatServer) React(ctx context.Context, eventId, messageId int, user types.User, emoji string) (map[string]int, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, &database.ValidationError{Field: "emoji", Reason: "emoji is required"}
	}

	reactions, err := cs.db.AddReaction(eventId, messageId, emoji)
	if err != nil {
		return nil, err
	}

	cs.log.Printf("user %q reacted %s to message %d", user.Id, emoji, messageId)
	if err := cs.broadcaster.Broadcast(ctx, eventId, protocol.ReactionUpdate(messageId, reactions)); err != nil {
		cs.log.Printf("broadcast reaction on message %d: %v", messageId, err)
	}

	return reactions, nil
}
