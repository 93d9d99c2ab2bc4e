package client

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/npezzotti/eventchat/internal/protocol"
	"github.com/npezzotti/eventchat/internal/types"
)

// History is the local message list of one event. Messages are keyed by id,
// so a message delivered twice (history fetch plus broadcast, or a replayed
// frame after reconnect) appears once. Ids are assigned in creation order, so
// the list is kept sorted by id.
type History struct {
	mu    sync.Mutex
	order []int
	byId  map[int]types.Message
}

func NewHistory() *History {
	return &History{byId: make(map[int]types.Message)}
}

// Seed merges fetched messages, skipping ones already present, and returns
// the ones that were new.
func (h *History) Seed(msgs []types.Message) []types.Message {
	var added []types.Message
	for _, m := range msgs {
		if h.Add(m) {
			added = append(added, m)
		}
	}
	return added
}

// HistoryFetcher loads the latest messages of an event.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, eventId, limit int) ([]types.Message, error)
}

// Refresh fetches the latest messages and merges them, recovering messages
// whose broadcast was missed while the socket was down.
func (h *History) Refresh(ctx context.Context, f HistoryFetcher, eventId, limit int) ([]types.Message, error) {
	msgs, err := f.FetchHistory(ctx, eventId, limit)
	if err != nil {
		return nil, err
	}
	return h.Seed(msgs), nil
}

// Add inserts msg in id order and reports whether it was new.
func (h *History) Add(msg types.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byId[msg.Id]; ok {
		return false
	}
	h.byId[msg.Id] = msg
	i, _ := slices.BinarySearch(h.order, msg.Id)
	h.order = slices.Insert(h.order, i, msg.Id)
	return true
}

// Apply folds a frame into the history. It reports whether anything changed.
func (h *History) Apply(f *protocol.Frame) bool {
	switch f.Type {
	case protocol.TypeNewMessage:
		return f.Message != nil && h.Add(*f.Message)
	case protocol.TypeReactionUpdate:
		return h.setReactions(f.MessageId, f.Reactions)
	}
	return false
}

func (h *History) setReactions(messageId int, reactions map[string]int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, ok := h.byId[messageId]
	if !ok {
		return false
	}

	md := types.Metadata{}
	if msg.Metadata != nil {
		md = *msg.Metadata
	}
	md.Reactions = maps.Clone(reactions)
	msg.Metadata = &md
	h.byId[messageId] = msg
	return true
}

// Messages returns the messages oldest first.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.Message, len(h.order))
	for i, id := range h.order {
		out[i] = h.byId[id]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
