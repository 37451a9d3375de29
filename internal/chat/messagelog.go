package chat

import (
	"sync"

	"github.com/google/uuid"
)

// MessageLog is an append-only message store indexed by room. Messages are
// never edited or removed.
type MessageLog struct {
	mu     sync.RWMutex
	byRoom map[string][]Message
	total  int
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{byRoom: make(map[string][]Message)}
}

// Append stores msg after every message already in the log, assigning an id
// when it has none, and returns the stored message.
func (l *MessageLog) Append(msg Message) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	l.byRoom[msg.RoomID] = append(l.byRoom[msg.RoomID], msg)
	l.total++
	return msg
}

// RecentByRoom returns the last limit messages of roomID in chronological
// order. A non-positive limit means DefaultHistoryLimit.
func (l *MessageLog) RecentByRoom(roomID string, limit int) []Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.byRoom[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len returns the number of messages across all rooms.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
