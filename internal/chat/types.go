// Package chat holds the presence and room messaging engine: the user,
// room and message registries, the broadcast dispatcher, and the lifecycle
// controller that drives them from connection events.
package chat

import "time"

// DefaultRoomID is the room every connection auto-joins and never leaves.
const DefaultRoomID = "general"

// DefaultHistoryLimit is the size of the recent-history window sent on join.
const DefaultHistoryLimit = 50

// DefaultRole is assigned to every membership entry.
const DefaultRole = "member"

// SystemSender is the virtual author of welcome, join and departure messages.
const SystemSender = "🍔 Биг Мак"

const (
	defaultAvatar = "👤"
	defaultStatus = "Новый участник"
	timeLayout    = "15:04"
)

// User is a registered chat identity. Online and ConnID are owned by the
// Presence registry.
type User struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Status   string `json:"status"`
	Online   bool   `json:"online"`
	ConnID   string `json:"-"`
}

// Room is static room metadata loaded at startup.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is one user's entry in a room.
type Membership struct {
	JoinedAt time.Time
	Role     string
}

// Member is a row of a membership snapshot.
type Member struct {
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Online   bool      `json:"online"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
	Role     string    `json:"role"`
}

// RoomSummary is a row of the room listing.
type RoomSummary struct {
	ID          string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	MemberCount int    `json:"members_count"`
	OnlineCount int    `json:"online_members"`
	CreatedAt   string `json:"created_at"`
}

// Message is an immutable chat message.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"username"`
	Body      string    `json:"message"`
	Time      string    `json:"time"`
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"room"`
	Avatar    string    `json:"avatar,omitempty"`
	System    bool      `json:"system,omitempty"`
}

// EventKind names an outbound event.
type EventKind string

// Outbound event kinds.
const (
	EventNewMessage        EventKind = "new_message"
	EventUserStatus        EventKind = "user_status"
	EventRoomHistory       EventKind = "room_history"
	EventRoomMembersUpdate EventKind = "room_members_update"
	EventUserTyping        EventKind = "user_typing"
)

// Event is delivered to connections. Data is one of the payload types below
// or a Message.
type Event struct {
	Kind EventKind `json:"type"`
	Data any       `json:"data"`
}

// UserStatusPayload announces a presence change.
type UserStatusPayload struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status,omitempty"`
}

// RoomHistoryPayload carries the recent messages of a room.
type RoomHistoryPayload struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// MembersPayload is a membership snapshot.
type MembersPayload struct {
	Room        string   `json:"room"`
	Members     []Member `json:"members"`
	TotalCount  int      `json:"total_count"`
	OnlineCount int      `json:"online_count"`
}

// TypingPayload is an ephemeral typing indicator.
type TypingPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Typing   bool   `json:"typing"`
}

// Conn is a live client link as seen by the engine. Username is fixed when
// the connection is created; an empty username marks an unauthenticated
// connection.
type Conn interface {
	ID() string
	Username() string
	Deliver(Event) error
}

func newMembersPayload(roomID string, members []Member) MembersPayload {
	online := 0
	for _, m := range members {
		if m.Online {
			online++
		}
	}
	return MembersPayload{
		Room:        roomID,
		Members:     members,
		TotalCount:  len(members),
		OnlineCount: online,
	}
}
