package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Engine is the connection lifecycle controller. It is the only mutator of
// presence, room membership and the message log, and it serializes every
// transition so that broadcasts always observe a complete transition.
type Engine struct {
	mu           sync.RWMutex
	presence     *Presence
	rooms        *RoomRegistry
	messages     *MessageLog
	dispatch     *Dispatcher
	historyLimit int
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHistoryLimit sets the number of messages sent on room join.
func WithHistoryLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.historyLimit = limit
		}
	}
}

// NewEngine wires the registries together. The room registry must contain
// DefaultRoomID.
func NewEngine(presence *Presence, rooms *RoomRegistry, messages *MessageLog, dispatch *Dispatcher, opts ...Option) *Engine {
	if !rooms.Exists(DefaultRoomID) {
		panic(fmt.Sprintf("chat: room registry has no %q room", DefaultRoomID))
	}
	e := &Engine{
		presence:     presence,
		rooms:        rooms,
		messages:     messages,
		dispatch:     dispatch,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Presence returns the presence registry.
func (e *Engine) Presence() *Presence { return e.presence }

// Rooms returns the room registry.
func (e *Engine) Rooms() *RoomRegistry { return e.rooms }

// Messages returns the message log.
func (e *Engine) Messages() *MessageLog { return e.messages }

// Dispatcher returns the broadcast dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatch }

// Connect attaches conn and, when it carries a registered identity, brings
// the user online in the default room. If the user already had a current
// connection, that connection is disconnected first and returned so the
// caller can close it.
func (e *Engine) Connect(conn Conn) (superseded Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dispatch.Attach(conn)

	user, ok := e.identity(conn)
	if !ok {
		return nil
	}
	logCtx := e.logFor(conn)

	if prevID, online := e.presence.CurrentConn(user.Username); online && prevID != conn.ID() {
		if prev, attached := e.dispatch.Lookup(prevID); attached {
			superseded = prev
		}
		logCtx.WithField("previous_conn_id", prevID).Info("Superseding previous connection")
		e.disconnectLocked(user.Username, prevID)
	}

	e.presence.SetOnline(user.Username, conn.ID())
	if !e.rooms.IsMember(DefaultRoomID, user.Username) {
		if err := e.rooms.Join(DefaultRoomID, user.Username, e.now()); err != nil {
			panic(err)
		}
	}
	e.dispatch.Subscribe(conn.ID(), DefaultRoomID)

	e.dispatch.ToAll(Event{Kind: EventUserStatus, Data: UserStatusPayload{
		Username: user.Username,
		Online:   true,
		Avatar:   user.Avatar,
		Status:   user.Status,
	}})
	e.broadcastAllMembers()
	e.postSystem(DefaultRoomID, fmt.Sprintf("👋 Добро пожаловать, %s! Приятного общения!", user.Username))

	logCtx.Info("User connected")
	return superseded
}

// Disconnect detaches conn. If conn is the user's current connection the
// user goes offline and leaves every room; otherwise nothing else happens,
// which makes repeated calls no-ops.
func (e *Engine) Disconnect(conn Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dispatch.Detach(conn.ID())

	username := conn.Username()
	if username == "" {
		return
	}
	if current, online := e.presence.CurrentConn(username); !online || current != conn.ID() {
		return
	}
	e.disconnectLocked(username, conn.ID())
	e.logFor(conn).Info("User disconnected")
}

func (e *Engine) disconnectLocked(username, connID string) {
	e.dispatch.Detach(connID)
	e.presence.SetOffline(username)

	for _, roomID := range e.rooms.RoomsOf(username) {
		e.rooms.Leave(roomID, username)
		e.postSystem(roomID, fmt.Sprintf("👋 %s покинул чат", username))
	}

	e.dispatch.ToAll(Event{Kind: EventUserStatus, Data: UserStatusPayload{
		Username: username,
		Online:   false,
	}})
	e.broadcastAllMembers()
}

// JoinRoom moves the user into roomID. Any other non-default room is left
// first; the default room is never left. The recent history of roomID goes
// to conn only. Unknown rooms are ignored.
func (e *Engine) JoinRoom(conn Conn, roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.currentUser(conn)
	if !ok {
		return
	}
	logCtx := e.logFor(conn).WithField("room", roomID)
	if !e.rooms.Exists(roomID) {
		logCtx.Debug("Join ignored for unknown room")
		return
	}

	for _, old := range e.rooms.RoomsOf(user.Username) {
		if old == DefaultRoomID {
			continue
		}
		e.rooms.Leave(old, user.Username)
		e.dispatch.Unsubscribe(conn.ID(), old)
		e.broadcastMembers(old)
	}

	if err := e.rooms.Join(roomID, user.Username, e.now()); err != nil {
		panic(err)
	}
	e.dispatch.Subscribe(conn.ID(), roomID)

	e.dispatch.ToConn(conn, Event{Kind: EventRoomHistory, Data: RoomHistoryPayload{
		Room:     roomID,
		Messages: e.messages.RecentByRoom(roomID, e.historyLimit),
	}})
	e.postSystem(roomID, fmt.Sprintf("🔔 %s присоединился к чату", user.Username))
	e.broadcastMembers(roomID)

	logCtx.Info("User joined room")
}

// SendMessage appends a message from the connection's user to roomID and
// broadcasts it. An empty roomID means the default room. The room id is not
// validated against the registry.
func (e *Engine) SendMessage(conn Conn, roomID, body string) (Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.currentUser(conn)
	if !ok {
		return Message{}, false
	}
	if roomID == "" {
		roomID = DefaultRoomID
	}

	now := e.now()
	msg := e.messages.Append(Message{
		Author:    user.Username,
		Body:      body,
		Time:      now.Format(timeLayout),
		Timestamp: now,
		RoomID:    roomID,
		Avatar:    user.Avatar,
	})
	e.dispatch.ToRoom(roomID, Event{Kind: EventNewMessage, Data: msg})

	e.logFor(conn).WithFields(logrus.Fields{"room": roomID, "message_id": msg.ID}).Debug("Message sent")
	return msg, true
}

// UpdateStatus replaces the user's status line and refreshes the snapshot
// of every room the user is in.
func (e *Engine) UpdateStatus(conn Conn, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.currentUser(conn)
	if !ok {
		return
	}
	e.presence.SetStatus(user.Username, status)
	for _, roomID := range e.rooms.RoomsOf(user.Username) {
		e.broadcastMembers(roomID)
	}
}

// Typing relays a typing indicator to the other subscribers of roomID. It is
// never logged.
func (e *Engine) Typing(conn Conn, roomID string, typing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.currentUser(conn)
	if !ok {
		return
	}
	e.dispatch.ToRoomExcept(roomID, Event{Kind: EventUserTyping, Data: TypingPayload{
		Username: user.Username,
		Room:     roomID,
		Typing:   typing,
	}}, conn.ID())
}

// ListRooms returns the room listing.
func (e *Engine) ListRooms() []RoomSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rooms.List()
}

// Members returns the membership snapshot of roomID or ErrRoomNotFound.
func (e *Engine) Members(roomID string) (MembersPayload, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	members, err := e.rooms.Members(roomID)
	if err != nil {
		return MembersPayload{}, err
	}
	return newMembersPayload(roomID, members), nil
}

// History returns the recent messages of roomID.
func (e *Engine) History(roomID string, limit int) []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.messages.RecentByRoom(roomID, limit)
}

func (e *Engine) identity(conn Conn) (User, bool) {
	username := conn.Username()
	if username == "" {
		return User{}, false
	}
	user, ok := e.presence.Lookup(username)
	if !ok {
		e.logFor(conn).WithError(ErrUnknownUser).Warn("Ignoring connection with unregistered identity")
		return User{}, false
	}
	return user, true
}

// currentUser resolves the identity of conn and requires conn to be the
// user's current connection.
func (e *Engine) currentUser(conn Conn) (User, bool) {
	username := conn.Username()
	if username == "" {
		return User{}, false
	}
	user, ok := e.presence.Lookup(username)
	if !ok || !user.Online || user.ConnID != conn.ID() {
		return User{}, false
	}
	return user, true
}

func (e *Engine) postSystem(roomID, body string) {
	now := e.now()
	msg := e.messages.Append(Message{
		Author:    SystemSender,
		Body:      body,
		Time:      now.Format(timeLayout),
		Timestamp: now,
		RoomID:    roomID,
		System:    true,
	})
	e.dispatch.ToRoom(roomID, Event{Kind: EventNewMessage, Data: msg})
}

func (e *Engine) broadcastMembers(roomID string) {
	members, err := e.rooms.Members(roomID)
	if err != nil {
		return
	}
	e.dispatch.ToRoom(roomID, Event{Kind: EventRoomMembersUpdate, Data: newMembersPayload(roomID, members)})
}

func (e *Engine) broadcastAllMembers() {
	for _, roomID := range e.rooms.IDs() {
		e.broadcastMembers(roomID)
	}
}

func (e *Engine) logFor(conn Conn) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"component": "engine",
		"conn_id":   conn.ID(),
		"username":  conn.Username(),
	})
}
