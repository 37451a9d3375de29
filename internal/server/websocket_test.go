package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func isUserMessage(author, body string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var msg chat.Message
		return json.Unmarshal(raw, &msg) == nil && !msg.System && msg.Author == author && msg.Body == body
	}
}

func isStatus(username string, online bool) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var p chat.UserStatusPayload
		return json.Unmarshal(raw, &p) == nil && p.Username == username && p.Online == online
	}
}

func TestWebSocketConnectAnnouncesUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")

	bob := env.dial(t, "bob")
	raw := bob.waitFor(chat.EventUserStatus, isStatus("bob", true))
	status := decode[chat.UserStatusPayload](t, raw)
	assert.Equal(t, "🍟", status.Avatar)
	assert.Equal(t, "waiting", status.Status)

	alice.waitFor(chat.EventUserStatus, isStatus("bob", true))
	members := decode[chat.MembersPayload](t, alice.waitFor(chat.EventRoomMembersUpdate, nil))
	assert.Equal(t, chat.DefaultRoomID, members.Room)
	assert.Equal(t, 2, members.TotalCount)
	assert.Equal(t, 2, members.OnlineCount)

	welcome := decode[chat.Message](t, alice.waitFor(chat.EventNewMessage, nil))
	assert.True(t, welcome.System)
	assert.Equal(t, "👋 Добро пожаловать, bob! Приятного общения!", welcome.Body)
}

func TestWebSocketMessageBroadcasting(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	alice.send(Frame{Type: FrameSendMessage, Message: "hello"})

	msg := decode[chat.Message](t, bob.waitFor(chat.EventNewMessage, isUserMessage("alice", "hello")))
	assert.Equal(t, chat.DefaultRoomID, msg.RoomID)
	assert.Equal(t, "🍔", msg.Avatar)
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, msg.Time, len("15:04"))

	alice.waitFor(chat.EventNewMessage, isUserMessage("alice", "hello"))
}

func TestWebSocketRoomsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	alice.send(Frame{Type: FrameJoinRoom, Room: "gaming"})
	history := decode[chat.RoomHistoryPayload](t, alice.waitFor(chat.EventRoomHistory, nil))
	assert.Equal(t, "gaming", history.Room)
	assert.Empty(t, history.Messages)

	alice.send(Frame{Type: FrameSendMessage, Room: "gaming", Message: "gg"})
	alice.waitFor(chat.EventNewMessage, isUserMessage("alice", "gg"))

	alice.send(Frame{Type: FrameSendMessage, Message: "back in general"})
	// bob is only in general, so the first user message he sees is the second one.
	first := decode[chat.Message](t, bob.waitFor(chat.EventNewMessage, func(raw json.RawMessage) bool {
		return !decode[chat.Message](t, raw).System
	}))
	assert.Equal(t, "back in general", first.Body)

	bob.send(Frame{Type: FrameJoinRoom, Room: "gaming"})
	history = decode[chat.RoomHistoryPayload](t, bob.waitFor(chat.EventRoomHistory, nil))
	require.NotEmpty(t, history.Messages)
	var bodies []string
	for _, m := range history.Messages {
		bodies = append(bodies, m.Body)
	}
	assert.Contains(t, bodies, "gg")
}

func TestWebSocketTypingSkipsSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	bob.send(Frame{Type: FrameTyping, Room: chat.DefaultRoomID, Typing: true})
	typing := decode[chat.TypingPayload](t, alice.waitFor(chat.EventUserTyping, nil))
	assert.Equal(t, chat.TypingPayload{Username: "bob", Room: chat.DefaultRoomID, Typing: true}, typing)

	// A message after the typing frame proves bob's socket never got his own indicator.
	bob.send(Frame{Type: FrameSendMessage, Message: "done"})
	for {
		ev, err := bob.next()
		require.NoError(t, err)
		require.NotEqual(t, chat.EventUserTyping, ev.Type)
		if ev.Type == chat.EventNewMessage && isUserMessage("bob", "done")(ev.Data) {
			break
		}
	}
}

func TestWebSocketStatusUpdateRefreshesMembers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	env.login(t, "bob")

	alice.send(Frame{Type: FrameUpdateStatus, Status: "eating"})

	raw := alice.waitFor(chat.EventRoomMembersUpdate, func(raw json.RawMessage) bool {
		for _, m := range decode[chat.MembersPayload](t, raw).Members {
			if m.Username == "alice" && m.Status == "eating" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, chat.DefaultRoomID, decode[chat.MembersPayload](t, raw).Room)
}

func TestWebSocketDisconnectBroadcastsOffline(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	require.NoError(t, bob.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, bob.conn.Close())

	// bob's own welcome may still be queued ahead of the departure.
	departure := decode[chat.Message](t, alice.waitFor(chat.EventNewMessage, func(raw json.RawMessage) bool {
		m := decode[chat.Message](t, raw)
		return m.System && strings.Contains(m.Body, "покинул")
	}))
	assert.True(t, departure.System)
	assert.Equal(t, "👋 bob покинул чат", departure.Body)
	alice.waitFor(chat.EventUserStatus, isStatus("bob", false))
	assert.False(t, env.hub.Engine().Presence().IsOnline("bob"))
}

func TestWebSocketSecondLoginSupersedesFirst(t *testing.T) {
	env := newTestEnv(t)
	first := env.login(t, "alice")
	second := env.login(t, "alice")

	err := first.readUntilError()
	assert.True(t, websocket.IsCloseError(err,
		websocket.CloseNoStatusReceived,
		websocket.CloseNormalClosure,
		websocket.CloseAbnormalClosure), "unexpected error %v", err)

	second.send(Frame{Type: FrameSendMessage, Message: "still here"})
	second.waitFor(chat.EventNewMessage, isUserMessage("alice", "still here"))
}

func TestWebSocketAnonymousConnection(t *testing.T) {
	env := newTestEnv(t)
	anon := env.dial(t, "")
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, readWait, 10*time.Millisecond)
	alice := env.login(t, "alice")

	anon.waitFor(chat.EventUserStatus, isStatus("alice", true))

	anon.send(Frame{Type: FrameSendMessage, Message: "ghost"})
	anon.send(Frame{Type: FrameJoinRoom, Room: "music"})
	alice.send(Frame{Type: FrameSendMessage, Message: "after"})

	first := decode[chat.Message](t, alice.waitFor(chat.EventNewMessage, func(raw json.RawMessage) bool {
		return !decode[chat.Message](t, raw).System
	}))
	assert.Equal(t, "after", first.Body)
	assert.False(t, env.hub.Engine().Rooms().IsMember("music", ""))
}

func TestWebSocketUnknownUserIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	mallory := env.dial(t, "mallory")
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, readWait, 10*time.Millisecond)
	alice := env.login(t, "alice")

	mallory.waitFor(chat.EventUserStatus, isStatus("alice", true))
	assert.False(t, env.hub.Engine().Presence().IsOnline("mallory"))

	mallory.send(Frame{Type: FrameSendMessage, Message: "hi"})
	alice.send(Frame{Type: FrameSendMessage, Message: "after"})
	first := decode[chat.Message](t, alice.waitFor(chat.EventNewMessage, func(raw json.RawMessage) bool {
		return !decode[chat.Message](t, raw).System
	}))
	assert.Equal(t, "after", first.Body)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	header := http.Header{}
	header.Set("Origin", testOrigin)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=garbage"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketOriginValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, origin := range []string{"", "http://evil.example", "not-a-url"} {
		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(t, "alice"), header)
		if conn != nil {
			_ = conn.Close()
		}
		require.Error(t, err, origin)
		require.NotNil(t, resp, origin)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, origin)
		_ = resp.Body.Close()
	}
	assert.False(t, env.hub.Engine().Presence().IsOnline("alice"))
}

func TestWebSocketMessageSizeLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxMessageSize = 128 })
	alice := env.login(t, "alice")

	alice.send(Frame{Type: FrameSendMessage, Message: strings.Repeat("x", 512)})

	err := alice.readUntilError()
	assert.True(t, websocket.IsCloseError(err,
		websocket.CloseMessageTooBig,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure), "unexpected error %v", err)
}

func TestWebSocketConcurrentSenders(t *testing.T) {
	env := newTestEnv(t)
	users := []string{"alice", "bob", "carol"}
	clients := make(map[string]*wsClient, len(users))
	for _, u := range users {
		clients[u] = env.login(t, u)
	}

	const perUser = 5
	var g errgroup.Group
	for _, u := range users {
		u := u
		c := clients[u]
		g.Go(func() error {
			for i := 0; i < perUser; i++ {
				if err := c.conn.WriteJSON(Frame{Type: FrameSendMessage, Message: fmt.Sprintf("%s-%d", u, i)}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every client sees every user message, each sender's in order.
	for _, u := range users {
		c := clients[u]
		next := make(map[string]int, len(users))
		for seen := 0; seen < perUser*len(users); {
			msg := decode[chat.Message](t, c.waitFor(chat.EventNewMessage, nil))
			if msg.System {
				continue
			}
			assert.Equal(t, fmt.Sprintf("%s-%d", msg.Author, next[msg.Author]), msg.Body)
			next[msg.Author]++
			seen++
		}
	}
}
