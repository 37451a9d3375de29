package chat

import (
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	id       string
	username string

	mu     sync.Mutex
	events []Event
	fail   bool
}

func newFakeConn(id, username string) *fakeConn {
	return &fakeConn{id: id, username: username}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) Username() string { return c.username }

func (c *fakeConn) Deliver(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrDeliveryFailed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *fakeConn) ofKind(kind EventKind) []Event {
	var out []Event
	for _, ev := range c.received() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

var testStart = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func testRooms() []Room {
	return []Room{
		{ID: "general", Name: "General", CreatedAt: testStart},
		{ID: "foodies", Name: "Foodies", CreatedAt: testStart},
		{ID: "gaming", Name: "Gaming", CreatedAt: testStart},
		{ID: "music", Name: "Music", CreatedAt: testStart},
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestEngine(t *testing.T, usernames ...string) *Engine {
	t.Helper()
	presence := NewPresence()
	for _, name := range usernames {
		if err := presence.Register(User{Username: name}); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	clock := &testClock{now: testStart}
	return NewEngine(
		presence,
		NewRoomRegistry(presence, testRooms()...),
		NewMessageLog(),
		NewDispatcher(),
		WithClock(clock.Now),
	)
}
