package chat

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher delivers events to attached connections, either to every
// subscriber of a room or to everyone. A failed delivery is logged and does
// not stop delivery to the remaining recipients.
type Dispatcher struct {
	mu    sync.RWMutex
	conns map[string]Conn
	subs  map[string]map[string]struct{} // room -> conn ids
}

// NewDispatcher creates a dispatcher with no connections.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		conns: make(map[string]Conn),
		subs:  make(map[string]map[string]struct{}),
	}
}

// Attach makes conn a recipient of ToAll. Attaching a different connection
// under an id already in use is a programmer error.
func (d *Dispatcher) Attach(conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.conns[conn.ID()]; ok && existing != conn {
		panic(fmt.Sprintf("chat: connection id %q attached twice", conn.ID()))
	}
	d.conns[conn.ID()] = conn
}

// Detach removes the connection and all of its room subscriptions.
func (d *Dispatcher) Detach(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.conns, connID)
	for room, set := range d.subs {
		delete(set, connID)
		if len(set) == 0 {
			delete(d.subs, room)
		}
	}
}

// Lookup returns an attached connection by id.
func (d *Dispatcher) Lookup(connID string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[connID]
	return c, ok
}

// Subscribe adds an attached connection to a room's delivery set.
func (d *Dispatcher) Subscribe(connID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.conns[connID]; !ok {
		return
	}
	set, ok := d.subs[roomID]
	if !ok {
		set = make(map[string]struct{})
		d.subs[roomID] = set
	}
	set[connID] = struct{}{}
}

// Unsubscribe removes a connection from a room's delivery set.
func (d *Dispatcher) Unsubscribe(connID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if set, ok := d.subs[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(d.subs, roomID)
		}
	}
}

// Subscribed reports whether the connection receives events of roomID.
func (d *Dispatcher) Subscribed(connID, roomID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.subs[roomID][connID]
	return ok
}

// Count returns the number of attached connections.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// ToRoom delivers ev to every subscriber of roomID.
func (d *Dispatcher) ToRoom(roomID string, ev Event) {
	d.ToRoomExcept(roomID, ev, "")
}

// ToRoomExcept delivers ev to every subscriber of roomID except excludedID.
func (d *Dispatcher) ToRoomExcept(roomID string, ev Event, excludedID string) {
	d.deliver(d.roomSnapshot(roomID, excludedID), ev)
}

// ToAll delivers ev to every attached connection.
func (d *Dispatcher) ToAll(ev Event) {
	d.mu.RLock()
	targets := make([]Conn, 0, len(d.conns))
	for _, c := range d.conns {
		targets = append(targets, c)
	}
	d.mu.RUnlock()

	d.deliver(targets, ev)
}

// ToConn delivers ev to one connection.
func (d *Dispatcher) ToConn(conn Conn, ev Event) {
	d.deliver([]Conn{conn}, ev)
}

func (d *Dispatcher) roomSnapshot(roomID, excludedID string) []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.subs[roomID]
	targets := make([]Conn, 0, len(set))
	for id := range set {
		if id == excludedID {
			continue
		}
		if c, ok := d.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	return targets
}

func (d *Dispatcher) deliver(targets []Conn, ev Event) {
	for _, c := range targets {
		if err := c.Deliver(ev); err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "dispatcher",
				"conn_id":   c.ID(),
				"username":  c.Username(),
				"event":     ev.Kind,
			}).WithError(err).Warn("Event delivery failed")
		}
	}
}
