package server

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Hub owns the set of live websocket clients and feeds their lifecycle and
// inbound frames to the chat engine from a single event loop.
type Hub struct {
	engine     *chat.Engine
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *logrus.Entry
}

// NewHub creates a Hub driving engine. Call Run to start it.
func NewHub(engine *chat.Engine) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		engine:     engine,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logrus.WithField("component", "hub"),
	}
}

// Engine returns the chat engine behind the hub.
func (h *Hub) Engine() *chat.Engine { return h.engine }

// Register hands a new client to the event loop. It reports false if the
// hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister hands a finished client to the event loop.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) dispatch(c *Client, frame Frame) bool {
	select {
	case h.inbound <- inboundFrame{client: c, frame: frame}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			h.handleFrame(in.client, in.frame)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	if superseded := h.engine.Connect(client); superseded != nil {
		if old, ok := superseded.(*Client); ok {
			old.log.Info("Connection superseded by a newer session")
			old.closeSend()
		}
	}

	client.log.WithField("clients", clientCount).Info("Client registered")
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}

	h.engine.Disconnect(client)
	client.closeSend()
	client.log.WithField("clients", clientCount).Info("Client unregistered")
}

func (h *Hub) handleFrame(client *Client, frame Frame) {
	h.mutex.RLock()
	_, ok := h.clients[client]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	switch frame.Type {
	case FrameSendMessage:
		h.engine.SendMessage(client, frame.Room, frame.Message)
	case FrameJoinRoom:
		h.engine.JoinRoom(client, frame.Room)
	case FrameUpdateStatus:
		h.engine.UpdateStatus(client, frame.Status)
	case FrameTyping:
		h.engine.Typing(client, frame.Room, frame.Typing)
	default:
		client.log.WithField("type", frame.Type).Debug("Ignoring unknown frame type")
	}
}

// shutdownClients disconnects every client from the engine and closes its socket.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		h.engine.Disconnect(client)
	}
	for _, client := range clients {
		client.closeSend()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.log.WithError(err).Warn("Error closing client connection")
			}
		}
	}

	h.log.Infof("Closed %d client connections", len(clients))
}

// Shutdown stops the event loop and waits for every client goroutine to
// finish, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		h.log.Warn("Hub shutdown timeout reached before the event loop stopped")
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-ctx.Done():
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}
}
