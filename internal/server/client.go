package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one websocket connection. It implements chat.Conn: the engine
// delivers events through Deliver, and the write pump drains them onto the
// socket.
type Client struct {
	id             string
	username       string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	maxMessageSize int64

	mu     sync.Mutex
	closed bool

	log *logrus.Entry
}

// NewClient creates a Client for an upgraded connection. username is the
// verified identity, or empty for an anonymous connection.
func NewClient(conn *websocket.Conn, hub *Hub, username, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		username:       username,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		log: logrus.WithFields(logrus.Fields{
			"component": "client",
			"conn_id":   id,
			"username":  username,
			"remote":    addr,
		}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Username returns the identity bound at upgrade time.
func (c *Client) Username() string { return c.username }

// GetSendChan returns the client's outgoing frame queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Deliver encodes ev and queues it without blocking. A full queue closes the
// client: the write pump then sends a close frame and the read pump
// unregisters it.
func (c *Client) Deliver(ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return chat.ErrDeliveryFailed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.closed = true
		close(c.send)
		return fmt.Errorf("%w: send buffer full", chat.ErrDeliveryFailed)
	}
}

// closeSend closes the send queue once. It reports whether this call closed it.
func (c *Client) closeSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// isClosed reports whether the send queue has been closed.
func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs a read failure at a level matching its cause. Every
// read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warnf("Frame exceeded maximum size of %d bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.WithError(err).Info("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.WithError(err).Debug("Connection closed")
	default:
		c.log.WithError(err).Warn("Unexpected websocket read error")
	}
}

// decodeFrame parses a raw frame. Blank chat messages are rejected.
func decodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch frame.Type {
	case FrameSendMessage:
		frame.Message = strings.TrimSpace(frame.Message)
		if frame.Message == "" {
			return Frame{}, errors.New("empty message")
		}
	case FrameJoinRoom:
		if frame.Room == "" {
			return Frame{}, errors.New("join_room without room")
		}
	case FrameUpdateStatus, FrameTyping:
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return frame, nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			c.log.WithError(err).Debug("Dropping inbound frame")
			continue
		}

		c.log.WithField("type", frame.Type).Debug("Frame received")
		if !c.hub.dispatch(c, frame) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Warn("Error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame, or a close frame once the queue
// is closed. It returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("Error setting write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error writing close message")
		}
		return false
	}

	return c.writeTextMessage(message)
}

// writeTextMessage writes message and every frame already queued behind it
// as one text message, separated by newlines.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.WithError(err).Warn("Error creating writer")
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.WithError(err).Warn("Error writing message")
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.log.WithError(err).Warn("Error flushing writer")
		return false
	}
	return true
}

func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.WithError(err).Warn("Error writing separator")
			return false
		}
		if _, err := w.Write(queued); err != nil {
			c.log.WithError(err).Warn("Error writing queued message")
			return false
		}
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Debug("Error writing ping")
		return false
	}
	return true
}
