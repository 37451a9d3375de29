package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// FrameType names an inbound client request.
type FrameType string

// Inbound frame types.
const (
	FrameSendMessage  FrameType = "send_message"
	FrameJoinRoom     FrameType = "join_room"
	FrameUpdateStatus FrameType = "update_status"
	FrameTyping       FrameType = "typing"
)

// Frame is the JSON request a client sends over the socket. Only the fields
// relevant to Type are read.
type Frame struct {
	Type    FrameType `json:"type"`
	Room    string    `json:"room,omitempty"`
	Message string    `json:"message,omitempty"`
	Status  string    `json:"status,omitempty"`
	Typing  bool      `json:"typing,omitempty"`
}

// inboundFrame pairs a decoded frame with the client that sent it.
type inboundFrame struct {
	client *Client
	frame  Frame
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}
