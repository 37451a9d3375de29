package chat

import "errors"

var (
	// ErrRoomNotFound is returned for room ids missing from the registry.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnknownUser is returned for usernames that were never registered.
	ErrUnknownUser = errors.New("unknown user")
	// ErrDeliveryFailed is returned by Conn.Deliver when an event could not
	// be queued for the recipient.
	ErrDeliveryFailed = errors.New("delivery failed")
)
