// Package server is the network edge of the room chat service.
//
// It owns configuration, the websocket origin policy, the per-connection
// Client with its read and write pumps, the Hub event loop that feeds
// connection events into the chat engine, and the gin router that exposes
// the websocket endpoint and the read-only room API.
package server
