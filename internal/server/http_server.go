package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub runs the hub's event loop in a new goroutine.
func StartHub(hub *Hub) {
	go hub.Run()
	logrus.WithField("component", "hub").Info("Hub started and ready to manage WebSocket connections")
}

// StartServer listens until the server is shut down. A clean shutdown
// returns nil.
func StartServer(server *http.Server) error {
	logrus.WithField("addr", server.Addr).Info("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and waits for in-flight
// requests until ctx expires. Hijacked websocket connections are not
// tracked here; the hub closes them.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	logrus.Info("Shutting down HTTP server...")

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown error")
		return err
	}

	logrus.Info("HTTP server shutdown completed")
	return nil
}
