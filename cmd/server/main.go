package main

import (
	"context"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	if err := server.LoadDotEnv(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Could not load .env file")
	}

	cfg := server.SetConfig(server.NewConfigFromEnv())
	if err := server.ConfigureLogging(cfg); err != nil {
		logrus.WithError(err).Warn("Falling back to info logging")
	}
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	if os.Getenv("JWT_SECRET") == "" {
		logrus.Warn("JWT_SECRET is not set; using the development secret")
	}

	logrus.Info("Starting room chat server...")

	engine, err := server.NewEngine(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid room or user configuration")
	}

	hub := server.NewHub(engine)
	server.StartHub(hub)

	verifier := auth.NewManager(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, verifier))

	go func() {
		if err := server.StartServer(httpServer); err != nil {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer)
			},
			"hub": func(ctx context.Context) error {
				return hub.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logrus.WithField("exit_code", exitCode).Info("Server stopped")
	os.Exit(exitCode)
}
