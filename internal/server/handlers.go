package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     allowOrigin,
}

// TokenVerifier turns an identity token into a username.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// bearerToken reads the identity token from the "token" query parameter or
// an "Authorization: Bearer" header. Browsers cannot set headers on a
// websocket upgrade, hence the query parameter.
func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// WebSocketHandler upgrades the request and registers a client with hub. A
// request without a token connects anonymously; an invalid token is
// rejected with 401 before the upgrade.
func WebSocketHandler(hub *Hub, verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var username string
		if token := bearerToken(c); token != "" {
			name, err := verifier.Verify(token)
			if err != nil {
				logrus.WithError(err).WithField("remote", c.Request.RemoteAddr).Warn("Rejected websocket token")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
				return
			}
			username = name
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).WithField("remote", c.Request.RemoteAddr).Warn("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, username, c.Request.RemoteAddr)
		if !hub.Register(client) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler reports that the server is up and how many sockets it holds.
func HealthHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	}
}

// RoomsHandler lists every room with its member and online counts.
func RoomsHandler(engine *chat.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": engine.ListRooms()})
	}
}

// RoomMembersHandler returns the membership snapshot of one room.
func RoomMembersHandler(engine *chat.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := engine.Members(c.Param("id"))
		if errors.Is(err, chat.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"room":         payload.Room,
			"members":      payload.Members,
			"total_count":  payload.TotalCount,
			"online_count": payload.OnlineCount,
		})
	}
}

// RoomMessagesHandler returns the recent messages of one room. The optional
// limit query parameter caps how many are returned.
func RoomMessagesHandler(engine *chat.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("id")
		if !engine.Rooms().Exists(roomID) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
				return
			}
			limit = n
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"room":     roomID,
			"messages": engine.History(roomID, limit),
		})
	}
}
