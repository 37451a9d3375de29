package server

import "github.com/gin-gonic/gin"

// SetupRoutes builds the gin router: the websocket endpoint, a health check
// and the read-only room API.
func SetupRoutes(hub *Hub, verifier TokenVerifier) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery(), RequestLogger())

	router.GET("/", HealthHandler(hub))
	router.GET("/health", HealthHandler(hub))
	router.GET("/ws", WebSocketHandler(hub, verifier))

	api := router.Group("/api")
	{
		api.GET("/rooms", RoomsHandler(hub.Engine()))
		api.GET("/rooms/:id/members", RoomMembersHandler(hub.Engine()))
		api.GET("/rooms/:id/messages", RoomMessagesHandler(hub.Engine()))
	}

	return router
}
