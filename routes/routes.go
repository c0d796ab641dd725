package routes

import (
	"log/slog"
	"net/http"

	"wordchain/handlers"
	"wordchain/middleware"
	"wordchain/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	lobbyHandler *handlers.LobbyHandler,
	gameHandler *handlers.GameHandler,
	hub *services.Hub,
	lobbyService *services.LobbyService,
	jwtSecret string,
	logger *slog.Logger,
) {
	// API routes
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtSecret))
	{
		lobbies := api.Group("/lobbies")
		{
			lobbies.POST("", lobbyHandler.CreateLobby)
			lobbies.POST("/join", lobbyHandler.JoinLobby)
			lobbies.GET("/:id", lobbyHandler.GetLobby)
			lobbies.POST("/:id/rounds", gameHandler.StartRound)
			lobbies.POST("/:id/players/:playerID/eliminate", gameHandler.EliminatePlayer)
		}

		rounds := api.Group("/rounds")
		{
			rounds.POST("/:id/submissions", gameHandler.SubmitWord)
			rounds.POST("/:id/expire", gameHandler.ExpireTurn)
		}

		submissions := api.Group("/submissions")
		{
			submissions.POST("/:id/dispute", gameHandler.OpenDispute)
			submissions.POST("/:id/votes", gameHandler.CastVote)
			submissions.POST("/:id/finalize", gameHandler.FinalizeDispute)
		}
	}

	// WebSocket endpoint; browsers cannot set headers here so the token
	// travels in the query string
	router.GET("/ws/:lobbyID", middleware.AuthMiddleware(jwtSecret), func(c *gin.Context) {
		lobbyID := c.Param("lobbyID")
		playerID := c.GetString("user_id")

		// only players who joined the lobby may watch it
		player, err := lobbyService.Member(c.Request.Context(), lobbyID, playerID)
		if err != nil {
			logger.Warn("websocket access denied", "lobby", lobbyID, "player", playerID, "error", err)
			c.JSON(http.StatusForbidden, gin.H{"error": "Player not found in lobby"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "lobby", lobbyID, "player", playerID, "error", err)
			return
		}

		hub.RegisterClient(conn, lobbyID, player.ID, player.Name)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
