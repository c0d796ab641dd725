package handlers

import (
	"net/http"

	"wordchain/services"

	"github.com/gin-gonic/gin"
)

type LobbyHandler struct {
	lobbyService *services.LobbyService
	hub          *services.Hub
}

func NewLobbyHandler(lobbyService *services.LobbyService, hub *services.Hub) *LobbyHandler {
	return &LobbyHandler{
		lobbyService: lobbyService,
		hub:          hub,
	}
}

func (h *LobbyHandler) CreateLobby(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req services.CreateLobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lobby, host, err := h.lobbyService.CreateLobby(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"lobby": lobby, "player": host})
}

func (h *LobbyHandler) JoinLobby(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req services.JoinLobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lobby, player, err := h.lobbyService.JoinLobby(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"lobby": lobby, "player": player})
}

// GetLobby returns the lobby snapshot along with who is connected right now.
func (h *LobbyHandler) GetLobby(c *gin.Context) {
	lobbyID := c.Param("id")

	snap, err := h.lobbyService.Snapshot(c.Request.Context(), lobbyID)
	if err != nil {
		respondError(c, err)
		return
	}

	connected := []string{}
	if h.hub != nil {
		if players := h.hub.ConnectedPlayers(lobbyID); players != nil {
			connected = players
		}
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "connected": connected})
}
