package handlers

import (
	"net/http"

	"wordchain/services"

	"github.com/gin-gonic/gin"
)

type GameHandler struct {
	rounds   *services.RoundEngine
	disputes *services.DisputeEngine
	lobbies  *services.LobbyService
}

func NewGameHandler(rounds *services.RoundEngine, disputes *services.DisputeEngine, lobbies *services.LobbyService) *GameHandler {
	return &GameHandler{
		rounds:   rounds,
		disputes: disputes,
		lobbies:  lobbies,
	}
}

type StartRoundRequest struct {
	StartingWord string `json:"starting_word" binding:"required"`
}

type SubmitWordRequest struct {
	Word string `json:"word" binding:"required"`
}

type CastVoteRequest struct {
	Vote *bool `json:"vote" binding:"required"`
}

func (h *GameHandler) StartRound(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req StartRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	round, err := h.rounds.StartRound(c.Request.Context(), c.Param("id"), userID, req.StartingWord)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, round)
}

func (h *GameHandler) SubmitWord(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req SubmitWordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	submission, round, err := h.rounds.SubmitWord(c.Request.Context(), c.Param("id"), userID, req.Word)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"submission": submission, "round": round})
}

// ExpireTurn may be called by any client whose countdown reached zero.
func (h *GameHandler) ExpireTurn(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}

	outcome, err := h.rounds.ExpireTurn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *GameHandler) EliminatePlayer(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	lobbyID := c.Param("id")
	if _, err := h.lobbies.Member(c.Request.Context(), lobbyID, userID); err != nil {
		respondError(c, err)
		return
	}

	outcome, err := h.rounds.EliminatePlayer(c.Request.Context(), lobbyID, c.Param("playerID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *GameHandler) OpenDispute(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	submission, err := h.disputes.OpenDispute(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

func (h *GameHandler) CastVote(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vote, err := h.disputes.CastVote(c.Request.Context(), c.Param("id"), userID, *req.Vote)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, vote)
}

func (h *GameHandler) FinalizeDispute(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}

	outcome, err := h.disputes.FinalizeDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
