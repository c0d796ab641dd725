package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"wordchain/errs"
	"wordchain/feed"
	"wordchain/viewmodel"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub tracks websocket clients. Every client gets its own view model, fed
// by the change feed, and pushes each new state down its socket.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	mutex      sync.RWMutex

	rounds   *RoundEngine
	disputes *DisputeEngine
	lobbies  *LobbyService
	feed     feed.Subscriber
	now      Clock
	logger   *slog.Logger
}

type Client struct {
	hub        *Hub
	id         string
	socket     *websocket.Conn
	send       chan []byte
	lobbyID    string
	playerID   string
	playerName string

	model  *viewmodel.Model
	cancel context.CancelFunc
	done   chan struct{}
}

// Message is what the server pushes to clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Command is what clients send. Commands are fire-and-forget: results reach
// the client as state pushes, failures as an error message.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type StatePayload struct {
	viewmodel.State
	Remaining  int       `json:"remaining"`
	IsMyTurn   bool      `json:"is_my_turn"`
	CanDispute bool      `json:"can_dispute"`
	ServerTime time.Time `json:"server_time"`
}

type wordPayload struct {
	RoundID string `json:"round_id"`
	Word    string `json:"word"`
}

type startPayload struct {
	StartingWord string `json:"starting_word"`
}

type disputePayload struct {
	SubmissionID string `json:"submission_id"`
	Vote         bool   `json:"vote"`
}

// gameEngine satisfies viewmodel.Engine.
type gameEngine struct {
	*RoundEngine
	*DisputeEngine
}

func NewHub(rounds *RoundEngine, disputes *DisputeEngine, lobbies *LobbyService, subscriber feed.Subscriber, now Clock, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		rounds:     rounds,
		disputes:   disputes,
		lobbies:    lobbies,
		feed:       subscriber,
		now:        now,
		logger:     logger,
	}
}

// Run serves registrations until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client registered", "client", client.id, "lobby", client.lobbyID, "player", client.playerID, "total", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client unregistered", "client", client.id, "lobby", client.lobbyID, "player", client.playerID, "total", total)

		case <-ctx.Done():
			close(h.stopped)
			h.mutex.RLock()
			for client := range h.clients {
				client.cancel()
				_ = client.socket.Close()
			}
			h.mutex.RUnlock()
			return
		}
	}
}

// ConnectedPlayers lists the players with an open socket to the lobby.
func (h *Hub) ConnectedPlayers(lobbyID string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	seen := make(map[string]bool)
	var players []string
	for client := range h.clients {
		if client.lobbyID == lobbyID && !seen[client.playerID] {
			seen[client.playerID] = true
			players = append(players, client.playerID)
		}
	}
	return players
}

// RegisterClient starts serving conn for a player already admitted to the
// lobby.
func (h *Hub) RegisterClient(conn *websocket.Conn, lobbyID, playerID, playerName string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:        h,
		id:         uuid.NewString(),
		socket:     conn,
		send:       make(chan []byte, 256),
		lobbyID:    lobbyID,
		playerID:   playerID,
		playerName: playerName,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	client.model = viewmodel.NewModel(viewmodel.Config{
		LobbyID:       lobbyID,
		SelfID:        playerID,
		Feed:          h.feed,
		Loader:        h.lobbies,
		Engine:        gameEngine{RoundEngine: h.rounds, DisputeEngine: h.disputes},
		DisputeWindow: h.disputes.Window(),
		Now:           h.now,
		OnChange:      client.pushState,
		Logger:        h.logger.With("client", client.id),
	})

	select {
	case h.register <- client:
	case <-h.stopped:
		cancel()
		conn.Close()
		close(client.done)
		return client
	}

	go func() {
		defer close(client.done)
		if err := client.model.Run(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("view model stopped", "client", client.id, "lobby", lobbyID, "error", err)
			client.sendError(err)
			_ = client.socket.Close()
		}
	}()
	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		<-c.done
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "client", c.id, "error", err)
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.logger.Debug("malformed command", "client", c.id, "error", err)
			c.sendError(err)
			continue
		}
		if err := c.handleCommand(cmd); err != nil {
			c.hub.logger.Debug("command rejected", "client", c.id, "type", cmd.Type, "error", err)
			c.sendError(err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleCommand(cmd Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	state := c.model.State()
	switch cmd.Type {
	case "ping":
		c.push("pong", "pong")

	case "request_state":
		c.model.Resync()

	case "start_round":
		var p startPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return err
		}
		round, err := c.hub.rounds.StartRound(ctx, c.lobbyID, c.playerID, p.StartingWord)
		if err != nil {
			return err
		}
		c.model.Apply(viewmodel.RoundChanged{Round: *round})

	case "submit_word":
		var p wordPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return err
		}
		if p.RoundID == "" {
			p.RoundID = state.RoundID
		}
		sub, round, err := c.hub.rounds.SubmitWord(ctx, p.RoundID, c.playerID, p.Word)
		if err != nil {
			return err
		}
		c.model.Apply(viewmodel.RoundChanged{Round: *round})
		c.model.Apply(viewmodel.SubmissionChanged{Submission: *sub})

	case "open_dispute":
		var p disputePayload
		if err := decode(cmd.Payload, &p); err != nil {
			return err
		}
		sub, err := c.hub.disputes.OpenDispute(ctx, c.submission(p, state), c.playerID)
		if err != nil {
			return err
		}
		c.model.Apply(viewmodel.SubmissionChanged{Submission: *sub})

	case "cast_vote":
		var p disputePayload
		if err := decode(cmd.Payload, &p); err != nil {
			return err
		}
		if _, err := c.hub.disputes.CastVote(ctx, c.submission(p, state), c.playerID, p.Vote); err != nil {
			return err
		}

	case "finalize_dispute":
		var p disputePayload
		if err := decode(cmd.Payload, &p); err != nil {
			return err
		}
		outcome, err := c.hub.disputes.FinalizeDispute(ctx, c.submission(p, state))
		if err != nil {
			return err
		}
		c.model.Apply(viewmodel.SubmissionChanged{Submission: *outcome.Submission})
		if outcome.Eliminated != nil {
			c.model.Apply(viewmodel.PlayerChanged{Player: *outcome.Eliminated})
		}

	default:
		return errs.Invalid("type", "unknown command "+cmd.Type)
	}
	return nil
}

// submission defaults to the latest word of the current round.
func (c *Client) submission(p disputePayload, state viewmodel.State) string {
	if p.SubmissionID == "" && state.LatestSubmission != nil {
		return state.LatestSubmission.ID
	}
	return p.SubmissionID
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (c *Client) pushState(state viewmodel.State) {
	now := c.hub.now()
	c.push("state", StatePayload{
		State:      state,
		Remaining:  state.Remaining(now),
		IsMyTurn:   state.IsMyTurn(),
		CanDispute: state.CanDispute(now, c.hub.disputes.Window()),
		ServerTime: now,
	})
}

func (c *Client) sendError(err error) {
	c.push("error", map[string]string{"error": err.Error()})
}

// push drops the message when the client is too slow to keep up; the next
// state push carries everything anyway.
func (c *Client) push(messageType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: messageType, Payload: payload})
	if err != nil {
		c.hub.logger.Error("failed to marshal message", "type", messageType, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("client send buffer full, dropping message", "client", c.id, "type", messageType)
	}
}
