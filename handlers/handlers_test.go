package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wordchain/feed"
	"wordchain/handlers"
	"wordchain/middleware"
	"wordchain/models"
	"wordchain/random"
	"wordchain/routes"
	"wordchain/services"
	"wordchain/store/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type api struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := storetest.Logger()
	changes := feed.NewRedis(client, logger)
	records := storetest.New(t, changes)
	src := random.New(3)
	clock := func() time.Time { return time.Now().UTC() }

	rounds := services.NewRoundEngine(records, src, clock, logger)
	disputes := services.NewDisputeEngine(records, rounds, 5*time.Second, clock, logger)
	lobbies := services.NewLobbyService(records, src, 6, 30, logger)
	hub := services.NewHub(rounds, disputes, lobbies, changes, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := gin.New()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router,
		handlers.NewLobbyHandler(lobbies, hub),
		handlers.NewGameHandler(rounds, disputes, lobbies),
		hub, lobbies, secret, logger)
	return &api{t: t, router: router}
}

func token(t *testing.T, user string) string {
	t.Helper()
	signed, err := middleware.SignToken(user, secret, jwt.RegisteredClaims{})
	require.NoError(t, err)
	return signed
}

// do sends body as JSON on behalf of user and decodes the response into out.
func (a *api) do(method, path, user string, body, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, user))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

type lobbyResponse struct {
	Lobby  models.Lobby  `json:"lobby"`
	Player models.Player `json:"player"`
}

func (a *api) setup(players ...string) models.Lobby {
	a.t.Helper()
	var created lobbyResponse
	code := a.do(http.MethodPost, "/api/lobbies", players[0], gin.H{"name": players[0]}, &created)
	require.Equal(a.t, http.StatusCreated, code)

	for _, id := range players[1:] {
		var joined lobbyResponse
		code := a.do(http.MethodPost, "/api/lobbies/join", id, gin.H{"game_code": strings.ToLower(created.Lobby.GameCode), "name": id}, &joined)
		require.Equal(a.t, http.StatusOK, code)
		assert.Equal(a.t, created.Lobby.ID, joined.Lobby.ID)
	}
	return created.Lobby
}

func TestRequiresAuthentication(t *testing.T) {
	a := newAPI(t)
	var body map[string]string
	code := a.do(http.MethodPost, "/api/lobbies", "", gin.H{"name": "A"}, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.NotEmpty(t, body["error"])
}

func TestCreateAndJoinLobby(t *testing.T) {
	a := newAPI(t)

	var created lobbyResponse
	code := a.do(http.MethodPost, "/api/lobbies", "A", gin.H{"name": "Ada", "timer_duration": 20}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Len(t, created.Lobby.GameCode, 6)
	assert.Equal(t, 20, created.Lobby.TimerDuration)
	assert.Equal(t, "A", created.Player.ID)
	assert.True(t, created.Player.IsHost)

	var joined lobbyResponse
	code = a.do(http.MethodPost, "/api/lobbies/join", "B", gin.H{"game_code": created.Lobby.GameCode, "name": "Bob"}, &joined)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, joined.Player.JoinOrder)

	var body map[string]string
	code = a.do(http.MethodPost, "/api/lobbies/join", "C", gin.H{"game_code": "NOPE00", "name": "Cy"}, &body)
	assert.Equal(t, http.StatusNotFound, code)

	code = a.do(http.MethodPost, "/api/lobbies", "A", gin.H{"timer_duration": 20}, &body)
	assert.Equal(t, http.StatusBadRequest, code, "binding rejects a missing name")

	code = a.do(http.MethodPost, "/api/lobbies", "A", gin.H{"name": "Ada", "timer_duration": 1000}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlayRoundOverHTTP(t *testing.T) {
	a := newAPI(t)
	lobby := a.setup("A", "B", "C")

	var round models.Round
	code := a.do(http.MethodPost, "/api/lobbies/"+lobby.ID+"/rounds", "A", gin.H{"starting_word": "apple"}, &round)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "A", round.ActivePlayerID)

	var body map[string]string
	code = a.do(http.MethodPost, "/api/lobbies/"+lobby.ID+"/rounds", "B", gin.H{"starting_word": "brave"}, &body)
	assert.Equal(t, http.StatusConflict, code)

	code = a.do(http.MethodPost, "/api/rounds/"+round.ID+"/submissions", "B", gin.H{"word": "eagle"}, &body)
	assert.Equal(t, http.StatusConflict, code, "not B's turn")

	var played struct {
		Submission models.Submission `json:"submission"`
		Round      models.Round      `json:"round"`
	}
	code = a.do(http.MethodPost, "/api/rounds/"+round.ID+"/submissions", "A", gin.H{"word": "eagle"}, &played)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "B", played.Round.ActivePlayerID)
	assert.Equal(t, "eagle", played.Round.CurrentWord)

	code = a.do(http.MethodPost, "/api/rounds/"+round.ID+"/expire", "C", nil, &body)
	assert.Equal(t, http.StatusConflict, code, "turn has time left")

	var snapshot struct {
		Snapshot  models.Snapshot `json:"snapshot"`
		Connected []string        `json:"connected"`
	}
	code = a.do(http.MethodGet, "/api/lobbies/"+lobby.ID, "C", nil, &snapshot)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, snapshot.Snapshot.LatestSubmission)
	assert.Equal(t, played.Submission.ID, snapshot.Snapshot.LatestSubmission.ID)
	assert.Empty(t, snapshot.Connected)

	var elim models.EliminationOutcome
	code = a.do(http.MethodPost, "/api/lobbies/"+lobby.ID+"/players/B/eliminate", "C", nil, &elim)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, elim.Applied)
	require.NotNil(t, elim.Round)
	assert.Equal(t, "C", elim.Round.ActivePlayerID)

	code = a.do(http.MethodPost, "/api/lobbies/"+lobby.ID+"/players/C/eliminate", "stranger", nil, &body)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDisputeOverHTTP(t *testing.T) {
	a := newAPI(t)
	lobby := a.setup("A", "B", "C")

	var round models.Round
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/lobbies/"+lobby.ID+"/rounds", "A", gin.H{"starting_word": "apple"}, &round))
	var played struct {
		Submission models.Submission `json:"submission"`
	}
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/rounds/"+round.ID+"/submissions", "A", gin.H{"word": "eagel"}, &played))
	sub := played.Submission.ID

	var body map[string]string
	code := a.do(http.MethodPost, "/api/submissions/"+sub+"/finalize", "B", nil, &body)
	assert.Equal(t, http.StatusConflict, code, "nothing to finalize yet")

	var disputed models.Submission
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/submissions/"+sub+"/dispute", "B", nil, &disputed))
	assert.True(t, disputed.IsDisputed)

	code = a.do(http.MethodPost, "/api/submissions/"+sub+"/votes", "B", gin.H{}, &body)
	assert.Equal(t, http.StatusBadRequest, code, "vote is required")

	var vote models.Vote
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/submissions/"+sub+"/votes", "B", gin.H{"vote": false}, &vote))
	assert.False(t, vote.Vote)
	code = a.do(http.MethodPost, "/api/submissions/"+sub+"/votes", "B", gin.H{"vote": true}, &body)
	assert.Equal(t, http.StatusConflict, code)
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/submissions/"+sub+"/votes", "C", gin.H{"vote": true}, &vote))

	var outcome models.DisputeOutcome
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/submissions/"+sub+"/finalize", "C", nil, &outcome))
	assert.False(t, outcome.Accepted, "a tie rejects the word")
	require.NotNil(t, outcome.Eliminated)
	assert.Equal(t, "A", outcome.Eliminated.ID)
}

func TestWebSocketPushesState(t *testing.T) {
	a := newAPI(t)
	lobby := a.setup("A", "B")

	server := httptest.NewServer(a.router)
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + lobby.ID

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token(t, "stranger"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token(t, "B"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// read until a state message satisfies cond
	await := func(cond func(services.StatePayload) bool) services.StatePayload {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			var msg struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type != "state" {
				continue
			}
			var state services.StatePayload
			require.NoError(t, json.Unmarshal(msg.Payload, &state))
			if cond(state) {
				return state
			}
		}
	}

	state := await(func(s services.StatePayload) bool { return len(s.Players) == 2 })
	assert.Equal(t, "B", state.SelfID)
	assert.False(t, state.IsMyTurn)

	// a command from another player reaches B through the change feed
	var round models.Round
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/lobbies/"+lobby.ID+"/rounds", "A", gin.H{"starting_word": "apple"}, &round))
	state = await(func(s services.StatePayload) bool { return s.RoundID == round.ID })
	assert.Equal(t, "A", state.ActivePlayerID)
	assert.InDelta(t, 30, state.Remaining, 1)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "submit_word", "payload": gin.H{"word": "eagle"}}))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	for msg.Type != "error" {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	var rejected map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &rejected))
	assert.Contains(t, rejected["error"], "turn")

	a.do(http.MethodPost, "/api/rounds/"+round.ID+"/submissions", "A", gin.H{"word": "eagle"}, nil)
	state = await(func(s services.StatePayload) bool { return s.IsMyTurn })
	assert.Equal(t, "eagle", state.CurrentWord)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "submit_word", "payload": gin.H{"word": "elbow"}}))
	state = await(func(s services.StatePayload) bool {
		return s.CurrentWord == "elbow" && s.ActivePlayerID == "A"
	})
	assert.False(t, state.IsMyTurn)
}
