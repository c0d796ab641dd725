package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"wordchain/models"
	"wordchain/store"
	"wordchain/store/storetest"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequence replays values forever, reduced modulo n.
type sequence struct {
	mu     sync.Mutex
	values []int
	next   int
}

func (s *sequence) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)] % n
	s.next++
	return v
}

type fixture struct {
	store    *store.Store
	rec      *storetest.Recorder
	clock    *fakeClock
	random   *sequence
	rounds   *RoundEngine
	disputes *DisputeEngine
	lobbies  *LobbyService
}

func newFixture(t *testing.T, values ...int) *fixture {
	t.Helper()
	if len(values) == 0 {
		values = []int{0}
	}
	f := &fixture{
		rec:    &storetest.Recorder{},
		clock:  &fakeClock{now: t0},
		random: &sequence{values: values},
	}
	f.store = storetest.New(t, f.rec)
	logger := storetest.Logger()
	f.rounds = NewRoundEngine(f.store, f.random, f.clock.Now, logger)
	f.disputes = NewDisputeEngine(f.store, f.rounds, 5*time.Second, f.clock.Now, logger)
	f.lobbies = NewLobbyService(f.store, f.random, 6, 30, logger)
	return f
}

// lobby creates a lobby hosted by the first id and joined by the rest, in
// order. Player names equal their ids.
func (f *fixture) lobby(t *testing.T, ids ...string) *models.Lobby {
	t.Helper()
	ctx := context.Background()
	lobby, _, err := f.lobbies.CreateLobby(ctx, ids[0], &CreateLobbyRequest{Name: ids[0], TimerDuration: 30})
	require.NoError(t, err)
	for _, id := range ids[1:] {
		_, _, err := f.lobbies.JoinLobby(ctx, id, &JoinLobbyRequest{GameCode: lobby.GameCode, Name: id})
		require.NoError(t, err)
	}
	return lobby
}

func (f *fixture) start(t *testing.T, lobbyID, playerID, word string) *models.Round {
	t.Helper()
	round, err := f.rounds.StartRound(context.Background(), lobbyID, playerID, word)
	require.NoError(t, err)
	return round
}

func (f *fixture) submit(t *testing.T, roundID, playerID, word string) (*models.Submission, *models.Round) {
	t.Helper()
	sub, round, err := f.rounds.SubmitWord(context.Background(), roundID, playerID, word)
	require.NoError(t, err)
	return sub, round
}

func (f *fixture) player(t *testing.T, lobbyID, id string) *models.Player {
	t.Helper()
	p, err := f.store.Player(context.Background(), lobbyID, id)
	require.NoError(t, err)
	return p
}

func (f *fixture) lobbyByID(t *testing.T, id string) *models.Lobby {
	t.Helper()
	lobby, err := f.store.Lobby(context.Background(), id)
	require.NoError(t, err)
	return lobby
}
