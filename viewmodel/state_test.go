package viewmodel

import (
	"testing"
	"time"

	"wordchain/feed"
	"wordchain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func player(id string, order int, status string) models.Player {
	return models.Player{ID: id, LobbyID: "L", Name: id, JoinOrder: order, IsHost: order == 1, Status: status}
}

func round(number, turn int, active, word string, start time.Time) models.Round {
	return models.Round{
		ID:             "R" + string(rune('0'+number)),
		LobbyID:        "L",
		RoundNumber:    number,
		ActivePlayerID: active,
		CurrentWord:    word,
		StartTime:      start,
		Turn:           turn,
	}
}

func baseState() State {
	s := New("L", "B")
	s = Reduce(s, LobbyChanged{Lobby: models.Lobby{ID: "L", GameCode: "ABC123", TimerDuration: 30, Status: models.LobbyActive}})
	for i, id := range []string{"A", "B", "C"} {
		s = Reduce(s, PlayerChanged{Player: player(id, i+1, models.PlayerActive)})
	}
	return s
}

func TestReduceRoundIgnoresStaleRecords(t *testing.T) {
	s := baseState()
	s = Reduce(s, RoundChanged{Round: round(1, 0, "A", "apple", t0)})
	s = Reduce(s, RoundChanged{Round: round(1, 2, "C", "elbow", t0.Add(4*time.Second))})

	// an update from an earlier turn arrives late
	s = Reduce(s, RoundChanged{Round: round(1, 1, "B", "eagle", t0.Add(2*time.Second))})
	assert.Equal(t, "C", s.ActivePlayerID)
	assert.Equal(t, "elbow", s.CurrentWord)
	assert.Equal(t, 2, s.Turn)

	s = Reduce(s, RoundChanged{Round: round(2, 0, "A", "crane", t0.Add(40*time.Second))})
	assert.Equal(t, 2, s.RoundNumber)
	assert.Equal(t, "R2", s.RoundID)

	s = Reduce(s, RoundChanged{Round: round(1, 3, "A", "wheat", t0)})
	assert.Equal(t, 2, s.RoundNumber, "older rounds are ignored")
	assert.Equal(t, "crane", s.CurrentWord)
}

func TestReduceSubmissionBeforeRoundUpdate(t *testing.T) {
	s := baseState()
	s = Reduce(s, RoundChanged{Round: round(1, 0, "A", "apple", t0)})

	played := t0.Add(5 * time.Second)
	sub := models.Submission{ID: "S1", RoundID: "R1", PlayerID: "A", Word: "eagle", Turn: 0, CreatedAt: played}

	// the submission channel is ahead of the round channel
	s = Reduce(s, SubmissionChanged{Submission: sub})
	assert.Equal(t, "eagle", s.CurrentWord)
	assert.True(t, played.Equal(s.StartTime), "countdown restarts from the submission")
	assert.Equal(t, "A", s.ActivePlayerID)

	// A's turn is spent even though the turn change has not arrived
	author := s
	author.SelfID = "A"
	assert.False(t, author.IsMyTurn())
	assert.False(t, author.Expired(played.Add(time.Minute)))

	s = Reduce(s, RoundChanged{Round: round(1, 1, "B", "eagle", played)})
	assert.Equal(t, "B", s.ActivePlayerID)
	assert.True(t, s.IsMyTurn())

	// replays change nothing
	again := Reduce(Reduce(s, SubmissionChanged{Submission: sub}), RoundChanged{Round: round(1, 1, "B", "eagle", played)})
	assert.Equal(t, s, again)
}

func TestReduceLateSubmissionKeepsNewerWord(t *testing.T) {
	s := baseState()
	s = Reduce(s, RoundChanged{Round: round(1, 2, "C", "elbow", t0.Add(8*time.Second))})

	s = Reduce(s, SubmissionChanged{Submission: models.Submission{ID: "S1", RoundID: "R1", Word: "eagle", Turn: 0, CreatedAt: t0.Add(4 * time.Second)}})
	assert.Equal(t, "elbow", s.CurrentWord)
	assert.True(t, t0.Add(8*time.Second).Equal(s.StartTime))

	s = Reduce(s, SubmissionChanged{Submission: models.Submission{ID: "S2", RoundID: "R1", Word: "elbow", Turn: 1, CreatedAt: t0.Add(8 * time.Second)}})
	require.NotNil(t, s.LatestSubmission)
	assert.Equal(t, "S2", s.LatestSubmission.ID)

	s = Reduce(s, SubmissionChanged{Submission: models.Submission{ID: "S1", RoundID: "R1", Word: "eagle", Turn: 0, IsDisputed: true}})
	assert.Equal(t, "S2", s.LatestSubmission.ID, "older submissions never replace the latest")

	s = Reduce(s, SubmissionChanged{Submission: models.Submission{ID: "SX", RoundID: "R9", Word: "other", Turn: 5}})
	assert.Equal(t, "S2", s.LatestSubmission.ID, "other rounds are ignored")
}

func TestReduceDisputeFlagsAreMonotonic(t *testing.T) {
	s := baseState()
	s = Reduce(s, RoundChanged{Round: round(1, 1, "B", "eagle", t0)})
	sub := models.Submission{ID: "S1", RoundID: "R1", PlayerID: "A", Word: "eagle", Turn: 0, CreatedAt: t0}
	s = Reduce(s, SubmissionChanged{Submission: sub})
	assert.True(t, s.CanDispute(t0.Add(5*time.Second), 5*time.Second))
	assert.False(t, s.CanDispute(t0.Add(6*time.Second), 5*time.Second))

	disputed := sub
	disputed.IsDisputed = true
	s = Reduce(s, SubmissionChanged{Submission: disputed})
	assert.True(t, s.DisputePending())

	accepted := true
	resolved := disputed
	resolved.DisputeResult = &accepted
	s = Reduce(s, SubmissionChanged{Submission: resolved})
	assert.False(t, s.DisputePending())

	// a redelivered insert does not reopen the dispute
	s = Reduce(s, SubmissionChanged{Submission: sub})
	assert.True(t, s.LatestSubmission.IsDisputed)
	require.NotNil(t, s.LatestSubmission.DisputeResult)
	assert.True(t, *s.LatestSubmission.DisputeResult)
}

func TestReducePlayersAndWinner(t *testing.T) {
	s := New("L", "B")
	s = Reduce(s, PlayerChanged{Player: player("C", 3, models.PlayerActive)})
	s = Reduce(s, PlayerChanged{Player: player("A", 1, models.PlayerActive)})
	s = Reduce(s, PlayerChanged{Player: player("B", 2, models.PlayerActive)})
	s = Reduce(s, PlayerChanged{Player: player("B", 2, models.PlayerActive)})
	require.Len(t, s.Players, 3)
	assert.Equal(t, "A", s.Players[0].ID)
	assert.Equal(t, "C", s.Players[2].ID)

	s = Reduce(s, PlayerChanged{Player: player("C", 3, models.PlayerEliminated)})
	assert.Empty(t, s.WinnerID, "two players still in")

	// a stale insert cannot undo the elimination
	s = Reduce(s, PlayerChanged{Player: player("C", 3, models.PlayerActive)})
	assert.True(t, s.Players[2].Eliminated)

	s = Reduce(s, PlayerChanged{Player: player("A", 1, models.PlayerEliminated)})
	assert.Equal(t, "B", s.WinnerID)

	other := player("Z", 1, models.PlayerActive)
	other.LobbyID = "elsewhere"
	assert.Equal(t, s, Reduce(s, PlayerChanged{Player: other}))
}

func TestReduceSingletonHasNoWinner(t *testing.T) {
	s := New("L", "A")
	s = Reduce(s, PlayerChanged{Player: player("A", 1, models.PlayerActive)})
	assert.Empty(t, s.WinnerID)
}

func TestRemaining(t *testing.T) {
	s := baseState()
	assert.Equal(t, 0, s.Remaining(t0), "no round yet")

	s = Reduce(s, RoundChanged{Round: round(1, 0, "A", "apple", t0)})
	tests := []struct {
		after time.Duration
		want  int
	}{
		{0, 30},
		{999 * time.Millisecond, 30},
		{time.Second, 29},
		{29500 * time.Millisecond, 1},
		{30 * time.Second, 0},
		{45 * time.Second, 0},
		{-2 * time.Second, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Remaining(t0.Add(tt.after)), "after %s", tt.after)
	}
	assert.False(t, s.Expired(t0.Add(29*time.Second)))
	assert.True(t, s.Expired(t0.Add(30*time.Second)))
	assert.False(t, s.IsMyTurn())

	ended := t0.Add(30 * time.Second)
	closed := round(1, 1, "A", "apple", t0)
	closed.EndedAt = &ended
	s = Reduce(s, RoundChanged{Round: closed})
	assert.False(t, s.Expired(t0.Add(40*time.Second)), "closed rounds do not expire")
}

func TestSnapshotReplacesState(t *testing.T) {
	s := baseState()
	s = Reduce(s, RoundChanged{Round: round(3, 4, "C", "wheat", t0)})

	winner := "A"
	r := round(2, 1, "A", "crane", t0)
	s = Reduce(s, SnapshotLoaded{Snapshot: models.Snapshot{
		Lobby:   models.Lobby{ID: "L", GameCode: "ABC123", TimerDuration: 15, Status: models.LobbyFinished, WinnerID: &winner},
		Players: []models.Player{player("A", 1, models.PlayerActive), player("B", 2, models.PlayerEliminated)},
		Round:   &r,
	}})
	assert.Equal(t, "B", s.SelfID)
	assert.Equal(t, 2, s.RoundNumber)
	assert.Equal(t, 15, s.TimerDuration)
	assert.True(t, s.Finished)
	assert.Equal(t, "A", s.WinnerID)
	assert.Len(t, s.Players, 2)
	assert.False(t, s.Live())
}

func TestFromFeed(t *testing.T) {
	ev, err := feed.NewEvent(feed.Rounds, feed.Update, round(1, 2, "B", "eagle", t0), feed.Eq("lobby_id", "L"))
	require.NoError(t, err)

	decoded, err := FromFeed(ev)
	require.NoError(t, err)
	changed, ok := decoded.(RoundChanged)
	require.True(t, ok)
	assert.Equal(t, "B", changed.Round.ActivePlayerID)
	assert.Equal(t, 2, changed.Round.Turn)

	ev, err = feed.NewEvent(feed.Votes, feed.Insert, models.Vote{ID: "V"}, feed.Eq("submission_id", "S"))
	require.NoError(t, err)
	_, err = FromFeed(ev)
	assert.Error(t, err)
}
