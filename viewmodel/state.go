// Package viewmodel is the per-client projection of a lobby. State is folded
// from change-feed events and local action results by Reduce, a pure
// function; Model runs the fold on a single goroutine and drives the
// countdown.
package viewmodel

import (
	"fmt"
	"time"

	"wordchain/feed"
	"wordchain/models"
)

type Player struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	JoinOrder  int    `json:"join_order"`
	IsHost     bool   `json:"is_host"`
	Eliminated bool   `json:"eliminated"`
}

type State struct {
	LobbyID       string `json:"lobby_id"`
	SelfID        string `json:"self_id"`
	GameCode      string `json:"game_code"`
	TimerDuration int    `json:"timer_duration"`
	Finished      bool   `json:"finished"`

	Players []Player `json:"players"`

	RoundID        string    `json:"round_id,omitempty"`
	RoundNumber    int       `json:"round_number"`
	Turn           int       `json:"turn"`
	RoundEnded     bool      `json:"round_ended"`
	CurrentWord    string    `json:"current_word"`
	ActivePlayerID string    `json:"active_player_id,omitempty"`
	StartTime      time.Time `json:"start_time"`

	LatestSubmission *models.Submission `json:"latest_submission,omitempty"`
	WinnerID         string             `json:"winner_id,omitempty"`
}

// Event is anything Reduce can fold into State.
type Event interface {
	Kind() string
}

type SnapshotLoaded struct{ Snapshot models.Snapshot }
type LobbyChanged struct{ Lobby models.Lobby }
type PlayerChanged struct{ Player models.Player }
type RoundChanged struct{ Round models.Round }
type SubmissionChanged struct{ Submission models.Submission }

func (SnapshotLoaded) Kind() string    { return "snapshot" }
func (LobbyChanged) Kind() string      { return "lobby" }
func (PlayerChanged) Kind() string     { return "player" }
func (RoundChanged) Kind() string      { return "round" }
func (SubmissionChanged) Kind() string { return "submission" }

// FromFeed decodes a change-feed event into the matching Event.
func FromFeed(ev feed.Event) (Event, error) {
	switch ev.Collection {
	case feed.Lobbies:
		var lobby models.Lobby
		if err := ev.Decode(&lobby); err != nil {
			return nil, err
		}
		return LobbyChanged{Lobby: lobby}, nil
	case feed.Players:
		var player models.Player
		if err := ev.Decode(&player); err != nil {
			return nil, err
		}
		return PlayerChanged{Player: player}, nil
	case feed.Rounds:
		var round models.Round
		if err := ev.Decode(&round); err != nil {
			return nil, err
		}
		return RoundChanged{Round: round}, nil
	case feed.Submissions:
		var sub models.Submission
		if err := ev.Decode(&sub); err != nil {
			return nil, err
		}
		return SubmissionChanged{Submission: sub}, nil
	}
	return nil, fmt.Errorf("no view model event for collection %s", ev.Collection)
}

// New returns the empty state of selfID watching lobbyID.
func New(lobbyID, selfID string) State {
	return State{LobbyID: lobbyID, SelfID: selfID}
}

// Reduce folds ev into s. Events may arrive more than once and in any order
// across collections, so every rule either ignores stale input or is safe to
// repeat.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case SnapshotLoaded:
		return fromSnapshot(s, ev.Snapshot)
	case LobbyChanged:
		return reduceLobby(s, ev.Lobby)
	case PlayerChanged:
		return reducePlayer(s, ev.Player)
	case RoundChanged:
		return reduceRound(s, ev.Round)
	case SubmissionChanged:
		return reduceSubmission(s, ev.Submission)
	}
	return s
}

func fromSnapshot(s State, snap models.Snapshot) State {
	next := New(snap.Lobby.ID, s.SelfID)
	next = reduceLobby(next, snap.Lobby)
	for _, p := range snap.Players {
		next = reducePlayer(next, p)
	}
	if snap.Round != nil {
		next = reduceRound(next, *snap.Round)
	}
	if snap.LatestSubmission != nil {
		next = reduceSubmission(next, *snap.LatestSubmission)
	}
	return next
}

func reduceLobby(s State, lobby models.Lobby) State {
	if lobby.ID != s.LobbyID {
		return s
	}
	s.GameCode = lobby.GameCode
	s.TimerDuration = lobby.TimerDuration
	// finished is terminal
	s.Finished = s.Finished || lobby.IsFinished()
	if lobby.WinnerID != nil {
		s.WinnerID = *lobby.WinnerID
	}
	return s
}

func reducePlayer(s State, p models.Player) State {
	if p.LobbyID != s.LobbyID {
		return s
	}
	incoming := Player{
		ID:         p.ID,
		Name:       p.Name,
		JoinOrder:  p.JoinOrder,
		IsHost:     p.IsHost,
		Eliminated: !p.IsActive(),
	}

	players := make([]Player, 0, len(s.Players)+1)
	merged := false
	for _, existing := range s.Players {
		if existing.ID == incoming.ID {
			// elimination is never undone, so a replayed insert cannot revive
			incoming.Eliminated = incoming.Eliminated || existing.Eliminated
			existing = incoming
			merged = true
		}
		players = append(players, existing)
	}
	if !merged {
		players = insertByJoinOrder(players, incoming)
	}
	s.Players = players
	if winner := s.rosterWinner(); winner != "" {
		s.WinnerID = winner
	}
	return s
}

func insertByJoinOrder(players []Player, p Player) []Player {
	i := len(players)
	for i > 0 && players[i-1].JoinOrder > p.JoinOrder {
		i--
	}
	players = append(players, Player{})
	copy(players[i+1:], players[i:])
	players[i] = p
	return players
}

func (s State) rosterWinner() string {
	if len(s.Players) < 2 {
		return ""
	}
	winner := ""
	for _, p := range s.Players {
		if p.Eliminated {
			continue
		}
		if winner != "" {
			return ""
		}
		winner = p.ID
	}
	return winner
}

func reduceRound(s State, r models.Round) State {
	if r.LobbyID != s.LobbyID {
		return s
	}
	switch {
	case r.RoundNumber < s.RoundNumber:
		return s
	case r.RoundNumber == s.RoundNumber && r.Turn < s.Turn:
		return s
	case r.RoundNumber > s.RoundNumber:
		s.LatestSubmission = nil
	}

	s.RoundID = r.ID
	s.RoundNumber = r.RoundNumber
	s.Turn = r.Turn
	s.RoundEnded = r.EndedAt != nil
	s.ActivePlayerID = r.ActivePlayerID
	s.StartTime = r.StartTime
	s.CurrentWord = r.CurrentWord
	return s
}

func reduceSubmission(s State, sub models.Submission) State {
	if sub.RoundID != s.RoundID {
		return s
	}
	latest := s.LatestSubmission

	if latest != nil && latest.ID == sub.ID {
		merged := sub
		merged.IsDisputed = sub.IsDisputed || latest.IsDisputed
		if merged.DisputeResult == nil {
			merged.DisputeResult = latest.DisputeResult
		}
		s.LatestSubmission = &merged
		return s
	}
	if latest != nil && sub.Turn < latest.Turn {
		return s
	}

	s.LatestSubmission = &sub
	// the word was played on sub.Turn and moved the round to sub.Turn+1; a
	// round already further along keeps its own word and countdown
	if sub.Turn+1 >= s.Turn {
		s.CurrentWord = sub.Word
		if sub.CreatedAt.After(s.StartTime) {
			s.StartTime = sub.CreatedAt
		}
	}
	return s
}

// Live reports whether a round is running and the game is not over.
func (s State) Live() bool {
	return s.RoundID != "" && !s.RoundEnded && !s.Finished
}

// Remaining is the whole seconds left in the active player's turn.
func (s State) Remaining(now time.Time) int {
	if !s.Live() {
		return 0
	}
	elapsed := int(now.Sub(s.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if left := s.TimerDuration - elapsed; left > 0 {
		return left
	}
	return 0
}

func (s State) Expired(now time.Time) bool {
	return s.Live() && !s.turnPlayed() && s.Remaining(now) == 0
}

// turnPlayed reports whether the latest word already used up the current
// turn while the round update that passes it on is still in flight.
func (s State) turnPlayed() bool {
	return s.LatestSubmission != nil && s.LatestSubmission.Turn >= s.Turn
}

func (s State) Self() *Player {
	for i := range s.Players {
		if s.Players[i].ID == s.SelfID {
			return &s.Players[i]
		}
	}
	return nil
}

func (s State) IsMyTurn() bool {
	self := s.Self()
	return s.Live() && self != nil && !self.Eliminated && s.ActivePlayerID == s.SelfID && !s.turnPlayed()
}

// CanDispute reports whether the latest word can still be challenged.
func (s State) CanDispute(now time.Time, window time.Duration) bool {
	sub := s.LatestSubmission
	return sub != nil && !sub.IsDisputed && sub.InDisputeWindow(now, window)
}

// DisputePending reports whether the latest word awaits its dispute result.
func (s State) DisputePending() bool {
	sub := s.LatestSubmission
	return sub != nil && sub.IsDisputed && !sub.IsResolved()
}
