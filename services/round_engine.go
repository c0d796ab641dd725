package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"wordchain/errs"
	"wordchain/models"
	"wordchain/random"
	"wordchain/store"
)

// Clock returns the current time. Engines take one so tests can pin it.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

// errStale aborts a transaction whose guarded write lost to another writer.
var errStale = errors.New("state changed concurrently")

// RoundEngine owns the round lifecycle: starting rounds, rotating turns,
// expiring turns and eliminating players. All of its writes are guarded so
// that any number of clients may call it concurrently for the same lobby.
type RoundEngine struct {
	store  *store.Store
	random random.Source
	now    Clock
	logger *slog.Logger
}

func NewRoundEngine(store *store.Store, src random.Source, now Clock, logger *slog.Logger) *RoundEngine {
	return &RoundEngine{
		store:  store,
		random: src,
		now:    now,
		logger: logger,
	}
}

// StartRound starts the next round of a lobby with the caller as the first
// active player. Of several concurrent starts exactly one commits; the others
// get a ConflictError.
func (e *RoundEngine) StartRound(ctx context.Context, lobbyID, callerID, startingWord string) (*models.Round, error) {
	word := strings.TrimSpace(startingWord)
	if word == "" {
		return nil, errs.Invalid("starting_word", "is required")
	}

	var round *models.Round
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		lobby, err := tx.Lobby(ctx, lobbyID)
		if err != nil {
			return err
		}
		if lobby.IsFinished() {
			return errs.Conflict("game in lobby %s is over", lobbyID)
		}

		caller, err := tx.Player(ctx, lobbyID, callerID)
		if err != nil {
			return err
		}
		if !caller.IsActive() {
			return errs.Conflict("eliminated players cannot start a round")
		}

		current, err := tx.CurrentRound(ctx, lobbyID)
		if err != nil {
			return err
		}
		if current != nil && current.IsLive() {
			return errs.Conflict("round %d is still in progress", current.RoundNumber)
		}

		round, err = e.insertNextRound(ctx, tx, lobby, current, caller.ID, word)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("round started",
		"lobby", lobbyID,
		"round", round.RoundNumber,
		"active_player", round.ActivePlayerID,
	)
	return round, nil
}

func (e *RoundEngine) insertNextRound(ctx context.Context, tx *store.Store, lobby *models.Lobby, previous *models.Round, playerID, word string) (*models.Round, error) {
	number := 1
	if previous != nil {
		number = previous.RoundNumber + 1
	}

	round := &models.Round{
		LobbyID:          lobby.ID,
		RoundNumber:      number,
		StartingPlayerID: playerID,
		ActivePlayerID:   playerID,
		StartingWord:     word,
		CurrentWord:      word,
		StartTime:        e.now(),
	}
	if err := tx.InsertRound(ctx, round); err != nil {
		return nil, err
	}
	if err := tx.ActivateLobby(ctx, lobby.ID); err != nil {
		return nil, err
	}
	return round, nil
}

// SubmitWord records the active player's word and passes the turn to the next
// active player by join order. Turn ownership is enforced here, against the
// stored round, not by the caller.
func (e *RoundEngine) SubmitWord(ctx context.Context, roundID, playerID, word string) (*models.Submission, *models.Round, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, nil, errs.Invalid("word", "is required")
	}

	var (
		submission *models.Submission
		updated    *models.Round
	)
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		round, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		lobby, err := tx.Lobby(ctx, round.LobbyID)
		if err != nil {
			return err
		}
		if lobby.IsFinished() {
			return errs.Conflict("game in lobby %s is over", lobby.ID)
		}
		if err := ensureCurrent(ctx, tx, round); err != nil {
			return err
		}

		submitter, err := tx.Player(ctx, lobby.ID, playerID)
		if err != nil {
			return err
		}
		if round.ActivePlayerID != submitter.ID {
			return errs.Conflict("it is not %s's turn", submitter.Name)
		}
		if !submitter.IsActive() {
			return errs.Conflict("eliminated players cannot submit words")
		}

		now := e.now()
		if !now.Before(round.Deadline(lobby.TurnDuration())) {
			return errs.Conflict("turn of %s has expired", submitter.Name)
		}

		players, err := tx.Players(ctx, lobby.ID)
		if err != nil {
			return err
		}
		next := models.NextActive(players, submitter.JoinOrder)

		// the round update goes out first so watchers never see the word
		// without the turn change
		updated, err = tx.SwapRound(ctx, round, store.RoundChanges{
			ActivePlayerID: &next.ID,
			StartTime:      &now,
			CurrentWord:    &word,
		})
		if err != nil {
			return err
		}

		submission = &models.Submission{
			RoundID:   round.ID,
			PlayerID:  submitter.ID,
			Word:      word,
			Turn:      round.Turn,
			CreatedAt: now,
		}
		return tx.InsertSubmission(ctx, submission)
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("word submitted",
		"round", roundID,
		"player", playerID,
		"next_player", updated.ActivePlayerID,
	)
	return submission, updated, nil
}

func ensureCurrent(ctx context.Context, tx *store.Store, round *models.Round) error {
	current, err := tx.CurrentRound(ctx, round.LobbyID)
	if err != nil {
		return err
	}
	if current == nil || current.ID != round.ID || !round.IsLive() {
		return errs.Conflict("round %d is no longer current", round.RoundNumber)
	}
	return nil
}

// ExpireTurn is the authoritative timeout transition for a round. It is safe
// to call from every client that observed the countdown reach zero: the first
// caller closes the round, eliminates the active player and starts the next
// round; everyone else gets an outcome with Applied false and the round that
// is current now.
func (e *RoundEngine) ExpireTurn(ctx context.Context, roundID string) (*models.TurnOutcome, error) {
	var (
		lobbyID string
		outcome *models.TurnOutcome
	)
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		round, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		lobbyID = round.LobbyID

		lobby, err := tx.Lobby(ctx, round.LobbyID)
		if err != nil {
			return err
		}
		current, err := tx.CurrentRound(ctx, lobby.ID)
		if err != nil {
			return err
		}
		if lobby.IsFinished() || current.ID != round.ID || !round.IsLive() {
			outcome = &models.TurnOutcome{Round: current, WinnerID: deref(lobby.WinnerID)}
			return nil
		}

		now := e.now()
		if deadline := round.Deadline(lobby.TurnDuration()); now.Before(deadline) {
			return errs.Conflict("turn has %s left", deadline.Sub(now).Round(time.Second))
		}

		closed, err := tx.SwapRound(ctx, round, store.RoundChanges{EndedAt: &now})
		if errs.IsConflict(err) {
			return errStale
		}
		if err != nil {
			return err
		}

		elim, gameOver, err := e.eliminate(ctx, tx, lobby, round.ActivePlayerID)
		if err != nil {
			return err
		}
		outcome = &models.TurnOutcome{
			Applied:    true,
			Eliminated: elim.Player,
			Round:      closed,
			WinnerID:   elim.WinnerID,
		}
		if gameOver {
			return nil
		}

		players, err := tx.Players(ctx, lobby.ID)
		if err != nil {
			return err
		}
		next := models.NextActive(players, elim.Player.JoinOrder)
		if next == nil {
			return tx.FinishLobby(ctx, lobby.ID, nil)
		}

		outcome.Round, err = e.insertNextRound(ctx, tx, lobby, closed, next.ID, random.Word(e.random))
		if errs.IsConflict(err) {
			return errStale
		}
		return err
	})
	if errors.Is(err, errStale) {
		return e.staleOutcome(ctx, lobbyID)
	}
	if err != nil {
		return nil, err
	}

	if outcome.Applied {
		e.logger.Info("turn expired",
			"lobby", lobbyID,
			"eliminated", outcome.Eliminated.ID,
			"round", outcome.Round.RoundNumber,
			"winner", outcome.WinnerID,
		)
	}
	return outcome, nil
}

func (e *RoundEngine) staleOutcome(ctx context.Context, lobbyID string) (*models.TurnOutcome, error) {
	lobby, err := e.store.Lobby(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	current, err := e.store.CurrentRound(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	return &models.TurnOutcome{Round: current, WinnerID: deref(lobby.WinnerID)}, nil
}

// EliminatePlayer eliminates a player and settles the consequences: the game
// ends if one player is left, otherwise a live turn held by the eliminated
// player passes to the next active player.
func (e *RoundEngine) EliminatePlayer(ctx context.Context, lobbyID, playerID string) (*models.EliminationOutcome, error) {
	var outcome *models.EliminationOutcome
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		lobby, err := tx.Lobby(ctx, lobbyID)
		if err != nil {
			return err
		}
		outcome, _, err = e.eliminate(ctx, tx, lobby, playerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if outcome.Applied {
		e.logger.Info("player eliminated", "lobby", lobbyID, "player", playerID, "winner", outcome.WinnerID)
	}
	return outcome, nil
}

// eliminate must run inside a transaction. gameOver reports whether no
// further round may start. A finished game is terminal, so nobody can be
// eliminated from it.
func (e *RoundEngine) eliminate(ctx context.Context, tx *store.Store, lobby *models.Lobby, playerID string) (*models.EliminationOutcome, bool, error) {
	if lobby.IsFinished() {
		return nil, true, errs.Conflict("game in lobby %s is over", lobby.ID)
	}
	player, changed, err := tx.EliminatePlayer(ctx, lobby.ID, playerID)
	if err != nil {
		return nil, false, err
	}
	outcome := &models.EliminationOutcome{Applied: changed, Player: player}
	if !changed {
		outcome.WinnerID = deref(lobby.WinnerID)
		return outcome, lobby.IsFinished(), nil
	}

	players, err := tx.Players(ctx, lobby.ID)
	if err != nil {
		return nil, false, err
	}
	current, err := tx.CurrentRound(ctx, lobby.ID)
	if err != nil {
		return nil, false, err
	}
	live := current != nil && current.IsLive()
	now := e.now()

	winner, hasWinner := models.Winner(players)
	next := models.NextActive(players, player.JoinOrder)
	if hasWinner || next == nil {
		var winnerID *string
		if hasWinner {
			winnerID = &winner
			outcome.WinnerID = winner
		}
		if err := tx.FinishLobby(ctx, lobby.ID, winnerID); err != nil {
			return nil, false, err
		}
		if live {
			if outcome.Round, err = tx.SwapRound(ctx, current, store.RoundChanges{EndedAt: &now}); err != nil {
				return nil, false, err
			}
		}
		return outcome, true, nil
	}

	if !live {
		return outcome, false, nil
	}
	// the live round is bumped even when someone else holds the turn, so a
	// turn pass computed from the old roster fails its swap
	changes := store.RoundChanges{}
	if current.ActivePlayerID == player.ID {
		changes.ActivePlayerID = &next.ID
		changes.StartTime = &now
	}
	if outcome.Round, err = tx.SwapRound(ctx, current, changes); err != nil {
		return nil, false, err
	}
	return outcome, false, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
