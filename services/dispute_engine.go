package services

import (
	"context"
	"log/slog"
	"time"

	"wordchain/errs"
	"wordchain/models"
	"wordchain/store"
)

// DisputeEngine lets players challenge the latest word of a round, vote on
// it and settle the result. A rejected word eliminates its author.
type DisputeEngine struct {
	store  *store.Store
	rounds *RoundEngine
	window time.Duration
	now    Clock
	logger *slog.Logger
}

func NewDisputeEngine(store *store.Store, rounds *RoundEngine, window time.Duration, now Clock, logger *slog.Logger) *DisputeEngine {
	return &DisputeEngine{
		store:  store,
		rounds: rounds,
		window: window,
		now:    now,
		logger: logger,
	}
}

func (e *DisputeEngine) Window() time.Duration {
	return e.window
}

// OpenDispute flags the latest submission of a round as disputed. Only the
// most recent word can be challenged, and only within the dispute window.
// Disputing an already disputed submission returns it unchanged.
func (e *DisputeEngine) OpenDispute(ctx context.Context, submissionID, playerID string) (*models.Submission, error) {
	var (
		submission *models.Submission
		changed    bool
	)
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		sub, round, err := e.load(ctx, tx, submissionID, playerID)
		if err != nil {
			return err
		}
		if sub.IsDisputed {
			submission = sub
			return nil
		}

		latest, err := tx.LatestSubmission(ctx, round.ID)
		if err != nil {
			return err
		}
		if latest == nil || latest.ID != sub.ID {
			return errs.Conflict("only the latest word of a round can be disputed")
		}
		if !sub.InDisputeWindow(e.now(), e.window) {
			return errs.Conflict("dispute window of %s has closed", e.window)
		}

		submission, changed, err = tx.MarkDisputed(ctx, sub.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.logger.Info("dispute opened", "submission", submissionID, "word", submission.Word, "by", playerID)
	}
	return submission, nil
}

// CastVote records one vote per player on a disputed, unresolved submission.
func (e *DisputeEngine) CastVote(ctx context.Context, submissionID, playerID string, accept bool) (*models.Vote, error) {
	var vote *models.Vote
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		sub, _, err := e.load(ctx, tx, submissionID, playerID)
		if err != nil {
			return err
		}
		if !sub.IsDisputed {
			return errs.Conflict("submission %s is not disputed", sub.ID)
		}
		if sub.IsResolved() {
			return errs.Conflict("dispute on %q is already settled", sub.Word)
		}

		vote = &models.Vote{
			SubmissionID: sub.ID,
			PlayerID:     playerID,
			Vote:         accept,
			CreatedAt:    e.now(),
		}
		return tx.InsertVote(ctx, vote)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("vote cast", "submission", submissionID, "player", playerID, "accept", accept)
	return vote, nil
}

// FinalizeDispute tallies the votes cast on the submission and records the
// result. The word is accepted only with strictly more accept than decline
// votes. Finalizing twice returns the recorded result with Applied false.
func (e *DisputeEngine) FinalizeDispute(ctx context.Context, submissionID string) (*models.DisputeOutcome, error) {
	var outcome *models.DisputeOutcome
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		sub, err := tx.Submission(ctx, submissionID)
		if err != nil {
			return err
		}
		if !sub.IsDisputed {
			return errs.Conflict("submission %s is not disputed", sub.ID)
		}

		votes, err := tx.Votes(ctx, sub.ID)
		if err != nil {
			return err
		}
		accept, decline := models.Tally(votes)
		if sub.IsResolved() {
			outcome = recorded(sub, accept, decline)
			return nil
		}
		if len(votes) == 0 {
			return errs.Invalid("votes", "no votes found for this dispute")
		}

		accepted := accept > decline
		resolved, changed, err := tx.ResolveDispute(ctx, sub.ID, accepted)
		if err != nil {
			return err
		}
		if !changed {
			outcome = recorded(resolved, accept, decline)
			return nil
		}

		outcome = &models.DisputeOutcome{
			Applied:    true,
			Submission: resolved,
			Accept:     accept,
			Decline:    decline,
			Accepted:   accepted,
		}
		if accepted {
			return nil
		}

		round, err := tx.Round(ctx, sub.RoundID)
		if err != nil {
			return err
		}
		lobby, err := tx.Lobby(ctx, round.LobbyID)
		if err != nil {
			return err
		}
		// the game ended while the dispute was open; the verdict is kept
		// but nobody leaves a finished game
		if lobby.IsFinished() {
			outcome.WinnerID = deref(lobby.WinnerID)
			return nil
		}
		elim, _, err := e.rounds.eliminate(ctx, tx, lobby, sub.PlayerID)
		if err != nil {
			return err
		}
		if elim.Applied {
			outcome.Eliminated = elim.Player
		}
		outcome.WinnerID = elim.WinnerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Applied {
		e.logger.Info("dispute finalized",
			"submission", submissionID,
			"accept", outcome.Accept,
			"decline", outcome.Decline,
			"accepted", outcome.Accepted,
		)
	}
	return outcome, nil
}

// load fetches the submission and its round, and checks that playerID
// belongs to the lobby the round is played in.
func (e *DisputeEngine) load(ctx context.Context, tx *store.Store, submissionID, playerID string) (*models.Submission, *models.Round, error) {
	sub, err := tx.Submission(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	round, err := tx.Round(ctx, sub.RoundID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.Player(ctx, round.LobbyID, playerID); err != nil {
		return nil, nil, err
	}
	return sub, round, nil
}

func recorded(sub *models.Submission, accept, decline int) *models.DisputeOutcome {
	return &models.DisputeOutcome{
		Submission: sub,
		Accept:     accept,
		Decline:    decline,
		Accepted:   *sub.DisputeResult,
	}
}
