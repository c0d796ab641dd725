// Package store is the transactional record store for lobbies, players,
// rounds, submissions and votes. Every committed change is announced on the
// change feed.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"wordchain/errs"
	"wordchain/feed"
	"wordchain/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Store struct {
	db        *gorm.DB
	publisher feed.Publisher
	logger    *slog.Logger

	// pending buffers change events while inside Transaction.
	pending *[]feed.Event
}

func New(db *gorm.DB, publisher feed.Publisher, logger *slog.Logger) *Store {
	return &Store{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

// AutoMigrate creates or updates the tables and indexes the store relies on.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Lobby{},
		&models.Player{},
		&models.Round{},
		&models.Submission{},
		&models.Vote{},
	)
}

// Transaction runs fn atomically. Change events produced inside fn are
// published after commit, in the order the writes happened; nothing is
// published on rollback. Nested calls join the outer transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.pending != nil {
		return fn(s)
	}

	var events []feed.Event
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		events = events[:0]
		return fn(&Store{
			db:        gtx,
			publisher: s.publisher,
			logger:    s.logger,
			pending:   &events,
		})
	})
	if err != nil {
		if isTyped(err) {
			return err
		}
		return storeErr("commit transaction", err)
	}

	s.publish(ctx, events...)
	return nil
}

func (s *Store) emit(ctx context.Context, collection feed.Collection, op feed.Op, record any, scope feed.Filter) {
	event, err := feed.NewEvent(collection, op, record, scope)
	if err != nil {
		s.logger.Error("failed to build change event", "collection", collection, "error", err)
		return
	}
	if s.pending != nil {
		*s.pending = append(*s.pending, event)
		return
	}
	s.publish(ctx, event)
}

// publish never fails the write: the record is committed and clients resync
// from the store on their next snapshot.
func (s *Store) publish(ctx context.Context, events ...feed.Event) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("change feed publish failed", "collection", event.Collection, "op", event.Op, "error", err)
		}
	}
}

func isTyped(err error) bool {
	return errs.IsNotFound(err) || errs.IsConflict(err) || errs.IsValidation(err) || errs.IsStore(err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func storeErr(action string, err error) error {
	code := "store"
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code = pgErr.Code
	}
	return &errs.StoreError{Code: code, Message: action, Err: err}
}

func notFoundOr(err error, resource, id, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound(resource, id)
	}
	return storeErr(action, err)
}

// Lobbies

func (s *Store) InsertLobby(ctx context.Context, lobby *models.Lobby) error {
	if err := s.db.WithContext(ctx).Create(lobby).Error; err != nil {
		if isDuplicate(err) {
			return errs.Conflict("game code %s is already in use", lobby.GameCode)
		}
		return storeErr("insert lobby", err)
	}
	s.emit(ctx, feed.Lobbies, feed.Insert, lobby, feed.Eq("id", lobby.ID))
	return nil
}

func (s *Store) Lobby(ctx context.Context, id string) (*models.Lobby, error) {
	var lobby models.Lobby
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&lobby).Error; err != nil {
		return nil, notFoundOr(err, "lobby", id, "get lobby")
	}
	return &lobby, nil
}

func (s *Store) LobbyByCode(ctx context.Context, code string) (*models.Lobby, error) {
	var lobby models.Lobby
	if err := s.db.WithContext(ctx).Where("game_code = ?", code).First(&lobby).Error; err != nil {
		return nil, notFoundOr(err, "lobby with code", code, "get lobby by code")
	}
	return &lobby, nil
}

// ActivateLobby moves a waiting lobby to active. It is a no-op otherwise.
func (s *Store) ActivateLobby(ctx context.Context, id string) error {
	return s.setLobbyStatus(ctx, id, "status = ?", []any{models.LobbyWaiting}, map[string]any{
		"status": models.LobbyActive,
	})
}

// FinishLobby ends the game once, recording the winner if there is one.
// Later calls are no-ops.
func (s *Store) FinishLobby(ctx context.Context, id string, winnerID *string) error {
	return s.setLobbyStatus(ctx, id, "status <> ?", []any{models.LobbyFinished}, map[string]any{
		"status":    models.LobbyFinished,
		"winner_id": winnerID,
	})
}

func (s *Store) setLobbyStatus(ctx context.Context, id, guard string, guardArgs []any, changes map[string]any) error {
	result := s.db.WithContext(ctx).Model(&models.Lobby{}).
		Where("id = ?", id).
		Where(guard, guardArgs...).
		Updates(changes)
	if result.Error != nil {
		return storeErr("update lobby status", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	lobby, err := s.Lobby(ctx, id)
	if err != nil {
		return err
	}
	s.emit(ctx, feed.Lobbies, feed.Update, lobby, feed.Eq("id", lobby.ID))
	return nil
}

// Players

func (s *Store) InsertPlayer(ctx context.Context, player *models.Player) error {
	if err := s.db.WithContext(ctx).Create(player).Error; err != nil {
		if isDuplicate(err) {
			return errs.Conflict("join order %d in lobby %s was taken concurrently", player.JoinOrder, player.LobbyID)
		}
		return storeErr("insert player", err)
	}
	s.emit(ctx, feed.Players, feed.Insert, player, feed.Eq("lobby_id", player.LobbyID))
	return nil
}

func (s *Store) Player(ctx context.Context, lobbyID, playerID string) (*models.Player, error) {
	var player models.Player
	err := s.db.WithContext(ctx).
		Where("lobby_id = ? AND id = ?", lobbyID, playerID).
		First(&player).Error
	if err != nil {
		return nil, notFoundOr(err, "player", playerID, "get player")
	}
	return &player, nil
}

// Players lists the lobby roster ordered by join order.
func (s *Store) Players(ctx context.Context, lobbyID string) ([]models.Player, error) {
	var players []models.Player
	err := s.db.WithContext(ctx).
		Where("lobby_id = ?", lobbyID).
		Order("join_order ASC").
		Find(&players).Error
	if err != nil {
		return nil, storeErr("list players", err)
	}
	return players, nil
}

func (s *Store) MaxJoinOrder(ctx context.Context, lobbyID string) (int, error) {
	var max int
	err := s.db.WithContext(ctx).Model(&models.Player{}).
		Where("lobby_id = ?", lobbyID).
		Select("COALESCE(MAX(join_order), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, storeErr("max join order", err)
	}
	return max, nil
}

// EliminatePlayer flips an active player to eliminated. changed is false when
// the player was already eliminated.
func (s *Store) EliminatePlayer(ctx context.Context, lobbyID, playerID string) (player *models.Player, changed bool, err error) {
	result := s.db.WithContext(ctx).Model(&models.Player{}).
		Where("lobby_id = ? AND id = ? AND status = ?", lobbyID, playerID, models.PlayerActive).
		Update("status", models.PlayerEliminated)
	if result.Error != nil {
		return nil, false, storeErr("eliminate player", result.Error)
	}

	player, err = s.Player(ctx, lobbyID, playerID)
	if err != nil {
		return nil, false, err
	}
	if result.RowsAffected == 0 {
		return player, false, nil
	}
	s.emit(ctx, feed.Players, feed.Update, player, feed.Eq("lobby_id", player.LobbyID))
	return player, true, nil
}

// Rounds

func (s *Store) InsertRound(ctx context.Context, round *models.Round) error {
	if err := s.db.WithContext(ctx).Create(round).Error; err != nil {
		if isDuplicate(err) {
			return errs.Conflict("round %d of lobby %s was already started", round.RoundNumber, round.LobbyID)
		}
		return storeErr("insert round", err)
	}
	s.emit(ctx, feed.Rounds, feed.Insert, round, feed.Eq("lobby_id", round.LobbyID))
	return nil
}

func (s *Store) Round(ctx context.Context, id string) (*models.Round, error) {
	var round models.Round
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&round).Error; err != nil {
		return nil, notFoundOr(err, "round", id, "get round")
	}
	return &round, nil
}

// CurrentRound returns the round with the highest number, or nil before the
// first round starts.
func (s *Store) CurrentRound(ctx context.Context, lobbyID string) (*models.Round, error) {
	var rounds []models.Round
	err := s.db.WithContext(ctx).
		Where("lobby_id = ?", lobbyID).
		Order("round_number DESC").
		Limit(1).
		Find(&rounds).Error
	if err != nil {
		return nil, storeErr("get current round", err)
	}
	if len(rounds) == 0 {
		return nil, nil
	}
	return &rounds[0], nil
}

// RoundChanges lists the round fields a guarded update may set.
type RoundChanges struct {
	ActivePlayerID *string
	StartTime      *time.Time
	CurrentWord    *string
	EndedAt        *time.Time
}

// SwapRound applies changes only if the round is still live and still at the
// turn the caller read. Every successful swap bumps the turn, so of several
// concurrent callers acting on the same read exactly one wins; the others get
// a ConflictError.
func (s *Store) SwapRound(ctx context.Context, expected *models.Round, changes RoundChanges) (*models.Round, error) {
	updates := map[string]any{"turn": gorm.Expr("turn + 1")}
	if changes.ActivePlayerID != nil {
		updates["active_player_id"] = *changes.ActivePlayerID
	}
	if changes.StartTime != nil {
		updates["start_time"] = *changes.StartTime
	}
	if changes.CurrentWord != nil {
		updates["current_word"] = *changes.CurrentWord
	}
	if changes.EndedAt != nil {
		updates["ended_at"] = *changes.EndedAt
	}

	result := s.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND turn = ? AND ended_at IS NULL", expected.ID, expected.Turn).
		Updates(updates)
	if result.Error != nil {
		return nil, storeErr("update round", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errs.Conflict("round %s changed since turn %d", expected.ID, expected.Turn)
	}

	round, err := s.Round(ctx, expected.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, feed.Rounds, feed.Update, round, feed.Eq("lobby_id", round.LobbyID))
	return round, nil
}

// Submissions

func (s *Store) InsertSubmission(ctx context.Context, submission *models.Submission) error {
	if err := s.db.WithContext(ctx).Create(submission).Error; err != nil {
		if isDuplicate(err) {
			return errs.Conflict("submission %s already exists", submission.ID)
		}
		return storeErr("insert submission", err)
	}
	s.emit(ctx, feed.Submissions, feed.Insert, submission, feed.Eq("round_id", submission.RoundID))
	return nil
}

func (s *Store) Submission(ctx context.Context, id string) (*models.Submission, error) {
	var submission models.Submission
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return nil, notFoundOr(err, "submission", id, "get submission")
	}
	return &submission, nil
}

// LatestSubmission returns the most recent submission of a round, or nil.
func (s *Store) LatestSubmission(ctx context.Context, roundID string) (*models.Submission, error) {
	var submissions []models.Submission
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("turn DESC").
		Limit(1).
		Find(&submissions).Error
	if err != nil {
		return nil, storeErr("get latest submission", err)
	}
	if len(submissions) == 0 {
		return nil, nil
	}
	return &submissions[0], nil
}

// MarkDisputed flags a submission. changed is false if it already was.
func (s *Store) MarkDisputed(ctx context.Context, id string) (submission *models.Submission, changed bool, err error) {
	result := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND is_disputed = ?", id, false).
		Update("is_disputed", true)
	if result.Error != nil {
		return nil, false, storeErr("mark disputed", result.Error)
	}
	return s.reloadSubmission(ctx, id, result.RowsAffected > 0)
}

// ResolveDispute records the dispute result once. changed is false when a
// result had already been recorded.
func (s *Store) ResolveDispute(ctx context.Context, id string, accepted bool) (submission *models.Submission, changed bool, err error) {
	result := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND dispute_result IS NULL", id).
		Update("dispute_result", accepted)
	if result.Error != nil {
		return nil, false, storeErr("resolve dispute", result.Error)
	}
	return s.reloadSubmission(ctx, id, result.RowsAffected > 0)
}

func (s *Store) reloadSubmission(ctx context.Context, id string, changed bool) (*models.Submission, bool, error) {
	submission, err := s.Submission(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.emit(ctx, feed.Submissions, feed.Update, submission, feed.Eq("round_id", submission.RoundID))
	}
	return submission, changed, nil
}

// Votes

func (s *Store) InsertVote(ctx context.Context, vote *models.Vote) error {
	if err := s.db.WithContext(ctx).Create(vote).Error; err != nil {
		if isDuplicate(err) {
			return errs.Conflict("player %s already voted on submission %s", vote.PlayerID, vote.SubmissionID)
		}
		return storeErr("insert vote", err)
	}
	s.emit(ctx, feed.Votes, feed.Insert, vote, feed.Eq("submission_id", vote.SubmissionID))
	return nil
}

// Votes lists the votes cast on one submission.
func (s *Store) Votes(ctx context.Context, submissionID string) ([]models.Vote, error) {
	var votes []models.Vote
	err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&votes).Error
	if err != nil {
		return nil, storeErr("list votes", err)
	}
	return votes, nil
}
