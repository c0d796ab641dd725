package services

import (
	"context"
	"log/slog"
	"strings"

	"wordchain/errs"
	"wordchain/models"
	"wordchain/random"
	"wordchain/store"
)

const (
	MinTimerSeconds = 5
	MaxTimerSeconds = 300

	codeAttempts = 5
)

type CreateLobbyRequest struct {
	Name          string `json:"name" binding:"required"`
	TimerDuration int    `json:"timer_duration"`
}

type JoinLobbyRequest struct {
	GameCode string `json:"game_code" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type LobbyService struct {
	store        *store.Store
	random       random.Source
	codeLength   int
	defaultTimer int
	logger       *slog.Logger
}

func NewLobbyService(store *store.Store, src random.Source, codeLength, defaultTimer int, logger *slog.Logger) *LobbyService {
	return &LobbyService{
		store:        store,
		random:       src,
		codeLength:   codeLength,
		defaultTimer: defaultTimer,
		logger:       logger,
	}
}

// CreateLobby opens a lobby with hostID as its first player and host.
func (s *LobbyService) CreateLobby(ctx context.Context, hostID string, req *CreateLobbyRequest) (*models.Lobby, *models.Player, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, errs.Invalid("name", "is required")
	}
	timer := req.TimerDuration
	if timer == 0 {
		timer = s.defaultTimer
	}
	if timer < MinTimerSeconds || timer > MaxTimerSeconds {
		return nil, nil, errs.Invalid("timer_duration", "must be between 5 and 300 seconds")
	}

	var (
		lobby *models.Lobby
		host  *models.Player
		err   error
	)
	// a fresh code is drawn when the previous one is already taken
	for attempt := 0; attempt < codeAttempts; attempt++ {
		lobby = &models.Lobby{
			GameCode:      random.GameCode(s.random, s.codeLength),
			TimerDuration: timer,
			Status:        models.LobbyWaiting,
		}
		err = s.store.Transaction(ctx, func(tx *store.Store) error {
			if err := tx.InsertLobby(ctx, lobby); err != nil {
				return err
			}
			host = &models.Player{
				ID:        hostID,
				LobbyID:   lobby.ID,
				Name:      name,
				JoinOrder: 1,
				IsHost:    true,
				Status:    models.PlayerActive,
			}
			return tx.InsertPlayer(ctx, host)
		})
		if !errs.IsConflict(err) {
			break
		}
		s.logger.Warn("game code collision", "code", lobby.GameCode, "attempt", attempt+1)
	}
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("lobby created", "lobby", lobby.ID, "code", lobby.GameCode, "host", hostID)
	return lobby, host, nil
}

// JoinLobby adds userID to the lobby with the given code. A user who already
// joined gets their existing player record back.
func (s *LobbyService) JoinLobby(ctx context.Context, userID string, req *JoinLobbyRequest) (*models.Lobby, *models.Player, error) {
	code := strings.ToUpper(strings.TrimSpace(req.GameCode))
	name := strings.TrimSpace(req.Name)
	if code == "" {
		return nil, nil, errs.Invalid("game_code", "is required")
	}
	if name == "" {
		return nil, nil, errs.Invalid("name", "is required")
	}

	var (
		lobby  *models.Lobby
		player *models.Player
		joined bool
	)
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		lobby, err = tx.LobbyByCode(ctx, code)
		if err != nil {
			return err
		}

		player, err = tx.Player(ctx, lobby.ID, userID)
		if err == nil {
			return nil
		}
		if !errs.IsNotFound(err) {
			return err
		}
		if lobby.IsFinished() {
			return errs.Conflict("game %s is over", code)
		}

		max, err := tx.MaxJoinOrder(ctx, lobby.ID)
		if err != nil {
			return err
		}
		player = &models.Player{
			ID:        userID,
			LobbyID:   lobby.ID,
			Name:      name,
			JoinOrder: max + 1,
			Status:    models.PlayerActive,
		}
		joined = true
		return tx.InsertPlayer(ctx, player)
	})
	if err != nil {
		return nil, nil, err
	}

	if joined {
		s.logger.Info("player joined", "lobby", lobby.ID, "player", userID, "join_order", player.JoinOrder)
	}
	return lobby, player, nil
}

// Snapshot reads everything needed to render a lobby from scratch.
func (s *LobbyService) Snapshot(ctx context.Context, lobbyID string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		lobby, err := tx.Lobby(ctx, lobbyID)
		if err != nil {
			return err
		}
		snap.Lobby = *lobby

		if snap.Players, err = tx.Players(ctx, lobbyID); err != nil {
			return err
		}
		if snap.Round, err = tx.CurrentRound(ctx, lobbyID); err != nil {
			return err
		}
		if snap.Round != nil {
			snap.LatestSubmission, err = tx.LatestSubmission(ctx, snap.Round.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Member reports whether userID has joined the lobby.
func (s *LobbyService) Member(ctx context.Context, lobbyID, userID string) (*models.Player, error) {
	return s.store.Player(ctx, lobbyID, userID)
}
