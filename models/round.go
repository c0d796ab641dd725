package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Round struct {
	ID               string     `json:"id" gorm:"primaryKey;size:36"`
	LobbyID          string     `json:"lobby_id" gorm:"size:36;not null;uniqueIndex:idx_rounds_lobby_number,priority:1"`
	RoundNumber      int        `json:"round_number" gorm:"not null;uniqueIndex:idx_rounds_lobby_number,priority:2"`
	StartingPlayerID string     `json:"starting_player_id" gorm:"size:64;not null"`
	ActivePlayerID   string     `json:"active_player_id" gorm:"size:64"`
	StartingWord     string     `json:"starting_word" gorm:"size:128;not null"`
	CurrentWord      string     `json:"current_word" gorm:"size:128;not null"`
	StartTime        time.Time  `json:"start_time" gorm:"not null"`
	Turn             int        `json:"turn" gorm:"not null;default:0"` // bumped by every guarded transition
	EndedAt          *time.Time `json:"ended_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (r *Round) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsLive reports whether the round still accepts submissions.
func (r *Round) IsLive() bool {
	return r.EndedAt == nil
}

// Deadline is the instant the active player's turn runs out.
func (r *Round) Deadline(turn time.Duration) time.Time {
	return r.StartTime.Add(turn)
}
