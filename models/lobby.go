package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	LobbyWaiting  = "waiting"
	LobbyActive   = "active"
	LobbyFinished = "finished"
)

type Lobby struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	GameCode      string    `json:"game_code" gorm:"uniqueIndex;size:16;not null"`
	TimerDuration int       `json:"timer_duration" gorm:"not null;default:30"` // seconds
	Status        string    `json:"status" gorm:"size:16;not null;default:'waiting'"`
	WinnerID      *string   `json:"winner_id" gorm:"size:64"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (l *Lobby) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// TurnDuration is the time a player has to submit before being eliminated.
func (l *Lobby) TurnDuration() time.Duration {
	return time.Duration(l.TimerDuration) * time.Second
}

func (l *Lobby) IsFinished() bool {
	return l.Status == LobbyFinished
}
