package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Submission struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	RoundID       string    `json:"round_id" gorm:"size:36;not null;index"`
	PlayerID      string    `json:"player_id" gorm:"size:64;not null"`
	Word          string    `json:"word" gorm:"size:128;not null"`
	Turn          int       `json:"turn" gorm:"not null"` // round turn the word was played on
	IsDisputed    bool      `json:"is_disputed" gorm:"not null;default:false"`
	DisputeResult *bool     `json:"dispute_result"` // nil until the dispute is finalized
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *Submission) IsResolved() bool {
	return s.DisputeResult != nil
}

// InDisputeWindow reports whether the submission can still be challenged.
func (s *Submission) InDisputeWindow(now time.Time, window time.Duration) bool {
	return !now.After(s.CreatedAt.Add(window))
}
