package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Vote struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	SubmissionID string    `json:"submission_id" gorm:"size:36;not null;uniqueIndex:idx_votes_submission_player,priority:1"`
	PlayerID     string    `json:"player_id" gorm:"size:64;not null;uniqueIndex:idx_votes_submission_player,priority:2"`
	Vote         bool      `json:"vote" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}

func (v *Vote) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// Tally counts accept and decline votes.
func Tally(votes []Vote) (accept, decline int) {
	for _, v := range votes {
		if v.Vote {
			accept++
		} else {
			decline++
		}
	}
	return accept, decline
}
