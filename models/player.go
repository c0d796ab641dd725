package models

import (
	"sort"
	"time"
)

const (
	PlayerActive     = "active"
	PlayerEliminated = "eliminated"
)

// Player is keyed by (lobby_id, id); id is the identity of the joining user.
type Player struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	LobbyID   string    `json:"lobby_id" gorm:"primaryKey;size:36;uniqueIndex:idx_players_lobby_join_order,priority:1"`
	Name      string    `json:"name" gorm:"size:64;not null"`
	JoinOrder int       `json:"join_order" gorm:"not null;uniqueIndex:idx_players_lobby_join_order,priority:2"`
	IsHost    bool      `json:"is_host" gorm:"not null;default:false"`
	Status    string    `json:"status" gorm:"size:16;not null;default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Player) IsActive() bool {
	return p.Status == PlayerActive
}

// NextActive returns the active player whose join order is the smallest one
// strictly greater than afterJoinOrder, wrapping around to the lowest join
// order. It returns nil when nobody is active.
func NextActive(players []Player, afterJoinOrder int) *Player {
	active := make([]Player, 0, len(players))
	for _, p := range players {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].JoinOrder < active[j].JoinOrder
	})

	for i := range active {
		if active[i].JoinOrder > afterJoinOrder {
			return &active[i]
		}
	}
	return &active[0]
}

// Winner returns the id of the only remaining active player. A game with
// fewer than two players never has a winner.
func Winner(players []Player) (string, bool) {
	if len(players) < 2 {
		return "", false
	}
	winner := ""
	count := 0
	for _, p := range players {
		if p.IsActive() {
			winner = p.ID
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return winner, true
}
