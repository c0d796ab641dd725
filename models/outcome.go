package models

// TurnOutcome is the result of an authoritative turn expiry. Applied is false
// when another caller already performed the transition.
type TurnOutcome struct {
	Applied    bool    `json:"applied"`
	Eliminated *Player `json:"eliminated,omitempty"`
	Round      *Round  `json:"round,omitempty"`
	WinnerID   string  `json:"winner_id,omitempty"`
}

// EliminationOutcome is the result of eliminating a player.
type EliminationOutcome struct {
	Applied  bool    `json:"applied"`
	Player   *Player `json:"player"`
	Round    *Round  `json:"round,omitempty"`
	WinnerID string  `json:"winner_id,omitempty"`
}

// DisputeOutcome is the tally and consequence of finalizing a dispute.
type DisputeOutcome struct {
	Applied    bool        `json:"applied"`
	Submission *Submission `json:"submission"`
	Accept     int         `json:"accept"`
	Decline    int         `json:"decline"`
	Accepted   bool        `json:"accepted"`
	Eliminated *Player     `json:"eliminated,omitempty"`
	WinnerID   string      `json:"winner_id,omitempty"`
}

// Snapshot is everything a client needs to render a lobby from scratch.
type Snapshot struct {
	Lobby            Lobby       `json:"lobby"`
	Players          []Player    `json:"players"`
	Round            *Round      `json:"round,omitempty"`
	LatestSubmission *Submission `json:"latest_submission,omitempty"`
}
