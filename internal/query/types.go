package query

import "time"

// LeaderboardEntry is one row of the standings, ordered by stage then
// points.
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	ActorID   int64  `json:"actor_id"`
	Points    int64  `json:"points"`
	Pills     int64  `json:"pills"`
	Stage     int    `json:"stage"`
	StageName string `json:"stage_name"`
}

// DuelRecord is one finished duel from an actor's history.
type DuelRecord struct {
	DuelID     int64     `json:"duel_id"`
	Challenger int64     `json:"challenger"`
	Challenged int64     `json:"challenged"`
	WinnerID   *int64    `json:"winner_id,omitempty"`
	Drawn      bool      `json:"drawn"`
	FinishedAt time.Time `json:"finished_at"`
}

// RoundRecord is one drawn lottery round.
type RoundRecord struct {
	RoundID  int64     `json:"round_id"`
	Digits   [3]int    `json:"digits"`
	Pool     int64     `json:"pool"`
	Wagers   int       `json:"wagers"`
	OpenedAt time.Time `json:"opened_at"`
	DrawnAt  time.Time `json:"drawn_at"`
}

// JournalRecord is one ledger movement for an actor.
type JournalRecord struct {
	Kind        string    `json:"kind"`
	PointsDelta int64     `json:"points_delta"`
	PillsDelta  int64     `json:"pills_delta"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
