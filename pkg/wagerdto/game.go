package wagerdto

import "time"

// Game is the wire form of a match.
type Game struct {
	ID                 string     `json:"id"`
	WhitePlayerID      string     `json:"white_player_id"`
	BlackPlayerID      *string    `json:"black_player_id"`
	Status             string     `json:"status"`
	Outcome            string     `json:"outcome"`
	Termination        string     `json:"termination,omitempty"`
	IsRated            bool       `json:"is_rated"`
	Moves              []string   `json:"moves"`
	BaseTime           int        `json:"base_time"`
	Increment          int        `json:"increment"`
	WhiteTimeRemaining float64    `json:"white_time_remaining"`
	BlackTimeRemaining *float64   `json:"black_time_remaining"`
	DrawOfferedBy      *string    `json:"draw_offered_by"`
	BetAmount          string     `json:"bet_amount"`
	BetLocked          bool       `json:"bet_locked"`
	PlatformFee        string     `json:"platform_fee"`
	Settled            bool       `json:"settled"`
	CreatedAt          time.Time  `json:"created_at"`
	StartTime          time.Time  `json:"start_time"`
	LastMoveAt         *time.Time `json:"last_move_at"`
	EndTime            *time.Time `json:"end_time"`
	Version            int64      `json:"version"`
}

type CreateGameRequest struct {
	BaseTime  int    `json:"base_time"`
	Increment int    `json:"increment"`
	BetAmount string `json:"bet_amount"`
	IsRated   bool   `json:"is_rated"`
}

// MoveRequest carries the move in SAN or UCI. MoveTime is an optional client
// timestamp in unix seconds.
type MoveRequest struct {
	Move     string   `json:"move"`
	MoveTime *float64 `json:"move_time,omitempty"`
}

type GameResponse struct {
	Message string `json:"message"`
	Game    Game   `json:"game"`
	FEN     string `json:"fen,omitempty"`
}

type GameList struct {
	Games   []Game `json:"games"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Total   int    `json:"total"`
}
