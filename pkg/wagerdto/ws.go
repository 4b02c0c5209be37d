package wagerdto

import "encoding/json"

// Push message types.
const (
	EventMakeMove    = "make_move"
	EventResign      = "resign"
	EventCancelGame  = "cancel_game"
	EventOfferDraw   = "offer_draw"
	EventAcceptDraw  = "accept_draw"
	EventDeclineDraw = "decline_draw"
	EventJoinGame    = "join_game"
	EventSpectate    = "spectate"
	EventPing        = "ping"

	EventGameUpdate    = "game_update"
	EventGameEnd       = "game_end"
	EventGameCancelled = "game_cancelled"
	EventDrawOffered   = "draw_offered"
	EventDrawDeclined  = "draw_declined"
	EventError         = "error"
	EventPong          = "pong"
)

// Frame is the envelope of every push message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type GameRef struct {
	GameID string `json:"game_id"`
}

type MoveEvent struct {
	GameID   string   `json:"game_id"`
	Move     string   `json:"move"`
	MoveTime *float64 `json:"move_time,omitempty"`
}

type GameUpdate struct {
	Game Game   `json:"game"`
	FEN  string `json:"fen,omitempty"`
}

type GameEnd struct {
	GameID             string   `json:"game_id"`
	Outcome            string   `json:"outcome"`
	Termination        string   `json:"termination,omitempty"`
	WhiteTimeRemaining float64  `json:"white_time_remaining"`
	BlackTimeRemaining *float64 `json:"black_time_remaining"`
}

type DrawOffered struct {
	GameID    string `json:"game_id"`
	OfferedBy string `json:"offered_by"`
}

type DrawDeclined struct {
	GameID     string `json:"game_id"`
	DeclinedBy string `json:"declined_by"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}
