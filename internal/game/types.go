package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Color identifies a chess side.
type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("Color(%d)", uint8(c))
	}
}

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the lifecycle state of a game. Transitions only move forward.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusActive:
		return false
	case StatusCompleted, StatusCancelled:
		return true
	default:
		panic(fmt.Sprintf("game: unknown status %d", uint8(s)))
	}
}

// CanTransition reports whether moving from s to next is a legal forward edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted || next == StatusCancelled
	case StatusCompleted, StatusCancelled:
		return false
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus accepts the persisted (upper case) or lower case form.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return StatusPending, nil
	case "ACTIVE":
		return StatusActive, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "CANCELLED":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown game status %q", raw)
}

// Outcome is the result of a game. OutcomeIncomplete holds while the game is open.
type Outcome uint8

const (
	OutcomeIncomplete Outcome = iota
	OutcomeWhiteWin
	OutcomeBlackWin
	OutcomeDraw
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIncomplete:
		return "INCOMPLETE"
	case OutcomeWhiteWin:
		return "WHITE_WIN"
	case OutcomeBlackWin:
		return "BLACK_WIN"
	case OutcomeDraw:
		return "DRAW"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Winner returns the winning side for decisive outcomes.
func (o Outcome) Winner() (Color, bool) {
	switch o {
	case OutcomeWhiteWin:
		return White, true
	case OutcomeBlackWin:
		return Black, true
	case OutcomeIncomplete, OutcomeDraw, OutcomeCancelled:
		return 0, false
	default:
		return 0, false
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INCOMPLETE":
		return OutcomeIncomplete, nil
	case "WHITE_WIN":
		return OutcomeWhiteWin, nil
	case "BLACK_WIN":
		return OutcomeBlackWin, nil
	case "DRAW":
		return OutcomeDraw, nil
	case "CANCELLED":
		return OutcomeCancelled, nil
	}
	return 0, fmt.Errorf("unknown game outcome %q", raw)
}

func winFor(c Color) Outcome {
	if c == White {
		return OutcomeWhiteWin
	}
	return OutcomeBlackWin
}

// Termination records how a finished game ended (PGN Termination, logs).
type Termination string

const (
	TermNone                 Termination = ""
	TermCheckmate            Termination = "checkmate"
	TermStalemate            Termination = "stalemate"
	TermInsufficientMaterial Termination = "insufficient_material"
	TermSeventyFiveMove      Termination = "seventy_five_move_rule"
	TermFivefoldRepetition   Termination = "fivefold_repetition"
	TermTimeout              Termination = "timeout"
	TermResignation          Termination = "resignation"
	TermAgreement            Termination = "draw_agreement"
	TermCancelled            Termination = "cancelled"
)

// Game is the aggregate root of one match.
type Game struct {
	ID      string
	WhiteID string
	BlackID string // empty until joined

	Status      Status
	Outcome     Outcome
	Termination Termination
	IsRated     bool

	Moves     []string
	BaseTime  int // seconds
	Increment int // seconds

	WhiteRemaining float64
	BlackRemaining *float64

	DrawOfferedBy string

	BetAmount   decimal.Decimal
	BetLocked   bool
	PlatformFee decimal.Decimal
	Settled     bool
	WhiteBetRef string
	BlackBetRef string

	CreatedAt  time.Time
	StartTime  time.Time
	LastMoveAt *time.Time
	EndTime    *time.Time

	Version int64
}

// Clone returns a deep copy safe to mutate independently.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Moves = append([]string(nil), g.Moves...)
	if g.BlackRemaining != nil {
		v := *g.BlackRemaining
		cp.BlackRemaining = &v
	}
	if g.LastMoveAt != nil {
		v := *g.LastMoveAt
		cp.LastMoveAt = &v
	}
	if g.EndTime != nil {
		v := *g.EndTime
		cp.EndTime = &v
	}
	return &cp
}

// IsParticipant reports whether userID plays in the game.
func (g *Game) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return g.WhiteID == userID || g.BlackID == userID
}

// ColorOf returns the side played by userID.
func (g *Game) ColorOf(userID string) (Color, bool) {
	switch {
	case userID == "":
		return 0, false
	case g.WhiteID == userID:
		return White, true
	case g.BlackID == userID:
		return Black, true
	}
	return 0, false
}

// PlayerID returns the participant id playing side c ("" when unjoined).
func (g *Game) PlayerID(c Color) string {
	if c == White {
		return g.WhiteID
	}
	return g.BlackID
}

// Opponent returns the other participant's id.
func (g *Game) Opponent(userID string) string {
	if c, ok := g.ColorOf(userID); ok {
		return g.PlayerID(c.Opponent())
	}
	return ""
}

// SideToMove derives the turn from move-list parity. The oracle is authoritative
// for move validation; parity is used where no position is at hand.
func (g *Game) SideToMove() Color {
	if len(g.Moves)%2 == 0 {
		return White
	}
	return Black
}

func (g *Game) remaining(c Color) float64 {
	if c == White {
		return g.WhiteRemaining
	}
	if g.BlackRemaining == nil {
		return float64(g.BaseTime)
	}
	return *g.BlackRemaining
}

func (g *Game) setRemaining(c Color, v float64) {
	if v < 0 {
		v = 0
	}
	if c == White {
		g.WhiteRemaining = v
		return
	}
	g.BlackRemaining = &v
}

// RemainingFor returns the stored remaining time for side c.
func (g *Game) RemainingFor(c Color) float64 { return g.remaining(c) }
