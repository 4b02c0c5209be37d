package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries the creator-chosen parameters of a new game.
type Config struct {
	BaseTime    int
	Increment   int
	BetAmount   decimal.Decimal
	PlatformFee decimal.Decimal
	IsRated     bool
}

// Validate checks the time control and wager parameters.
func (c Config) Validate() error {
	if c.BaseTime <= 0 || c.Increment < 0 {
		return Validation("Invalid time controls")
	}
	if c.BetAmount.IsNegative() {
		return Validation("Bet amount cannot be negative")
	}
	if !c.BetAmount.Equal(c.BetAmount.Round(2)) {
		return Validation("Bet amount supports at most two decimal places")
	}
	if c.PlatformFee.IsNegative() || c.PlatformFee.GreaterThan(decimal.NewFromInt(1)) {
		return Validation("Platform fee must be between 0 and 1")
	}
	return nil
}

// New builds a PENDING game for creator. Stakes are escrowed by the caller.
func New(id, creator string, cfg Config, now time.Time) (*Game, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, Validation("Creator is required")
	}
	if strings.TrimSpace(id) == "" {
		return nil, Validation("Game id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Game{
		ID:             id,
		WhiteID:        creator,
		Status:         StatusPending,
		Outcome:        OutcomeIncomplete,
		IsRated:        cfg.IsRated,
		Moves:          []string{},
		BaseTime:       cfg.BaseTime,
		Increment:      cfg.Increment,
		WhiteRemaining: float64(cfg.BaseTime),
		BetAmount:      cfg.BetAmount,
		BetLocked:      cfg.BetAmount.IsPositive(),
		PlatformFee:    cfg.PlatformFee,
		CreatedAt:      now,
		StartTime:      now,
	}, nil
}

func (g *Game) transition(next Status) error {
	if !g.Status.CanTransition(next) {
		return fmt.Errorf("game %s: illegal transition %s -> %s", g.ID, g.Status, next)
	}
	g.Status = next
	return nil
}

// finish moves an ACTIVE or PENDING game to its terminal status exactly once.
func (g *Game) finish(outcome Outcome, term Termination, at time.Time) error {
	var next Status
	switch outcome {
	case OutcomeWhiteWin, OutcomeBlackWin, OutcomeDraw:
		next = StatusCompleted
	case OutcomeCancelled:
		next = StatusCancelled
	case OutcomeIncomplete:
		return fmt.Errorf("game %s: finish with incomplete outcome", g.ID)
	default:
		return fmt.Errorf("game %s: unknown outcome %d", g.ID, uint8(outcome))
	}
	if err := g.transition(next); err != nil {
		return err
	}
	g.Outcome = outcome
	g.Termination = term
	g.DrawOfferedBy = ""
	t := at.UTC()
	g.EndTime = &t
	return nil
}

// Join seats user as black and starts the game. Stake escrow is the caller's job.
func (g *Game) Join(userID string, now time.Time) error {
	if g.Status != StatusPending {
		return InvalidState("Game is not open for joining")
	}
	if userID == g.WhiteID {
		return InvalidState("Cannot join your own game")
	}
	if strings.TrimSpace(userID) == "" {
		return Validation("User is required")
	}
	if err := g.transition(StatusActive); err != nil {
		return err
	}
	g.BlackID = userID
	g.setRemaining(Black, float64(g.BaseTime))
	if g.BetAmount.IsPositive() {
		g.BetLocked = true
	}
	return nil
}

// MoveResult describes an accepted move.
type MoveResult struct {
	Notation string
	Position Position
	Ended    bool
}

// Move validates and applies notation for userID against pos, the position replayed
// from g.Moves. Clock exhaustion is evaluated before the oracle's terminal verdict.
// On a domain error g is left untouched.
func (g *Game) Move(pos Position, userID, notation string, at time.Time) (MoveResult, error) {
	if g.Status != StatusActive {
		return MoveResult{}, InvalidState("Game is not active")
	}
	mover, ok := g.ColorOf(userID)
	if !ok {
		return MoveResult{}, Unauthorized("You are not a player in this game")
	}
	if pos == nil {
		return MoveResult{}, fmt.Errorf("game %s: nil position", g.ID)
	}
	if pos.Turn() != mover {
		return MoveResult{}, InvalidState("Not your turn")
	}
	notation = strings.TrimSpace(notation)
	if notation == "" {
		return MoveResult{}, InvalidMove("Invalid move format", nil)
	}
	next, canonical, err := pos.Apply(notation)
	if err != nil {
		return MoveResult{}, InvalidMove("Invalid move", err)
	}

	g.Moves = append(g.Moves, canonical)
	res := MoveResult{Notation: canonical, Position: next}

	if ChargeMove(g, mover, at) {
		if err := g.finish(winFor(mover.Opponent()), TermTimeout, at); err != nil {
			return MoveResult{}, err
		}
		res.Ended = true
		return res, nil
	}
	if outcome, term, done := outcomeFor(next.Terminal(), mover); done {
		if err := g.finish(outcome, term, at); err != nil {
			return MoveResult{}, err
		}
		res.Ended = true
	}
	return res, nil
}

// Resign ends an ACTIVE game in favour of the opponent.
func (g *Game) Resign(userID string, now time.Time) error {
	if g.Status != StatusActive {
		return InvalidState("Game is not active")
	}
	c, ok := g.ColorOf(userID)
	if !ok {
		return Unauthorized("You are not a player in this game")
	}
	return g.finish(winFor(c.Opponent()), TermResignation, now)
}

// Cancel ends a PENDING or ACTIVE game with no winner; stakes are refunded by settlement.
func (g *Game) Cancel(userID string, now time.Time) error {
	if g.Status != StatusPending && g.Status != StatusActive {
		return InvalidState("Game cannot be cancelled")
	}
	if !g.IsParticipant(userID) {
		return Unauthorized("Only a player can cancel")
	}
	return g.finish(OutcomeCancelled, TermCancelled, now)
}

// Timeout ends an ACTIVE game whose side-to-move has run out of time.
func (g *Game) Timeout(now time.Time) (bool, error) {
	side, flagged := Flagged(g, now)
	if !flagged {
		return false, nil
	}
	g.setRemaining(side, 0)
	if err := g.finish(winFor(side.Opponent()), TermTimeout, now); err != nil {
		return false, err
	}
	return true, nil
}
