package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateParams are the creator's choices for a new game.
type CreateParams struct {
	BaseTime  int
	Increment int
	BetAmount string
	IsRated   bool
}

func parseBet(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, game.Validation("Invalid bet amount")
	}
	return d, nil
}

// Create opens a PENDING game with the caller as white and escrows their stake.
func (s *Service) Create(ctx context.Context, userID string, p CreateParams) (res *Result, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("create", started, errKind(err)) }()

	bet, err := parseBet(p.BetAmount)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	g, err := game.New(s.newID(), userID, game.Config{
		BaseTime:    p.BaseTime,
		Increment:   p.Increment,
		BetAmount:   bet,
		PlatformFee: s.fee,
		IsRated:     p.IsRated,
	}, now)
	if err != nil {
		return nil, err
	}

	err = store.InTx(ctx, s.store, func(tx store.Tx) error {
		e, err := wallet.Escrow(ctx, tx, userID, g.ID, bet, now)
		if err != nil {
			return err
		}
		if e != nil {
			g.WhiteBetRef = e.UUID
		}
		return tx.InsertGame(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("white", userID),
		zap.String("bet", g.BetAmount.StringFixed(2)),
		zap.Int("base_time", g.BaseTime),
		zap.Int("increment", g.Increment))
	return &Result{Game: g.Clone(), FEN: s.fen(g), Message: s.text("game.created", nil)}, nil
}

// Join seats userID as black, escrows their stake and starts the clocks.
func (s *Service) Join(ctx context.Context, gameID, userID string) (*Result, error) {
	return s.mutate(ctx, "join", gameID, func(c *call) error {
		if err := c.g.Join(userID, c.now); err != nil {
			return err
		}
		e, err := wallet.Escrow(c.ctx, c.tx, userID, c.g.ID, c.g.BetAmount, c.now)
		if errors.Is(err, wallet.ErrDuplicateStake) {
			return game.InvalidState("Stake already placed for this game")
		}
		if err != nil {
			return err
		}
		if e != nil {
			c.g.BlackBetRef = e.UUID
		}
		c.message = s.text("game.joined", nil)
		return nil
	})
}

// MoveParams carry one move. ClientTime is the optional client-side timestamp.
type MoveParams struct {
	Notation   string
	ClientTime *time.Time
}

// ClientTime converts an optional unix-seconds timestamp.
func ClientTime(unix *float64) *time.Time {
	if unix == nil || *unix <= 0 {
		return nil
	}
	sec := int64(*unix)
	nsec := int64((*unix - float64(sec)) * float64(time.Second))
	t := time.Unix(sec, nsec).UTC()
	return &t
}

// Move validates and applies a move for userID.
func (s *Service) Move(ctx context.Context, gameID, userID string, p MoveParams) (*Result, error) {
	return s.mutate(ctx, opMove, gameID, func(c *call) error {
		g := c.g
		if g.Status != game.StatusActive {
			return game.InvalidState("Game is not active")
		}
		pos, err := s.oracle.Replay(g.ID, g.Moves)
		if err != nil {
			return fmt.Errorf("replay game %s: %w", g.ID, err)
		}
		at := s.clock.Observe(g, p.ClientTime)
		// The flagged side's own late move loses through ChargeMove; anyone else ends the game here.
		if side, flagged := game.Flagged(g, at); flagged {
			if col, ok := g.ColorOf(userID); !ok || col != side {
				return s.expire(c, at)
			}
		}
		res, err := g.Move(pos, userID, p.Notation, at)
		if err != nil {
			return err
		}
		c.fen = res.Position.Fingerprint()
		if res.Ended {
			c.message = s.text("game.ended", map[string]any{"Outcome": g.Outcome.String(), "Termination": string(g.Termination)})
		} else {
			c.message = s.text("game.moved", map[string]any{"Move": res.Notation})
		}
		return nil
	})
}

// Resign concedes an ACTIVE game.
func (s *Service) Resign(ctx context.Context, gameID, userID string) (*Result, error) {
	return s.mutate(ctx, "resign", gameID, func(c *call) error {
		if err := c.g.Resign(userID, c.now); err != nil {
			return err
		}
		c.message = s.text("game.resigned", nil)
		return nil
	})
}

// Cancel ends a PENDING or ACTIVE game and refunds every funded stake.
func (s *Service) Cancel(ctx context.Context, gameID, userID string) (*Result, error) {
	return s.mutate(ctx, "cancel", gameID, func(c *call) error {
		if err := c.g.Cancel(userID, c.now); err != nil {
			return err
		}
		c.message = s.text("game.cancelled", nil)
		return nil
	})
}

func (s *Service) OfferDraw(ctx context.Context, gameID, userID string) (*Result, error) {
	return s.mutate(ctx, "offer_draw", gameID, func(c *call) error {
		if err := c.g.OfferDraw(userID); err != nil {
			return err
		}
		c.message = s.text("draw.offered", nil)
		c.notify(wagerdto.EventDrawOffered, wagerdto.DrawOffered{GameID: c.g.ID, OfferedBy: userID})
		return nil
	})
}

func (s *Service) AcceptDraw(ctx context.Context, gameID, userID string) (*Result, error) {
	return s.mutate(ctx, "accept_draw", gameID, func(c *call) error {
		if err := c.g.AcceptDraw(userID, c.now); err != nil {
			return err
		}
		c.message = s.text("draw.accepted", nil)
		return nil
	})
}

func (s *Service) DeclineDraw(ctx context.Context, gameID, userID string) (*Result, error) {
	return s.mutate(ctx, "decline_draw", gameID, func(c *call) error {
		if err := c.g.DeclineDraw(userID); err != nil {
			return err
		}
		c.message = s.text("draw.declined", nil)
		c.notify(wagerdto.EventDrawDeclined, wagerdto.DrawDeclined{GameID: c.g.ID, DeclinedBy: userID})
		return nil
	})
}

// ExpireTimedOut completes gameID when the side to move has run out of time.
// It reports false when the game is not flagged.
func (s *Service) ExpireTimedOut(ctx context.Context, gameID string) (bool, error) {
	// mutate expires a flagged game before fn runs, so fn only sees unflagged games.
	_, err := s.mutate(ctx, opTimeout, gameID, func(*call) error { return errNothingToDo })
	if errors.Is(err, errNothingToDo) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.metrics.Swept()
	return true, nil
}

// SweepTimeouts expires every ACTIVE game whose running clock has flagged.
// It returns the number of games ended.
func (s *Service) SweepTimeouts(ctx context.Context) (int, error) {
	ids, err := s.ActiveGameIDs(ctx)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ended, ctx.Err()
		}
		ok, err := s.ExpireTimedOut(ctx, id)
		if err != nil {
			obslog.L().Warn("sweep_game_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}
