// Package wallet implements stake escrow and game settlement over an append-only ledger.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateStake    = errors.New("stake already escrowed for this game")
)

// Ledger is the transactional view settlement writes through. Implementations must make
// Adjust atomic per user: concurrent games of the same user never lose an update.
type Ledger interface {
	// Adjust applies delta to the user's balance and returns the resulting balance.
	// It fails with ErrInsufficientFunds when the balance would become negative.
	Adjust(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	Append(ctx context.Context, e *Entry) error
	HasEntry(ctx context.Context, userID, gameID string, typ TxType) (bool, error)
}

func newEntry(userID, gameID string, amount, balance decimal.Decimal, typ TxType, note string, now time.Time) *Entry {
	return &Entry{
		UUID:         uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		Type:         typ,
		GameID:       gameID,
		BalanceAfter: balance,
		Status:       StatusSuccess,
		Note:         note,
		CreatedAt:    now.UTC(),
	}
}

// Escrow debits a player's stake for gameID and logs a BET entry. A zero stake is a no-op.
func Escrow(ctx context.Context, l Ledger, userID, gameID string, amount decimal.Decimal, now time.Time) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, nil
	}
	dup, err := l.HasEntry(ctx, userID, gameID, TxBet)
	if err != nil {
		return nil, fmt.Errorf("escrow lookup: %w", err)
	}
	if dup {
		return nil, ErrDuplicateStake
	}
	balance, err := l.Adjust(ctx, userID, amount.Neg())
	if errors.Is(err, ErrInsufficientFunds) {
		return nil, game.InsufficientFunds("Insufficient balance to fund bet")
	}
	if err != nil {
		return nil, fmt.Errorf("escrow debit: %w", err)
	}
	e := newEntry(userID, gameID, amount.Neg(), balance, TxBet, "Game bet deduction", now)
	if err := l.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("escrow entry: %w", err)
	}
	return e, nil
}

// PlatformCut is the fee retained on a decisive game: one stake times the fee fraction,
// rounded to cents (half away from zero).
func PlatformCut(bet, fee decimal.Decimal) decimal.Decimal {
	return bet.Mul(fee).Round(2)
}

// Payout is what the winner of a decisive game receives: the pot minus the platform cut.
func Payout(bet, fee decimal.Decimal) decimal.Decimal {
	return bet.Mul(decimal.NewFromInt(2)).Sub(PlatformCut(bet, fee))
}

// Settlement summarises the ledger effect of one settled game.
type Settlement struct {
	GameID  string
	Outcome game.Outcome
	Fee     decimal.Decimal
	Entries []*Entry
	Skipped bool
}

// Settler applies terminal outcomes to the ledger.
type Settler struct {
	// PlatformAccount receives PLATFORM_FEE credits; empty keeps the fee off-ledger.
	PlatformAccount string
}

// Settle performs the ledger mutation for a COMPLETED or CANCELLED game and consumes the
// game's settled marker. It must run inside the same transaction that persists g.
// A game that is already settled is left alone.
func (s Settler) Settle(ctx context.Context, l Ledger, g *game.Game, now time.Time) (*Settlement, error) {
	if g.Settled {
		obslog.L().Warn("settlement_skipped", zap.String("game_id", g.ID), zap.String("reason", "already_settled"))
		return &Settlement{GameID: g.ID, Outcome: g.Outcome, Skipped: true}, nil
	}
	if !g.Status.Terminal() {
		return nil, fmt.Errorf("settle game %s: status %s is not terminal", g.ID, g.Status)
	}
	g.Settled = true
	out := &Settlement{GameID: g.ID, Outcome: g.Outcome, Fee: decimal.Zero}
	bet := g.BetAmount
	if !bet.IsPositive() {
		return out, nil
	}

	switch g.Outcome {
	case game.OutcomeWhiteWin, game.OutcomeBlackWin:
		side, _ := g.Outcome.Winner()
		winner := g.PlayerID(side)
		fee := PlatformCut(bet, g.PlatformFee)
		payout := Payout(bet, g.PlatformFee)
		e, err := s.credit(ctx, l, winner, g.ID, payout, TxWinnings, fmt.Sprintf("%s wins, received winnings", side), now)
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, e)
		out.Fee = fee
		if fee.IsPositive() && s.PlatformAccount != "" {
			fe, err := s.credit(ctx, l, s.PlatformAccount, g.ID, fee, TxPlatformFee, "Platform fee", now)
			if err != nil {
				return nil, err
			}
			out.Entries = append(out.Entries, fe)
		}
	case game.OutcomeDraw:
		for _, uid := range []string{g.WhiteID, g.BlackID} {
			e, err := s.refund(ctx, l, uid, g.ID, bet, "Draw refund", now)
			if err != nil {
				return nil, err
			}
			if e != nil {
				out.Entries = append(out.Entries, e)
			}
		}
	case game.OutcomeCancelled:
		for _, uid := range []string{g.WhiteID, g.BlackID} {
			e, err := s.refund(ctx, l, uid, g.ID, bet, "Refund for cancelled match", now)
			if err != nil {
				return nil, err
			}
			if e != nil {
				out.Entries = append(out.Entries, e)
			}
		}
	case game.OutcomeIncomplete:
		return nil, fmt.Errorf("settle game %s: outcome incomplete", g.ID)
	default:
		return nil, fmt.Errorf("settle game %s: unknown outcome %d", g.ID, uint8(g.Outcome))
	}
	return out, nil
}

// refund returns a participant's own stake if, and only if, they funded one.
func (s Settler) refund(ctx context.Context, l Ledger, userID, gameID string, bet decimal.Decimal, note string, now time.Time) (*Entry, error) {
	if userID == "" {
		return nil, nil
	}
	funded, err := l.HasEntry(ctx, userID, gameID, TxBet)
	if err != nil {
		return nil, fmt.Errorf("refund lookup: %w", err)
	}
	if !funded {
		return nil, nil
	}
	return s.credit(ctx, l, userID, gameID, bet, TxRefund, note, now)
}

func (s Settler) credit(ctx context.Context, l Ledger, userID, gameID string, amount decimal.Decimal, typ TxType, note string, now time.Time) (*Entry, error) {
	balance, err := l.Adjust(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("credit %s %s: %w", typ, userID, err)
	}
	e := newEntry(userID, gameID, amount, balance, typ, note, now)
	if err := l.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", typ, err)
	}
	return e, nil
}
