package session

import (
	"time"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/park285/chess-wager/pkg/wagerdto"
)

// View converts g for the wire. Remaining times are live as of now.
func View(g *game.Game, now time.Time) wagerdto.Game {
	v := wagerdto.Game{
		ID:                 g.ID,
		WhitePlayerID:      g.WhiteID,
		Status:             g.Status.String(),
		Outcome:            g.Outcome.String(),
		Termination:        string(g.Termination),
		IsRated:            g.IsRated,
		Moves:              append([]string{}, g.Moves...),
		BaseTime:           g.BaseTime,
		Increment:          g.Increment,
		WhiteTimeRemaining: game.LiveRemaining(g, game.White, now),
		BetAmount:          g.BetAmount.StringFixed(2),
		BetLocked:          g.BetLocked,
		PlatformFee:        g.PlatformFee.String(),
		Settled:            g.Settled,
		CreatedAt:          g.CreatedAt,
		StartTime:          g.StartTime,
		LastMoveAt:         g.LastMoveAt,
		EndTime:            g.EndTime,
		Version:            g.Version,
	}
	if g.BlackID != "" {
		black := g.BlackID
		v.BlackPlayerID = &black
	}
	if g.BlackRemaining != nil {
		left := game.LiveRemaining(g, game.Black, now)
		v.BlackTimeRemaining = &left
	}
	if g.DrawOfferedBy != "" {
		by := g.DrawOfferedBy
		v.DrawOfferedBy = &by
	}
	return v
}

func (s *Service) View(g *game.Game) wagerdto.Game { return View(g, s.Now()) }

// Now is the service clock.
func (s *Service) Now() time.Time { return s.clock.Now().UTC() }

func Views(games []*game.Game, now time.Time) []wagerdto.Game {
	out := make([]wagerdto.Game, 0, len(games))
	for _, g := range games {
		out = append(out, View(g, now))
	}
	return out
}

func EntryView(e *wallet.Entry) wagerdto.Transaction {
	return wagerdto.Transaction{
		ID:            e.ID,
		UUID:          e.UUID,
		Amount:        e.Amount.StringFixed(2),
		Type:          e.Type.String(),
		GameID:        e.GameID,
		BalanceAfter:  e.BalanceAfter.StringFixed(2),
		Status:        e.Status.String(),
		PaymentMethod: e.PaymentMethod,
		ExternalRef:   e.ExternalRef,
		Receipt:       e.Receipt,
		Note:          e.Note,
		Timestamp:     e.CreatedAt,
	}
}
