package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/render"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
)

// maxPage keeps (Page-1)*PerPage far from int overflow.
const maxPage = 1 << 20

// Page is a 1-based page request.
type Page struct {
	Page    int
	PerPage int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > maxPage {
		p.Page = maxPage
	}
	if p.PerPage <= 0 {
		p.PerPage = store.DefaultPageSize
	}
	if p.PerPage > store.MaxPageSize {
		p.PerPage = store.MaxPageSize
	}
	return p
}

func (p Page) offset() int { return (p.Page - 1) * p.PerPage }

// GamePage is one page of a game listing.
type GamePage struct {
	Games []*game.Game
	Page  Page
	Total int
}

// EntryPage is one page of a user's ledger.
type EntryPage struct {
	Entries []*wallet.Entry
	Page    Page
	Total   int
}

func (s *Service) load(ctx context.Context, gameID string) (*game.Game, error) {
	g, err := s.store.Game(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, game.NotFound("Game not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	return g, nil
}

// Get returns a game to one of its participants.
func (s *Service) Get(ctx context.Context, gameID, userID string) (*Result, error) {
	g, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.IsParticipant(userID) {
		return nil, game.Unauthorized("You are not a player in this game")
	}
	return &Result{Game: g, FEN: s.fen(g), Message: s.text("game.fetched", nil)}, nil
}

// Spectate returns an ACTIVE game to any authenticated user.
func (s *Service) Spectate(ctx context.Context, gameID string) (*Result, error) {
	g, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != game.StatusActive {
		return nil, game.InvalidState("Game is not active")
	}
	return &Result{Game: g, FEN: s.fen(g), Message: s.text("game.spectating", nil)}, nil
}

// Board renders the current position as PNG. A black participant gets their own side
// at the bottom.
func (s *Service) Board(ctx context.Context, gameID, userID string) ([]byte, error) {
	g, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	c, participant := g.ColorOf(userID)
	png, err := render.Board(ctx, g.Moves, render.Options{BlackBottom: participant && c == game.Black})
	if err != nil {
		return nil, fmt.Errorf("render game %s: %w", g.ID, err)
	}
	return png, nil
}

func (s *Service) list(ctx context.Context, f store.Filter, p Page) (*GamePage, error) {
	p = p.Normalize()
	f.Limit = p.PerPage
	f.Offset = p.offset()
	games, total, err := s.store.Games(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return &GamePage{Games: games, Page: p, Total: total}, nil
}

// ListOpen returns PENDING games still waiting for an opponent.
func (s *Service) ListOpen(ctx context.Context, p Page) (*GamePage, error) {
	return s.list(ctx, store.Filter{Statuses: []game.Status{game.StatusPending}, Unjoined: true}, p)
}

// ListMine returns the caller's PENDING and ACTIVE games.
func (s *Service) ListMine(ctx context.Context, userID string, p Page) (*GamePage, error) {
	return s.list(ctx, store.Filter{UserID: userID, Statuses: []game.Status{game.StatusPending, game.StatusActive}}, p)
}

// History returns every game the caller took part in.
func (s *Service) History(ctx context.Context, userID string, p Page) (*GamePage, error) {
	return s.list(ctx, store.Filter{UserID: userID}, p)
}

// ActiveGameIDs lists every ACTIVE game.
func (s *Service) ActiveGameIDs(ctx context.Context) ([]string, error) {
	var ids []string
	f := store.Filter{Statuses: []game.Status{game.StatusActive}, Limit: store.MaxPageSize}
	for {
		games, total, err := s.store.Games(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list active games: %w", err)
		}
		for _, g := range games {
			ids = append(ids, g.ID)
		}
		f.Offset += len(games)
		if len(games) == 0 || f.Offset >= total {
			return ids, nil
		}
	}
}

func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	b, err := s.store.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", userID, err)
	}
	return b, nil
}

func (s *Service) Transactions(ctx context.Context, userID string, p Page) (*EntryPage, error) {
	p = p.Normalize()
	entries, total, err := s.store.Entries(ctx, userID, p.PerPage, p.offset())
	if err != nil {
		return nil, fmt.Errorf("transactions %s: %w", userID, err)
	}
	return &EntryPage{Entries: entries, Page: p, Total: total}, nil
}
