// Package store persists games, wallets and ledger entries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: version conflict")
	ErrDuplicate = errors.New("store: duplicate")
)

// ErrInsufficientFunds is returned by Tx.Adjust when a debit would overdraw a wallet.
var ErrInsufficientFunds = wallet.ErrInsufficientFunds

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter selects games for listings. Results are ordered newest first.
type Filter struct {
	UserID   string
	Statuses []game.Status
	Unjoined bool
	Limit    int
	Offset   int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) matches(g *game.Game) bool {
	if f.UserID != "" && !g.IsParticipant(f.UserID) {
		return false
	}
	if f.Unjoined && g.BlackID != "" {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if g.Status == s {
			return true
		}
	}
	return false
}

// Store is the read side plus the transaction factory.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Game(ctx context.Context, id string) (*game.Game, error)
	Games(ctx context.Context, f Filter) ([]*game.Game, int, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Entries(ctx context.Context, userID string, limit, offset int) ([]*wallet.Entry, int, error)
	Close() error
}

// Tx is one unit of work. Writes become visible on Commit; Rollback after Commit is a no-op.
type Tx interface {
	wallet.Ledger

	// GameForUpdate loads a game and holds it until the transaction ends.
	GameForUpdate(ctx context.Context, id string) (*game.Game, error)
	InsertGame(ctx context.Context, g *game.Game) error
	// UpdateGame persists g if the stored version still equals g.Version, then bumps g.Version.
	UpdateGame(ctx context.Context, g *game.Game) error

	EntryByRef(ctx context.Context, ref string) (*wallet.Entry, error)
	// UpdateEntry rewrites the mutable fields of a deposit entry (status, amount, balance, receipt).
	UpdateEntry(ctx context.Context, e *wallet.Entry) error

	Commit() error
	Rollback() error
}

// InTx runs fn inside a transaction, committing on success.
func InTx(ctx context.Context, s Store, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
