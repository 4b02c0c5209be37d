package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newGame(t *testing.T, id, creator string, at time.Time) *game.Game {
	t.Helper()
	g, err := game.New(id, creator, game.Config{BaseTime: 60, BetAmount: decimal.NewFromInt(10), PlatformFee: decimal.RequireFromString("0.2")}, at)
	if err != nil {
		t.Fatalf("game.New: %v", err)
	}
	return g
}

func insert(t *testing.T, s Store, g *game.Game) {
	t.Helper()
	err := InTx(context.Background(), s, func(tx Tx) error { return tx.InsertGame(context.Background(), g) })
	if err != nil {
		t.Fatalf("insert %s: %v", g.ID, err)
	}
}

func TestMemory_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("alice", decimal.NewFromInt(50))

	tx, err := m.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.InsertGame(ctx, newGame(t, "g1", "alice", t0)); err != nil {
		t.Fatalf("InsertGame: %v", err)
	}
	if _, err := tx.Adjust(ctx, "alice", decimal.NewFromInt(-20)); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := m.Game(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled back game visible: %v", err)
	}
	if b, _ := m.Balance(ctx, "alice"); !b.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("rolled back debit visible: %s", b)
	}
}

func TestMemory_VersionConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	insert(t, m, newGame(t, "g1", "alice", t0))

	stale, _ := m.Game(ctx, "g1")
	err := InTx(ctx, m, func(tx Tx) error {
		g, err := tx.GameForUpdate(ctx, "g1")
		if err != nil {
			return err
		}
		if err := g.Join("bob", t0); err != nil {
			return err
		}
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	err = InTx(ctx, m, func(tx Tx) error { return tx.UpdateGame(ctx, stale) })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale write: want ErrConflict, got %v", err)
	}
	cur, _ := m.Game(ctx, "g1")
	if cur.Version != 2 || cur.BlackID != "bob" {
		t.Fatalf("unexpected stored game v%d black=%q", cur.Version, cur.BlackID)
	}
}

func TestMemory_AdjustNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	err := InTx(ctx, m, func(tx Tx) error {
		_, err := tx.Adjust(ctx, "nobody", decimal.NewFromInt(-1))
		return err
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
}

func TestMemory_OneBetPerGame(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("alice", decimal.NewFromInt(100))
	err := InTx(ctx, m, func(tx Tx) error {
		if _, err := wallet.Escrow(ctx, tx, "alice", "g1", decimal.NewFromInt(10), t0); err != nil {
			return err
		}
		return tx.Append(ctx, &wallet.Entry{UserID: "alice", GameID: "g1", Type: wallet.TxBet})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if b, _ := m.Balance(ctx, "alice"); !b.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("failed tx leaked: %s", b)
	}
}

func TestMemory_DepositRefLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	err := InTx(ctx, m, func(tx Tx) error {
		return tx.Append(ctx, &wallet.Entry{UserID: "alice", Type: wallet.TxDeposit, Status: wallet.StatusPending,
			Amount: decimal.NewFromInt(5), ExternalRef: "ws_CO_1"})
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	err = InTx(ctx, m, func(tx Tx) error {
		e, err := tx.EntryByRef(ctx, "ws_CO_1")
		if err != nil {
			return err
		}
		e.Status = wallet.StatusSuccess
		e.Receipt = "QKX1"
		return tx.UpdateEntry(ctx, e)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	entries, total, _ := m.Entries(ctx, "alice", 10, 0)
	if total != 1 || entries[0].Status != wallet.StatusSuccess || entries[0].Receipt != "QKX1" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestMemory_GamesFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := range 5 {
		insert(t, m, newGame(t, fmt.Sprintf("g%d", i), "alice", t0.Add(time.Duration(i)*time.Minute)))
	}
	insert(t, m, newGame(t, "other", "carol", t0))

	page, total, err := m.Games(ctx, Filter{UserID: "alice", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Games: %v", err)
	}
	if total != 5 || len(page) != 2 || page[0].ID != "g3" || page[1].ID != "g2" {
		t.Fatalf("unexpected page total=%d %v", total, ids(page))
	}

	open, _, _ := m.Games(ctx, Filter{Statuses: []game.Status{game.StatusPending}, Unjoined: true, Limit: 100})
	if len(open) != 6 {
		t.Fatalf("want 6 open games, got %d", len(open))
	}
	empty, total, _ := m.Games(ctx, Filter{UserID: "alice", Offset: 50})
	if len(empty) != 0 || total != 5 {
		t.Fatalf("offset past the end")
	}
}

func ids(gs []*game.Game) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.ID
	}
	return out
}
