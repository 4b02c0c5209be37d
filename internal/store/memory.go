package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store for development and tests. A transaction holds the
// store-wide lock from Begin until Commit or Rollback; its writes are staged and applied
// together on Commit.
type Memory struct {
	mu       sync.Mutex
	games    map[string]*game.Game
	balances map[string]decimal.Decimal
	entries  []*wallet.Entry
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{
		games:    make(map[string]*game.Game),
		balances: make(map[string]decimal.Decimal),
	}
}

// Seed sets a wallet balance directly.
func (m *Memory) Seed(userID string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	return &memTx{
		m:        m,
		games:    make(map[string]*game.Game),
		balances: make(map[string]decimal.Decimal),
		updates:  make(map[int64]*wallet.Entry),
	}, nil
}

func (m *Memory) Game(_ context.Context, id string) (*game.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (m *Memory) Games(_ context.Context, f Filter) ([]*game.Game, int, error) {
	f = f.normalized()
	m.mu.Lock()
	matched := make([]*game.Game, 0)
	for _, g := range m.games {
		if f.matches(g) {
			matched = append(matched, g.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return []*game.Game{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return matched[f.Offset:end], total, nil
}

func (m *Memory) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) Entries(_ context.Context, userID string, limit, offset int) ([]*wallet.Entry, int, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []*wallet.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			mine = append(mine, &cp)
		}
	}
	total := len(mine)
	if offset >= total {
		return []*wallet.Entry{}, total, nil
	}
	return mine[offset:min(offset+limit, total)], total, nil
}

type memTx struct {
	m        *Memory
	done     bool
	games    map[string]*game.Game
	balances map[string]decimal.Decimal
	appended []*wallet.Entry
	updates  map[int64]*wallet.Entry
}

var errTxDone = errors.New("store: transaction already finished")

func (t *memTx) GameForUpdate(_ context.Context, id string) (*game.Game, error) {
	if t.done {
		return nil, errTxDone
	}
	if g, ok := t.games[id]; ok {
		return g.Clone(), nil
	}
	g, ok := t.m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (t *memTx) InsertGame(_ context.Context, g *game.Game) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.m.games[g.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := t.games[g.ID]; ok {
		return ErrDuplicate
	}
	g.Version = 1
	t.games[g.ID] = g.Clone()
	return nil
}

func (t *memTx) UpdateGame(_ context.Context, g *game.Game) error {
	if t.done {
		return errTxDone
	}
	cur, ok := t.games[g.ID]
	if !ok {
		cur, ok = t.m.games[g.ID]
	}
	if !ok {
		return ErrNotFound
	}
	if cur.Version != g.Version {
		return ErrConflict
	}
	g.Version++
	t.games[g.ID] = g.Clone()
	return nil
}

func (t *memTx) balance(userID string) decimal.Decimal {
	if b, ok := t.balances[userID]; ok {
		return b
	}
	return t.m.balances[userID]
}

func (t *memTx) Adjust(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if t.done {
		return decimal.Zero, errTxDone
	}
	next := t.balance(userID).Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}
	t.balances[userID] = next
	return next, nil
}

func (t *memTx) Append(_ context.Context, e *wallet.Entry) error {
	if t.done {
		return errTxDone
	}
	if e.Type == wallet.TxBet {
		if dup, _ := t.HasEntry(context.Background(), e.UserID, e.GameID, wallet.TxBet); dup {
			return ErrDuplicate
		}
	}
	if e.ExternalRef != "" {
		if _, err := t.EntryByRef(context.Background(), e.ExternalRef); err == nil {
			return ErrDuplicate
		}
	}
	t.m.nextID++
	e.ID = t.m.nextID
	cp := *e
	t.appended = append(t.appended, &cp)
	return nil
}

func (t *memTx) HasEntry(_ context.Context, userID, gameID string, typ wallet.TxType) (bool, error) {
	match := func(e *wallet.Entry) bool {
		return e.UserID == userID && e.GameID == gameID && e.Type == typ
	}
	for _, e := range t.m.entries {
		if match(e) {
			return true, nil
		}
	}
	for _, e := range t.appended {
		if match(e) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) EntryByRef(_ context.Context, ref string) (*wallet.Entry, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	for _, e := range t.appended {
		if e.ExternalRef == ref {
			cp := *e
			return &cp, nil
		}
	}
	for _, e := range t.m.entries {
		if e.ExternalRef == ref {
			if u, ok := t.updates[e.ID]; ok {
				cp := *u
				return &cp, nil
			}
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateEntry(_ context.Context, e *wallet.Entry) error {
	if t.done {
		return errTxDone
	}
	for i, staged := range t.appended {
		if staged.ID == e.ID {
			cp := *e
			t.appended[i] = &cp
			return nil
		}
	}
	for _, cur := range t.m.entries {
		if cur.ID == e.ID {
			cp := *e
			t.updates[e.ID] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	defer t.m.mu.Unlock()
	for id, g := range t.games {
		t.m.games[id] = g
	}
	for u, b := range t.balances {
		t.m.balances[u] = b
	}
	for i, cur := range t.m.entries {
		if u, ok := t.updates[cur.ID]; ok {
			t.m.entries[i] = u
		}
	}
	t.m.entries = append(t.m.entries, t.appended...)
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.m.mu.Unlock()
	return nil
}
