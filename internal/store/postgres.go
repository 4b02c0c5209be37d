package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres is the lib/pq backed Store.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema applies the bootstrap DDL. Every statement is idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

const gameColumns = `id, white_player_id, black_player_id, status, outcome, termination, is_rated,
	moves, base_time, increment, white_time_remaining, black_time_remaining, draw_offered_by,
	bet_amount, platform_fee, bet_locked, settled, white_bet_tx, black_bet_tx,
	created_at, start_time, last_move_at, end_time, version`

func (p *Postgres) Game(ctx context.Context, id string) (*game.Game, error) {
	return loadGame(ctx, p.db, `SELECT `+gameColumns+` FROM wager_games WHERE id = $1`, id)
}

func (p *Postgres) Games(ctx context.Context, f Filter) ([]*game.Game, int, error) {
	f = f.normalized()
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("(white_player_id = $%d OR black_player_id = $%d)", len(args), len(args)))
	}
	if len(f.Statuses) > 0 {
		names := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			names = append(names, s.String())
		}
		args = append(args, pq.Array(names))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Unjoined {
		where = append(where, "black_player_id = ''")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wager_games`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count games: %w", err)
	}

	q := `SELECT ` + gameColumns + ` FROM wager_games` + clause +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := p.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()
	games := make([]*game.Game, 0, f.Limit)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, 0, err
		}
		games = append(games, g)
	}
	return games, total, rows.Err()
}

func (p *Postgres) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var b decimal.Decimal
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("select balance: %w", err)
	}
	return b, nil
}

const entryColumns = `id, uuid, user_id, amount, transaction_type, game_id, balance_after, status,
	payment_method, external_ref, receipt, note, created_at`

func (p *Postgres) Entries(ctx context.Context, userID string, limit, offset int) ([]*wallet.Entry, int, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM wallet_transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()
	out := make([]*wallet.Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GameForUpdate(ctx context.Context, id string) (*game.Game, error) {
	return loadGame(ctx, t.tx, `SELECT `+gameColumns+` FROM wager_games WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) InsertGame(ctx context.Context, g *game.Game) error {
	moves, err := json.Marshal(movesOrEmpty(g.Moves))
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	g.Version = 1
	const q = `
		INSERT INTO wager_games (` + gameColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24)`
	_, err = t.tx.ExecContext(ctx, q,
		g.ID, g.WhiteID, g.BlackID, g.Status.String(), g.Outcome.String(), string(g.Termination), g.IsRated,
		string(moves), g.BaseTime, g.Increment, g.WhiteRemaining, nullFloat(g.BlackRemaining), g.DrawOfferedBy,
		g.BetAmount, g.PlatformFee, g.BetLocked, g.Settled, g.WhiteBetRef, g.BlackBetRef,
		g.CreatedAt, g.StartTime, nullTime(g.LastMoveAt), nullTime(g.EndTime), g.Version,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateGame(ctx context.Context, g *game.Game) error {
	moves, err := json.Marshal(movesOrEmpty(g.Moves))
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	const q = `
		UPDATE wager_games SET
			black_player_id = $2, status = $3, outcome = $4, termination = $5, moves = $6::jsonb,
			white_time_remaining = $7, black_time_remaining = $8, draw_offered_by = $9,
			bet_locked = $10, settled = $11, white_bet_tx = $12, black_bet_tx = $13,
			start_time = $14, last_move_at = $15, end_time = $16, version = version + 1
		WHERE id = $1 AND version = $17`
	res, err := t.tx.ExecContext(ctx, q,
		g.ID, g.BlackID, g.Status.String(), g.Outcome.String(), string(g.Termination), string(moves),
		g.WhiteRemaining, nullFloat(g.BlackRemaining), g.DrawOfferedBy,
		g.BetLocked, g.Settled, g.WhiteBetRef, g.BlackBetRef,
		g.StartTime, nullTime(g.LastMoveAt), nullTime(g.EndTime), g.Version,
	)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update game rows: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wager_games WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update game probe: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	g.Version++
	return nil
}

// Adjust upserts the wallet row and applies delta only when the result stays non-negative.
func (t *pgTx) Adjust(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance, updated_at) VALUES ($1, 0, now()) ON CONFLICT (user_id) DO NOTHING`,
		userID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure wallet: %w", err)
	}
	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE wallets SET balance = balance + $2, updated_at = now()
		WHERE user_id = $1 AND balance + $2 >= 0
		RETURNING balance`, userID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust wallet: %w", err)
	}
	return balance, nil
}

func (t *pgTx) Append(ctx context.Context, e *wallet.Entry) error {
	const q = `
		INSERT INTO wallet_transactions (
			uuid, user_id, amount, transaction_type, game_id, balance_after, status,
			payment_method, external_ref, receipt, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	err := t.tx.QueryRowContext(ctx, q,
		e.UUID, e.UserID, e.Amount, e.Type.String(), e.GameID, e.BalanceAfter, e.Status.String(),
		e.PaymentMethod, e.ExternalRef, e.Receipt, e.Note, e.CreatedAt,
	).Scan(&e.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (t *pgTx) HasEntry(ctx context.Context, userID, gameID string, typ wallet.TxType) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions
			WHERE user_id = $1 AND game_id = $2 AND transaction_type = $3
		)`, userID, gameID, typ.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("probe entry: %w", err)
	}
	return ok, nil
}

func (t *pgTx) EntryByRef(ctx context.Context, ref string) (*wallet.Entry, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM wallet_transactions WHERE external_ref = $1 FOR UPDATE`, ref)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (t *pgTx) UpdateEntry(ctx context.Context, e *wallet.Entry) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET status = $2, amount = $3, balance_after = $4, receipt = $5, note = $6
		WHERE id = $1`, e.ID, e.Status.String(), e.Amount, e.BalanceAfter, e.Receipt, e.Note)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) Commit() error { return t.tx.Commit() }

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func loadGame(ctx context.Context, q queryer, query, id string) (*game.Game, error) {
	g, err := scanGame(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func scanGame(s scanner) (*game.Game, error) {
	var (
		g                     game.Game
		status, outcome, term string
		moves                 []byte
		black                 sql.NullFloat64
		lastMove, end         sql.NullTime
	)
	err := s.Scan(
		&g.ID, &g.WhiteID, &g.BlackID, &status, &outcome, &term, &g.IsRated,
		&moves, &g.BaseTime, &g.Increment, &g.WhiteRemaining, &black, &g.DrawOfferedBy,
		&g.BetAmount, &g.PlatformFee, &g.BetLocked, &g.Settled, &g.WhiteBetRef, &g.BlackBetRef,
		&g.CreatedAt, &g.StartTime, &lastMove, &end, &g.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan game: %w", err)
	}
	if g.Status, err = game.ParseStatus(status); err != nil {
		return nil, err
	}
	if g.Outcome, err = game.ParseOutcome(outcome); err != nil {
		return nil, err
	}
	g.Termination = game.Termination(term)
	if err := json.Unmarshal(moves, &g.Moves); err != nil {
		return nil, fmt.Errorf("unmarshal moves: %w", err)
	}
	if black.Valid {
		v := black.Float64
		g.BlackRemaining = &v
	}
	if lastMove.Valid {
		v := lastMove.Time
		g.LastMoveAt = &v
	}
	if end.Valid {
		v := end.Time
		g.EndTime = &v
	}
	return &g, nil
}

func scanEntry(s scanner) (*wallet.Entry, error) {
	var (
		e           wallet.Entry
		typ, status string
	)
	err := s.Scan(&e.ID, &e.UUID, &e.UserID, &e.Amount, &typ, &e.GameID, &e.BalanceAfter, &status,
		&e.PaymentMethod, &e.ExternalRef, &e.Receipt, &e.Note, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	if e.Type, err = wallet.ParseTxType(typ); err != nil {
		return nil, err
	}
	if e.Status, err = wallet.ParseTxStatus(status); err != nil {
		return nil, err
	}
	return &e, nil
}

func movesOrEmpty(m []string) []string {
	if m == nil {
		return []string{}
	}
	return m
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
