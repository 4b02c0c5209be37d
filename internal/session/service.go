// Package session runs game operations: each mutation takes the game's lock, loads the game
// in a store transaction, applies the state machine, settles on a terminal transition and
// commits before publishing events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-wager/internal/archive"
	"github.com/park285/chess-wager/internal/events"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/guard"
	"github.com/park285/chess-wager/internal/metrics"
	"github.com/park285/chess-wager/internal/msgcat"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxConflictRetries = 3

	opMove    = "move"
	opTimeout = "timeout"
)

var errNothingToDo = errors.New("session: nothing to do")

type Options struct {
	Store       store.Store
	Oracle      game.Oracle
	Locker      guard.Locker
	Bus         events.Bus
	Clock       game.Clock
	Settler     wallet.Settler
	PlatformFee decimal.Decimal

	Archiver archive.Archiver
	Metrics  *metrics.Metrics
	Messages *msgcat.Catalog
	NewID    func() string
}

type Service struct {
	store    store.Store
	oracle   game.Oracle
	locker   guard.Locker
	bus      events.Bus
	clock    game.Clock
	settler  wallet.Settler
	fee      decimal.Decimal
	archiver archive.Archiver
	metrics  *metrics.Metrics
	msgs     *msgcat.Catalog
	newID    func() string

	bg sync.WaitGroup
}

func New(o Options) (*Service, error) {
	if o.Store == nil || o.Oracle == nil {
		return nil, errors.New("session: store and oracle are required")
	}
	if o.Locker == nil {
		o.Locker = guard.NewRegistry()
	}
	if o.Bus == nil {
		o.Bus = events.NewLocalBus()
	}
	if o.Clock.Now == nil {
		o.Clock = game.NewClock(o.Clock.Tolerance)
	}
	if o.Messages == nil {
		o.Messages = msgcat.Default()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return &Service{
		store:    o.Store,
		oracle:   o.Oracle,
		locker:   o.Locker,
		bus:      o.Bus,
		clock:    o.Clock,
		settler:  o.Settler,
		fee:      o.PlatformFee,
		archiver: o.Archiver,
		metrics:  o.Metrics,
		msgs:     o.Messages,
		newID:    o.NewID,
	}, nil
}

// Result is what every mutation returns to the transports.
type Result struct {
	Game       *game.Game
	FEN        string
	Message    string
	Settlement *wallet.Settlement
}

type notice struct {
	typ     string
	payload any
}

// call is the state handed to one operation attempt.
type call struct {
	ctx     context.Context
	tx      store.Tx
	g       *game.Game
	now     time.Time
	message string
	fen     string
	notices []notice
	// expired is set when the side to move had already flagged; fn is skipped then.
	expired bool
}

func (c *call) notify(typ string, payload any) {
	c.notices = append(c.notices, notice{typ: typ, payload: payload})
}

// mutate serialises fn on gameID and commits its effect together with any settlement.
func (s *Service) mutate(ctx context.Context, op, gameID string, fn func(*call) error) (res *Result, err error) {
	started := time.Now()
	defer func() {
		if !errors.Is(err, errNothingToDo) {
			s.metrics.Observe(op, started, errKind(err))
		}
	}()

	release, err := s.locker.Acquire(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("lock game %s: %w", gameID, err)
	}
	defer release()

	for attempt := 1; ; attempt++ {
		c, err := s.attempt(ctx, op, gameID, fn)
		if errors.Is(err, store.ErrConflict) && attempt < maxConflictRetries {
			obslog.L().Warn("game_version_conflict", zap.String("op", op), zap.String("game_id", gameID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.expired {
			res := s.afterCommit(ctx, opTimeout, c)
			if op != opTimeout {
				return nil, game.InvalidState("Game is not active")
			}
			return res, nil
		}
		return s.afterCommit(ctx, op, c), nil
	}
}

func (s *Service) attempt(ctx context.Context, op, gameID string, fn func(*call) error) (*call, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	g, err := tx.GameForUpdate(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, game.NotFound("Game not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	c := &call{ctx: ctx, tx: tx, g: g, now: s.clock.Now().UTC()}
	// A move charges the clock itself with the observed move time.
	if op != opMove {
		if err := s.expire(c, c.now); err != nil {
			return nil, err
		}
	}
	if !c.expired {
		if err := fn(c); err != nil {
			return nil, err
		}
	}
	if err := s.settle(c); err != nil {
		return nil, err
	}
	if err := tx.UpdateGame(ctx, g); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// expire finishes the game as a time loss when the side to move has flagged at the given instant.
func (s *Service) expire(c *call, at time.Time) error {
	done, err := c.g.Timeout(at)
	if err != nil {
		return err
	}
	if done {
		c.expired = true
		c.message = s.text("game.timeout", nil)
	}
	return nil
}

// settle runs settlement inside the open transaction once the game is terminal.
func (s *Service) settle(c *call) error {
	if !c.g.Status.Terminal() || c.g.Settled {
		return nil
	}
	st, err := s.settler.Settle(c.ctx, c.tx, c.g, c.now)
	if err != nil {
		return fmt.Errorf("settle game %s: %w", c.g.ID, err)
	}
	c.notify("", st)
	return nil
}

func (s *Service) afterCommit(ctx context.Context, op string, c *call) *Result {
	g := c.g
	res := &Result{Game: g.Clone(), FEN: c.fen, Message: c.message}
	for _, n := range c.notices {
		if st, ok := n.payload.(*wallet.Settlement); ok && n.typ == "" {
			res.Settlement = st
			s.metrics.Settled(st.Outcome.String(), st.Fee.InexactFloat64())
			obslog.L().Info("settlement_applied",
				zap.String("game_id", g.ID),
				zap.String("outcome", st.Outcome.String()),
				zap.String("fee", st.Fee.StringFixed(2)),
				zap.Int("entries", len(st.Entries)))
		}
	}
	if res.FEN == "" {
		res.FEN = s.fen(g)
	}

	obslog.L().Info("game_"+op,
		zap.String("game_id", g.ID),
		zap.String("status", g.Status.String()),
		zap.Int("ply", len(g.Moves)),
		zap.Int64("version", g.Version))

	s.publishAll(ctx, g, res.FEN, c.notices)

	if g.Status.Terminal() {
		if f, ok := s.oracle.(interface{ Forget(string) }); ok {
			f.Forget(g.ID)
		}
		s.archive(g)
	}
	return res
}

func (s *Service) publishAll(ctx context.Context, g *game.Game, fen string, notices []notice) {
	now := s.clock.Now()
	parts := participants(g)
	s.publish(ctx, g.ID, parts, wagerdto.EventGameUpdate, wagerdto.GameUpdate{Game: View(g, now), FEN: fen})
	for _, n := range notices {
		if n.typ != "" {
			s.publish(ctx, g.ID, parts, n.typ, n.payload)
		}
	}
	switch g.Status {
	case game.StatusCompleted:
		s.publish(ctx, g.ID, parts, wagerdto.EventGameEnd, wagerdto.GameEnd{
			GameID:             g.ID,
			Outcome:            g.Outcome.String(),
			Termination:        string(g.Termination),
			WhiteTimeRemaining: g.WhiteRemaining,
			BlackTimeRemaining: g.BlackRemaining,
		})
	case game.StatusCancelled:
		s.publish(ctx, g.ID, parts, wagerdto.EventGameCancelled, wagerdto.GameRef{GameID: g.ID})
	}
}

func (s *Service) publish(ctx context.Context, gameID string, parts []string, typ string, payload any) {
	e, err := events.New(typ, gameID, parts, payload)
	if err == nil {
		err = s.bus.Publish(ctx, e)
	}
	if err != nil {
		obslog.L().Warn("event_publish_failed", zap.String("type", typ), zap.String("game_id", gameID), zap.Error(err))
	}
}

func (s *Service) archive(g *game.Game) {
	if s.archiver == nil || g.Status != game.StatusCompleted {
		return
	}
	snapshot := g.Clone()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.archiver.Archive(ctx, snapshot); err != nil {
			obslog.L().Warn("archive_failed", zap.String("game_id", snapshot.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until background uploads finish.
func (s *Service) Wait() { s.bg.Wait() }

func (s *Service) fen(g *game.Game) string {
	pos, err := s.oracle.Replay(g.ID, g.Moves)
	if err != nil {
		obslog.L().Warn("replay_failed", zap.String("game_id", g.ID), zap.Error(err))
		return ""
	}
	return pos.Fingerprint()
}

func (s *Service) text(key string, data any) string { return s.msgs.Text(key, data) }

func participants(g *game.Game) []string {
	out := []string{g.WhiteID}
	if g.BlackID != "" {
		out = append(out, g.BlackID)
	}
	return out
}

func errKind(err error) string {
	if err == nil {
		return ""
	}
	return game.KindOf(err).String()
}
