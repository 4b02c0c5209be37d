// Package rules adapts corentings/chess to the game.Oracle contract.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/park285/chess-wager/internal/game"
)

var ErrUnreadableMove = errors.New("move notation not recognised")

const defaultCacheSize = 1024

type entry struct {
	moves []string
	game  *nchess.Game
}

// Oracle replays SAN move lists through corentings/chess. Replayed games are kept per key
// and extended incrementally on the next call, so an active game is not rebuilt from the
// initial position on every move.
type Oracle struct {
	cache *lru.Cache[string, *entry]
}

func NewOracle(cacheSize int) (*Oracle, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	c, err := lru.New[string, *entry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("rules cache: %w", err)
	}
	return &Oracle{cache: c}, nil
}

// Replay implements game.Oracle.
func (o *Oracle) Replay(key string, moves []string) (game.Position, error) {
	base, applied := o.lookup(key, moves)
	g := base
	if g == nil {
		g = nchess.NewGame()
	}
	for _, mv := range moves[applied:] {
		if err := g.PushNotationMove(mv, nchess.AlgebraicNotation{}, nil); err != nil {
			o.Forget(key)
			return nil, fmt.Errorf("replay %q at ply %d: %w", mv, applied+1, err)
		}
		applied++
	}
	if key != "" && o.cache != nil {
		o.cache.Add(key, &entry{moves: append([]string(nil), moves...), game: g})
	}
	return &position{g: g}, nil
}

// lookup returns a private copy of the cached game when its moves prefix the requested list.
func (o *Oracle) lookup(key string, moves []string) (*nchess.Game, int) {
	if key == "" || o.cache == nil {
		return nil, 0
	}
	e, ok := o.cache.Get(key)
	if !ok || len(e.moves) > len(moves) {
		return nil, 0
	}
	for i, mv := range e.moves {
		if moves[i] != mv {
			return nil, 0
		}
	}
	if len(e.moves) == len(moves) {
		return e.game, len(moves)
	}
	return e.game.Clone(), len(e.moves)
}

// Forget drops any cached replay for key.
func (o *Oracle) Forget(key string) {
	if key == "" || o.cache == nil {
		return
	}
	o.cache.Remove(key)
}

// Len reports the number of cached games.
func (o *Oracle) Len() int {
	if o.cache == nil {
		return 0
	}
	return o.cache.Len()
}

// position wraps a game that is never mutated after construction; Apply works on a clone.
type position struct {
	g *nchess.Game
}

func (p *position) Turn() game.Color { return colorFrom(p.g.Position().Turn()) }

func (p *position) Apply(notation string) (game.Position, string, error) {
	if p.g.Outcome() != nchess.NoOutcome {
		return nil, "", fmt.Errorf("game already decided: %s", p.g.Method())
	}
	next := p.g.Clone()
	pos := next.Position()
	mv, err := decode(pos, notation)
	if err != nil {
		return nil, "", err
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := next.Move(mv, nil); err != nil {
		return nil, "", fmt.Errorf("illegal move %q: %w", notation, err)
	}
	return &position{g: next}, san, nil
}

func (p *position) Terminal() game.Verdict {
	if p.g.Outcome() == nchess.NoOutcome {
		return game.VerdictNone
	}
	switch p.g.Method() {
	case nchess.Checkmate:
		return game.VerdictCheckmate
	case nchess.Stalemate:
		return game.VerdictStalemate
	case nchess.InsufficientMaterial:
		return game.VerdictInsufficientMaterial
	case nchess.SeventyFiveMoveRule:
		return game.VerdictSeventyFiveMove
	case nchess.FivefoldRepetition:
		return game.VerdictFivefoldRepetition
	default:
		// claimable draws (threefold, fifty-move) are not adjudicated automatically
		return game.VerdictNone
	}
}

func (p *position) Fingerprint() string { return p.g.FEN() }

// decode accepts UCI first (e2e4, e7e8q), then SAN (Nf3, exd5, O-O).
func decode(pos *nchess.Position, raw string) (*nchess.Move, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnreadableMove
	}
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil && mv != nil {
		return mv, nil
	}
	mv, err := (nchess.AlgebraicNotation{}).Decode(pos, raw)
	if err != nil || mv == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnreadableMove, raw)
	}
	return mv, nil
}

func colorFrom(c nchess.Color) game.Color {
	if c == nchess.White {
		return game.White
	}
	return game.Black
}
