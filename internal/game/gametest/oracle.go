// Package gametest provides deterministic collaborators for tests of the game core.
package gametest

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-wager/internal/game"
)

var ErrRejected = errors.New("gametest: move rejected")

// Oracle accepts any notation except those listed in Illegal and reports scripted
// verdicts once the move list reaches a given length.
type Oracle struct {
	mu       sync.Mutex
	Illegal  map[string]bool
	verdicts map[int]game.Verdict
	Replays  int
}

func NewOracle() *Oracle {
	return &Oracle{Illegal: map[string]bool{"invalid": true}, verdicts: map[int]game.Verdict{}}
}

// VerdictAt makes the position after ply moves terminal with v.
func (o *Oracle) VerdictAt(ply int, v game.Verdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts[ply] = v
}

func (o *Oracle) Replay(_ string, moves []string) (game.Position, error) {
	o.mu.Lock()
	o.Replays++
	o.mu.Unlock()
	for _, mv := range moves {
		if o.illegal(mv) {
			return nil, ErrRejected
		}
	}
	return &position{o: o, moves: append([]string(nil), moves...)}, nil
}

func (o *Oracle) illegal(mv string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Illegal[mv]
}

func (o *Oracle) verdict(ply int) game.Verdict {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.verdicts[ply]
}

type position struct {
	o     *Oracle
	moves []string
}

func (p *position) Turn() game.Color {
	if len(p.moves)%2 == 0 {
		return game.White
	}
	return game.Black
}

func (p *position) Apply(notation string) (game.Position, string, error) {
	notation = strings.TrimSpace(notation)
	if notation == "" || p.o.illegal(notation) || p.Terminal() != game.VerdictNone {
		return nil, "", ErrRejected
	}
	next := append(append([]string(nil), p.moves...), notation)
	return &position{o: p.o, moves: next}, notation, nil
}

func (p *position) Terminal() game.Verdict { return p.o.verdict(len(p.moves)) }

func (p *position) Fingerprint() string {
	if len(p.moves) == 0 {
		return "start"
	}
	return "after:" + strings.Join(p.moves, ",")
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start.UTC()} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
