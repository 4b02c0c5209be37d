package game

import "time"

// DefaultClockTolerance bounds how far a client-reported move time may deviate from
// the server's observation.
const DefaultClockTolerance = 2 * time.Second

// Clock samples the server time used for all clock accounting.
type Clock struct {
	Now       func() time.Time
	Tolerance time.Duration
}

// NewClock returns a wall clock with the given tolerance (<=0 uses the default).
func NewClock(tolerance time.Duration) Clock {
	if tolerance <= 0 {
		tolerance = DefaultClockTolerance
	}
	return Clock{Now: time.Now, Tolerance: tolerance}
}

func (c Clock) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// Observe returns the instant charged for a move. The server clock is authoritative;
// a client timestamp only shifts it within ±Tolerance, and never before the previous
// move of the game.
func (c Clock) Observe(g *Game, client *time.Time) time.Time {
	now := c.now()
	at := now
	if client != nil && !client.IsZero() {
		tol := c.Tolerance
		if tol < 0 {
			tol = 0
		}
		at = client.UTC()
		if lo := now.Add(-tol); at.Before(lo) {
			at = lo
		}
		if hi := now.Add(tol); at.After(hi) {
			at = hi
		}
	}
	if g != nil && g.LastMoveAt != nil && at.Before(*g.LastMoveAt) {
		at = *g.LastMoveAt
	}
	return at
}

// ChargeMove bills the mover for the time since the previous move and adds the increment.
// The first move of a game establishes the start instant and costs nothing.
// It reports true when the mover's clock was exhausted; the increment is not credited then.
func ChargeMove(g *Game, mover Color, at time.Time) (exhausted bool) {
	if g.LastMoveAt == nil {
		g.StartTime = at
		g.setRemaining(mover, g.remaining(mover)+float64(g.Increment))
		t := at
		g.LastMoveAt = &t
		return false
	}
	elapsed := at.Sub(*g.LastMoveAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	left := g.remaining(mover) - elapsed
	t := at
	g.LastMoveAt = &t
	if left <= 0 {
		g.setRemaining(mover, 0)
		return true
	}
	g.setRemaining(mover, left+float64(g.Increment))
	return false
}

// LiveRemaining returns side c's remaining time as of now, counting the running clock
// of the side to move. Never negative.
func LiveRemaining(g *Game, c Color, now time.Time) float64 {
	left := g.remaining(c)
	if g.Status != StatusActive || g.LastMoveAt == nil || g.SideToMove() != c {
		return left
	}
	left -= now.Sub(*g.LastMoveAt).Seconds()
	if left < 0 {
		return 0
	}
	return left
}

// Flagged reports the side whose running clock has reached zero at now.
func Flagged(g *Game, now time.Time) (Color, bool) {
	if g.Status != StatusActive || g.LastMoveAt == nil {
		return 0, false
	}
	side := g.SideToMove()
	if LiveRemaining(g, side, now) <= 0 {
		return side, true
	}
	return 0, false
}
