package session

import (
	"context"
	"testing"
	"time"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/pkg/wagerdto"
)

// flaggedWithOffer returns an ACTIVE game where bob has a pending draw offer and alice,
// to move, has run out of time.
func flaggedWithOffer(t *testing.T, e *env) string {
	t.Helper()
	id := e.activeGame(t, "10")
	e.play(t, id, "e4")
	e.clock.Advance(time.Second)
	if _, err := e.svc.Move(context.Background(), id, "bob", MoveParams{Notation: "e5"}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := e.svc.OfferDraw(context.Background(), id, "bob"); err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}
	e.clock.Advance(120 * time.Second)
	return id
}

func TestFlaggedClock_EndsGameBeforeOtherActions(t *testing.T) {
	cases := []struct {
		name string
		act  func(s *Service, id string) (*Result, error)
	}{
		{"accept draw by flagged side", func(s *Service, id string) (*Result, error) {
			return s.AcceptDraw(context.Background(), id, "alice")
		}},
		{"cancel by flagged side", func(s *Service, id string) (*Result, error) {
			return s.Cancel(context.Background(), id, "alice")
		}},
		{"resign by winner", func(s *Service, id string) (*Result, error) {
			return s.Resign(context.Background(), id, "bob")
		}},
		{"decline draw", func(s *Service, id string) (*Result, error) {
			return s.DeclineDraw(context.Background(), id, "alice")
		}},
		{"out of turn move", func(s *Service, id string) (*Result, error) {
			return s.Move(context.Background(), id, "bob", MoveParams{Notation: "Nf6"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			id := flaggedWithOffer(t, e)

			res, err := tc.act(e.svc, id)
			if res != nil {
				t.Fatalf("expected no result, got %+v", res.Game)
			}
			wantKind(t, err, game.KindInvalidState)

			g, _ := e.st.Game(context.Background(), id)
			if g.Status != game.StatusCompleted || g.Outcome != game.OutcomeBlackWin || g.Termination != game.TermTimeout {
				t.Fatalf("want black win on time, got %s %s %s", g.Status, g.Outcome, g.Termination)
			}
			if !g.Settled || g.WhiteRemaining != 0 {
				t.Fatalf("settled=%v white remaining=%v", g.Settled, g.WhiteRemaining)
			}
			if got := e.balance(t, "bob"); got != "108.00" {
				t.Fatalf("bob = %s", got)
			}
			if got := e.balance(t, "alice"); got != "90.00" {
				t.Fatalf("alice = %s", got)
			}
			if e.rec.count(wagerdto.EventGameEnd) != 1 {
				t.Fatalf("game_end published %d times", e.rec.count(wagerdto.EventGameEnd))
			}

			again, err := e.svc.ExpireTimedOut(context.Background(), id)
			if err != nil || again {
				t.Fatalf("second expiry = %v, %v", again, err)
			}
		})
	}
}

func TestFlaggedClock_LateMoveLosesOnTime(t *testing.T) {
	e := newEnv(t)
	id := flaggedWithOffer(t, e)

	res, err := e.svc.Move(context.Background(), id, "alice", MoveParams{Notation: "Nf3"})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.Game.Outcome != game.OutcomeBlackWin || res.Game.Termination != game.TermTimeout {
		t.Fatalf("unexpected %s %s", res.Game.Outcome, res.Game.Termination)
	}
	if got := e.balance(t, "bob"); got != "108.00" {
		t.Fatalf("bob = %s", got)
	}
}

func TestUnflaggedClock_ActionsProceed(t *testing.T) {
	e := newEnv(t)
	id := e.activeGame(t, "10")
	e.play(t, id, "e4")
	e.clock.Advance(30 * time.Second)

	if _, err := e.svc.OfferDraw(context.Background(), id, "alice"); err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}
	res, err := e.svc.AcceptDraw(context.Background(), id, "bob")
	if err != nil {
		t.Fatalf("AcceptDraw: %v", err)
	}
	if res.Game.Outcome != game.OutcomeDraw {
		t.Fatalf("outcome = %s", res.Game.Outcome)
	}
}
