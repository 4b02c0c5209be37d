package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/chess-wager/internal/game"
	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	balances map[string]decimal.Decimal
	entries  []*Entry
}

func newFakeLedger(seed map[string]int64) *fakeLedger {
	l := &fakeLedger{balances: map[string]decimal.Decimal{}}
	for u, v := range seed {
		l.balances[u] = decimal.NewFromInt(v)
	}
	return l
}

func (l *fakeLedger) Adjust(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	next := l.balances[userID].Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}
	l.balances[userID] = next
	return next, nil
}

func (l *fakeLedger) Append(_ context.Context, e *Entry) error {
	l.entries = append(l.entries, e)
	return nil
}

func (l *fakeLedger) HasEntry(_ context.Context, userID, gameID string, typ TxType) (bool, error) {
	for _, e := range l.entries {
		if e.UserID == userID && e.GameID == gameID && e.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) balance(u string) decimal.Decimal { return l.balances[u] }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func wageredGame(t *testing.T, l *fakeLedger, bet string, join bool) *game.Game {
	t.Helper()
	g, err := game.New("g1", "A", game.Config{BaseTime: 300, BetAmount: dec(bet), PlatformFee: dec("0.2")}, now)
	if err != nil {
		t.Fatalf("game.New: %v", err)
	}
	if _, err := Escrow(context.Background(), l, "A", g.ID, g.BetAmount, now); err != nil {
		t.Fatalf("escrow A: %v", err)
	}
	if join {
		if err := g.Join("B", now); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, err := Escrow(context.Background(), l, "B", g.ID, g.BetAmount, now); err != nil {
			t.Fatalf("escrow B: %v", err)
		}
	}
	return g
}

func TestEscrow_DebitsOnceAndLogsBet(t *testing.T) {
	l := newFakeLedger(map[string]int64{"A": 500})
	e, err := Escrow(context.Background(), l, "A", "g1", dec("100"), now)
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}
	if e.Type != TxBet || !e.Amount.Equal(dec("-100")) || !e.BalanceAfter.Equal(dec("400")) {
		t.Fatalf("unexpected entry %+v", e)
	}
	if _, err := Escrow(context.Background(), l, "A", "g1", dec("100"), now); !errors.Is(err, ErrDuplicateStake) {
		t.Fatalf("double escrow: %v", err)
	}
	if !l.balance("A").Equal(dec("400")) {
		t.Fatalf("balance after duplicate attempt: %s", l.balance("A"))
	}
}

func TestEscrow_InsufficientFunds(t *testing.T) {
	l := newFakeLedger(map[string]int64{"A": 10})
	_, err := Escrow(context.Background(), l, "A", "g1", dec("100"), now)
	if !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("want InsufficientFunds, got %v", err)
	}
	if len(l.entries) != 0 || !l.balance("A").Equal(dec("10")) {
		t.Fatalf("failed escrow must not write")
	}
}

func TestSettle_Decisive(t *testing.T) {
	l := newFakeLedger(map[string]int64{"A": 1000, "B": 1000})
	g := wageredGame(t, l, "100", true)
	if err := g.Resign("B", now); err != nil {
		t.Fatalf("resign: %v", err)
	}
	s := Settler{PlatformAccount: "platform"}
	res, err := s.Settle(context.Background(), l, g, now)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// A: 1000 - 100 + 180
	if !l.balance("A").Equal(dec("1080")) {
		t.Fatalf("winner balance: %s", l.balance("A"))
	}
	if !l.balance("B").Equal(dec("900")) {
		t.Fatalf("loser balance: %s", l.balance("B"))
	}
	if !res.Fee.Equal(dec("20")) || !l.balance("platform").Equal(dec("20")) {
		t.Fatalf("platform fee: %s / %s", res.Fee, l.balance("platform"))
	}
	if !g.Settled {
		t.Fatalf("marker not consumed")
	}

	again, err := s.Settle(context.Background(), l, g, now)
	if err != nil || !again.Skipped {
		t.Fatalf("second settle must be a no-op: %v", err)
	}
	if !l.balance("A").Equal(dec("1080")) {
		t.Fatalf("second settle changed balance: %s", l.balance("A"))
	}
}

func TestSettle_FeeRounding(t *testing.T) {
	cases := []struct{ bet, fee, cut, payout string }{
		{"100", "0.2", "20", "180"},
		{"33.33", "0.15", "5", "61.66"},
		{"0.05", "0.1", "0.01", "0.09"},
		{"10", "0", "0", "20"},
		{"10", "1", "10", "10"},
	}
	for _, tc := range cases {
		if got := PlatformCut(dec(tc.bet), dec(tc.fee)); !got.Equal(dec(tc.cut)) {
			t.Fatalf("cut(%s,%s): want %s got %s", tc.bet, tc.fee, tc.cut, got)
		}
		if got := Payout(dec(tc.bet), dec(tc.fee)); !got.Equal(dec(tc.payout)) {
			t.Fatalf("payout(%s,%s): want %s got %s", tc.bet, tc.fee, tc.payout, got)
		}
	}
}

func TestSettle_DrawRefundsEachStake(t *testing.T) {
	l := newFakeLedger(map[string]int64{"A": 100, "B": 100})
	g := wageredGame(t, l, "100", true)
	_ = g.OfferDraw("A")
	if err := g.AcceptDraw("B", now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := (Settler{}).Settle(context.Background(), l, g, now); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !l.balance("A").Equal(dec("100")) || !l.balance("B").Equal(dec("100")) {
		t.Fatalf("draw must net to zero: A=%s B=%s", l.balance("A"), l.balance("B"))
	}
	refunds := 0
	for _, e := range l.entries {
		if e.Type == TxRefund {
			refunds++
		}
	}
	if refunds != 2 {
		t.Fatalf("want 2 refund entries, got %d", refunds)
	}
}

func TestSettle_CancelledPendingRefundsCreatorOnly(t *testing.T) {
	l := newFakeLedger(map[string]int64{"A": 50, "B": 70})
	g := wageredGame(t, l, "50", false)
	if !l.balance("A").IsZero() {
		t.Fatalf("creator not debited")
	}
	if err := g.Cancel("A", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res, err := (Settler{}).Settle(context.Background(), l, g, now)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(res.Entries) != 1 || !l.balance("A").Equal(dec("50")) || !l.balance("B").Equal(dec("70")) {
		t.Fatalf("unexpected refunds: entries=%d A=%s B=%s", len(res.Entries), l.balance("A"), l.balance("B"))
	}
}

func TestSettle_ZeroBetNoop(t *testing.T) {
	l := newFakeLedger(nil)
	g := wageredGame(t, l, "0", true)
	_ = g.Resign("A", now)
	res, err := (Settler{PlatformAccount: "platform"}).Settle(context.Background(), l, g, now)
	if err != nil || len(res.Entries) != 0 || len(l.entries) != 0 {
		t.Fatalf("zero bet settlement must not touch the ledger: %v", err)
	}
	if !g.Settled {
		t.Fatalf("marker must still be consumed")
	}
}

func TestSettle_RejectsOpenGame(t *testing.T) {
	l := newFakeLedger(map[string]int64{"A": 100, "B": 100})
	g := wageredGame(t, l, "10", true)
	if _, err := (Settler{}).Settle(context.Background(), l, g, now); err == nil {
		t.Fatalf("active game must not settle")
	}
	if g.Settled {
		t.Fatalf("marker consumed on failure")
	}
}
