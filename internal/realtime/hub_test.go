package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/chess-wager/internal/auth"
	"github.com/park285/chess-wager/internal/events"
	"github.com/park285/chess-wager/internal/game/gametest"
	"github.com/park285/chess-wager/internal/session"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const token = "svc"

type fixture struct {
	svc *session.Service
	hub *Hub
	url string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	for _, u := range []string{"alice", "bob", "carol"} {
		st.Seed(u, decimal.NewFromInt(100))
	}
	bus := events.NewLocalBus()
	svc, err := session.New(session.Options{
		Store:       st,
		Oracle:      gametest.NewOracle(),
		Bus:         bus,
		Settler:     wallet.Settler{},
		PlatformFee: decimal.RequireFromString("0.1"),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	hub := NewHub(Options{Sessions: svc, Verifier: auth.NewGatewayVerifier(token), Bus: bus})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
		srv.Close()
	})
	return &fixture{svc: svc, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	hdr.Set("X-User-ID", user)
	c, _, err := websocket.Dial(ctx, f.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func (f *fixture) waitConns(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d connections, want %d", f.hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, c *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, wagerdto.Frame{Type: typ, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// expect reads frames until one of type typ arrives.
func expect(t *testing.T, c *websocket.Conn, typ string) wagerdto.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var f wagerdto.Frame
		if err := wsjson.Read(ctx, c, &f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestHub_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, f.url+"?token=wrong", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	var fr wagerdto.Frame
	err = wsjson.Read(ctx, c, &fr)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("want policy violation close, got %v", err)
	}
}

func TestHub_JoinMoveAndEnd(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), "alice", session.CreateParams{BaseTime: 60, BetAmount: "10"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := res.Game.ID

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")
	f.waitConns(t, 2)

	send(t, bob, wagerdto.EventJoinGame, wagerdto.GameRef{GameID: id})
	var upd wagerdto.GameUpdate
	if err := json.Unmarshal(expect(t, alice, wagerdto.EventGameUpdate).Data, &upd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if upd.Game.Status != "ACTIVE" {
		t.Fatalf("creator saw %s", upd.Game.Status)
	}
	expect(t, bob, wagerdto.EventGameUpdate)

	// out of turn goes back to the sender only
	send(t, bob, wagerdto.EventMakeMove, wagerdto.MoveEvent{GameID: id, Move: "e5"})
	var e wagerdto.ErrorEvent
	if err := json.Unmarshal(expect(t, bob, wagerdto.EventError).Data, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Kind != "invalid_state" {
		t.Fatalf("error kind %q", e.Kind)
	}

	send(t, alice, wagerdto.EventMakeMove, wagerdto.MoveEvent{GameID: id, Move: "e4"})
	if err := json.Unmarshal(expect(t, bob, wagerdto.EventGameUpdate).Data, &upd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(upd.Game.Moves) != 1 || upd.FEN != "after:e4" {
		t.Fatalf("update %+v", upd)
	}

	send(t, alice, wagerdto.EventOfferDraw, wagerdto.GameRef{GameID: id})
	expect(t, bob, wagerdto.EventDrawOffered)
	send(t, bob, wagerdto.EventAcceptDraw, wagerdto.GameRef{GameID: id})
	var end wagerdto.GameEnd
	if err := json.Unmarshal(expect(t, alice, wagerdto.EventGameEnd).Data, &end); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if end.Outcome != "DRAW" || end.GameID != id {
		t.Fatalf("end %+v", end)
	}
}

func TestHub_SpectateAndPing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, "alice", session.CreateParams{BaseTime: 60})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := res.Game.ID

	carol := f.dial(t, "carol")
	f.waitConns(t, 1)
	send(t, carol, wagerdto.EventPing, struct{}{})
	expect(t, carol, wagerdto.EventPong)

	send(t, carol, wagerdto.EventSpectate, wagerdto.GameRef{GameID: id})
	var e wagerdto.ErrorEvent
	if err := json.Unmarshal(expect(t, carol, wagerdto.EventError).Data, &e); err != nil || e.Kind != "invalid_state" {
		t.Fatalf("spectating pending game: %+v %v", e, err)
	}

	if _, err := f.svc.Join(ctx, id, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	send(t, carol, wagerdto.EventSpectate, wagerdto.GameRef{GameID: id})
	expect(t, carol, wagerdto.EventGameUpdate)

	if _, err := f.svc.Move(ctx, id, "alice", session.MoveParams{Notation: "d4"}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	var upd wagerdto.GameUpdate
	if err := json.Unmarshal(expect(t, carol, wagerdto.EventGameUpdate).Data, &upd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(upd.Game.Moves) != 1 || upd.Game.Moves[0] != "d4" {
		t.Fatalf("spectator update %+v", upd.Game)
	}

	send(t, carol, "bogus", struct{}{})
	if err := json.Unmarshal(expect(t, carol, wagerdto.EventError).Data, &e); err != nil || e.Kind != "validation_error" {
		t.Fatalf("unknown event: %+v %v", e, err)
	}
}

func TestHub_EnrolsActiveGamesOnConnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, "alice", session.CreateParams{BaseTime: 60})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Join(ctx, res.Game.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	bob := f.dial(t, "bob")
	f.waitConns(t, 1)
	// enrolment happens before the read loop starts; a ping round trip orders it
	send(t, bob, wagerdto.EventPing, struct{}{})
	expect(t, bob, wagerdto.EventPong)

	if _, err := f.svc.Resign(ctx, res.Game.ID, "alice"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	var end wagerdto.GameEnd
	if err := json.Unmarshal(expect(t, bob, wagerdto.EventGameEnd).Data, &end); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if end.Outcome != "BLACK_WIN" {
		t.Fatalf("end %+v", end)
	}
}

func TestHub_EnrolsBeyondFirstPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	want := store.MaxPageSize + 5
	for i := 0; i < want; i++ {
		res, err := f.svc.Create(ctx, "alice", session.CreateParams{BaseTime: 60})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if _, err := f.svc.Join(ctx, res.Game.ID, "bob"); err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
	}
	// a PENDING game is listed but has no room to enter
	if _, err := f.svc.Create(ctx, "bob", session.CreateParams{BaseTime: 60}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c := newConn(f.hub, nil, "bob")
	f.hub.enrollActive(ctx, c)
	if got := len(c.rooms()); got != want {
		t.Fatalf("enrolled in %d rooms, want %d", got, want)
	}
}
