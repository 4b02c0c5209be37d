// Package realtime is the push-messaging surface: authenticated websocket sessions enrolled
// in per-game rooms, fed from the event bus.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-wager/internal/auth"
	"github.com/park285/chess-wager/internal/events"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/metrics"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/session"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	readLimit    = 16 * 1024
)

type Options struct {
	Sessions       *session.Service
	Verifier       auth.Verifier
	Bus            events.Bus
	Metrics        *metrics.Metrics
	OriginPatterns []string
	PingInterval   time.Duration
}

// Hub owns every live connection of this process and the room membership index.
type Hub struct {
	svc      *session.Service
	verifier auth.Verifier
	metrics  *metrics.Metrics
	origins  []string
	ping     time.Duration

	mu     sync.RWMutex
	conns  map[string]*conn
	byUser map[string]map[string]*conn
	rooms  map[string]map[string]*conn

	unsubscribe func()
	closing     chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewHub(o Options) *Hub {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	h := &Hub{
		svc:      o.Sessions,
		verifier: o.Verifier,
		metrics:  o.Metrics,
		origins:  o.OriginPatterns,
		ping:     o.PingInterval,
		conns:    make(map[string]*conn),
		byUser:   make(map[string]map[string]*conn),
		rooms:    make(map[string]map[string]*conn),
		closing:  make(chan struct{}),
	}
	if o.Bus != nil {
		h.unsubscribe = o.Bus.Subscribe(h.deliver)
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(readLimit)

	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	userID, err := h.verifier.Verify(r.Context(), auth.Credentials{Token: token, UserID: r.Header.Get("X-User-ID")})
	if err != nil {
		obslog.L().Info("ws_rejected", zap.String("ip", r.RemoteAddr), zap.Error(err))
		_ = ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	c := newConn(h, ws, userID)
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.closing:
			c.close(websocket.StatusGoingAway, "server shutdown")
		case <-ctx.Done():
		}
	}()

	h.enrollActive(ctx, c)
	obslog.L().Info("ws_connect", zap.String("conn_id", c.id), zap.String("user_id", userID))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writeLoop(ctx, h.ping)
	}()
	c.readLoop(ctx)
	obslog.L().Info("ws_disconnect", zap.String("conn_id", c.id), zap.String("user_id", userID))
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[string]*conn)
	}
	h.byUser[c.userID][c.id] = c
	h.mu.Unlock()
	h.metrics.SessionDelta(1)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if m := h.byUser[c.userID]; m != nil {
		delete(m, c.id)
		if len(m) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	for gameID := range c.rooms() {
		if room := h.rooms[gameID]; room != nil {
			delete(room, c.id)
			if len(room) == 0 {
				delete(h.rooms, gameID)
			}
		}
	}
	h.mu.Unlock()
	c.close(websocket.StatusNormalClosure, "")
	h.metrics.SessionDelta(-1)
}

// join adds c to gameID's room. Caller holds h.mu.
func (h *Hub) join(gameID string, c *conn) {
	room := h.rooms[gameID]
	if room == nil {
		room = make(map[string]*conn)
		h.rooms[gameID] = room
	}
	room[c.id] = c
	c.enter(gameID)
}

func (h *Hub) enrollActive(ctx context.Context, c *conn) {
	var ids []string
	p := session.Page{Page: 1, PerPage: store.MaxPageSize}
	for {
		page, err := h.svc.ListMine(ctx, c.userID, p)
		if err != nil {
			obslog.L().Warn("ws_enroll_failed", zap.String("user_id", c.userID), zap.Error(err))
			return
		}
		for _, g := range page.Games {
			if g.Status == game.StatusActive {
				ids = append(ids, g.ID)
			}
		}
		if len(page.Games) == 0 || p.Page*p.PerPage >= page.Total {
			break
		}
		p.Page++
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		h.join(id, c)
	}
}

// deliver fans a bus event out to the game's room, enrolling connected participants first.
func (h *Hub) deliver(e events.Event) {
	frame, err := json.Marshal(wagerdto.Frame{Type: e.Type, Data: e.Data})
	if err != nil {
		return
	}
	h.mu.Lock()
	for _, uid := range e.Participants {
		for _, c := range h.byUser[uid] {
			h.join(e.GameID, c)
		}
	}
	targets := make([]*conn, 0, len(h.rooms[e.GameID]))
	for _, c := range h.rooms[e.GameID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// Len reports live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every session and stops consuming the bus.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
		close(h.closing)
	})
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (h *Hub) handle(ctx context.Context, c *conn, f wagerdto.Frame) {
	started := time.Now()
	var err error
	switch f.Type {
	case wagerdto.EventPing:
		c.send(wagerdto.EventPong, struct{}{})
		return
	case wagerdto.EventMakeMove:
		var m wagerdto.MoveEvent
		if err = decode(f.Data, &m); err == nil {
			_, err = h.svc.Move(ctx, m.GameID, c.userID, session.MoveParams{
				Notation:   m.Move,
				ClientTime: session.ClientTime(m.MoveTime),
			})
		}
	case wagerdto.EventSpectate:
		err = h.spectate(ctx, c, f.Data)
	case wagerdto.EventResign, wagerdto.EventCancelGame, wagerdto.EventOfferDraw,
		wagerdto.EventAcceptDraw, wagerdto.EventDeclineDraw, wagerdto.EventJoinGame:
		var ref wagerdto.GameRef
		if err = decode(f.Data, &ref); err == nil {
			_, err = h.op(f.Type)(ctx, ref.GameID, c.userID)
		}
	default:
		err = game.Validation("Unknown event type")
	}
	if err != nil {
		c.sendError(err)
		if game.KindOf(err) == game.KindInternal {
			obslog.L().Error("ws_event_failed", zap.String("type", f.Type), zap.String("user_id", c.userID), zap.Error(err))
		}
		return
	}
	obslog.L().Debug("ws_event", zap.String("type", f.Type), zap.String("user_id", c.userID), zap.Duration("latency", time.Since(started)))
}

func (h *Hub) op(typ string) func(context.Context, string, string) (*session.Result, error) {
	switch typ {
	case wagerdto.EventResign:
		return h.svc.Resign
	case wagerdto.EventCancelGame:
		return h.svc.Cancel
	case wagerdto.EventOfferDraw:
		return h.svc.OfferDraw
	case wagerdto.EventAcceptDraw:
		return h.svc.AcceptDraw
	case wagerdto.EventDeclineDraw:
		return h.svc.DeclineDraw
	default:
		return h.svc.Join
	}
}

func (h *Hub) spectate(ctx context.Context, c *conn, raw json.RawMessage) error {
	var ref wagerdto.GameRef
	if err := decode(raw, &ref); err != nil {
		return err
	}
	res, err := h.svc.Spectate(ctx, ref.GameID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.join(res.Game.ID, c)
	h.mu.Unlock()
	c.send(wagerdto.EventGameUpdate, wagerdto.GameUpdate{Game: h.svc.View(res.Game), FEN: res.FEN})
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return game.Validation("Missing event data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return game.Validation("Invalid event data")
	}
	return nil
}

func isClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
