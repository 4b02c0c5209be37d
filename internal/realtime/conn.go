package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type conn struct {
	id     string
	userID string
	hub    *Hub
	ws     *websocket.Conn
	out    chan []byte

	mu     sync.Mutex
	joined map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(h *Hub, ws *websocket.Conn, userID string) *conn {
	return &conn{
		id:     uuid.NewString(),
		userID: userID,
		hub:    h,
		ws:     ws,
		out:    make(chan []byte, sendBuffer),
		joined: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func (c *conn) enter(gameID string) {
	c.mu.Lock()
	c.joined[gameID] = struct{}{}
	c.mu.Unlock()
}

func (c *conn) rooms() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{}, len(c.joined))
	for k := range c.joined {
		out[k] = struct{}{}
	}
	return out
}

// enqueue never blocks the bus; a session that cannot keep up is dropped.
func (c *conn) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- frame:
	default:
		obslog.L().Warn("ws_slow_consumer", zap.String("conn_id", c.id), zap.String("user_id", c.userID))
		c.close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (c *conn) send(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(wagerdto.Frame{Type: typ, Data: data})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *conn) sendError(err error) {
	c.send(wagerdto.EventError, wagerdto.ErrorEvent{Message: game.MessageOf(err), Kind: game.KindOf(err).String()})
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		var f wagerdto.Frame
		if err := wsjson.Read(ctx, c.ws, &f); err != nil {
			if !isClosed(err) {
				obslog.L().Debug("ws_read_failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		c.hub.handle(ctx, c, f)
	}
}

func (c *conn) writeLoop(ctx context.Context, ping time.Duration) {
	t := time.NewTicker(ping)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
