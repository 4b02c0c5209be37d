// Package events carries game notifications from the session service to push connections.
package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is one notification for a game room. Participants lists users that should be
// enrolled in the room when they are connected but not yet subscribed (e.g. on join).
type Event struct {
	Type         string          `json:"type"`
	GameID       string          `json:"game_id"`
	Participants []string        `json:"participants,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// New marshals payload into an Event.
func New(typ, gameID string, participants []string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, GameID: gameID, Participants: participants, Data: raw}, nil
}

type Handler func(Event)

type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(h Handler) (unsubscribe func())
}

// LocalBus delivers synchronously to in-process subscribers.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, e Event) error {
	b.dispatch(e)
	return nil
}

func (b *LocalBus) dispatch(e Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}

func (b *LocalBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}
