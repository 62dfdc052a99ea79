package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Hub keeps in-process subscriptions per user. It backs the SSE endpoint.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    logrus.FieldLogger
	now    func() time.Time
}

type Subscription struct {
	UserID string
	C      <-chan Envelope

	ch   chan Envelope
	once sync.Once
}

func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
		now:    time.Now,
	}
}

// Subscribe registers a new channel for userID. Callers must Unsubscribe.
func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan Envelope, h.buffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.UserID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

func (h *Hub) Publish(userID, event string, payload any) {
	env := Envelope{Event: event, UserID: userID, Payload: payload, OccurredAt: h.now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- env:
		default:
			h.log.WithFields(logrus.Fields{"user_id": userID, "event": event}).Warn("subscriber buffer full, dropping event")
		}
	}
}

// Subscribers reports the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

var _ Fanout = (*Hub)(nil)
