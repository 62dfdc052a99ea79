// Package notify delivers booking events to participants without blocking the caller.
package notify

import "time"

const (
	EventBookingCreated         = "booking-created"
	EventBookingUpdated         = "booking-updated"
	EventPaymentSucceeded       = "payment-succeeded"
	EventPerformerStatusUpdated = "performer-status-updated"
)

// Fanout is fire-and-forget. Implementations must never block on slow consumers.
type Fanout interface {
	Publish(userID, event string, payload any)
}

// Envelope is the broker message body and the SSE frame data.
type Envelope struct {
	Event      string    `json:"event"`
	UserID     string    `json:"userId"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Multi publishes to every fanout in order.
type Multi []Fanout

func (m Multi) Publish(userID, event string, payload any) {
	for _, f := range m {
		if f != nil {
			f.Publish(userID, event, payload)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(string, string, any) {}

var (
	_ Fanout = Multi(nil)
	_ Fanout = Nop{}
)
