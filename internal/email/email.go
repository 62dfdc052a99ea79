// Package email turns notification envelopes into participant emails. Delivery
// itself is an external collaborator; the sender records what would be sent.
package email

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/sirupsen/logrus"
)

var subjects = map[string]string{
	notify.EventBookingCreated:         "You have a new booking request",
	notify.EventBookingUpdated:         "Your booking was updated",
	notify.EventPaymentSucceeded:       "Payment received",
	notify.EventPerformerStatusUpdated: "Your performer profile status changed",
}

type Message struct {
	To      string
	Subject string
	Event   string
}

type Sender struct {
	log logrus.FieldLogger
}

func NewSender(log logrus.FieldLogger) *Sender {
	return &Sender{log: log}
}

// Decode parses a broker message body.
func Decode(body []byte) (notify.Envelope, error) {
	var env notify.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.UserID == "" || env.Event == "" {
		return env, fmt.Errorf("decode envelope: missing user or event")
	}
	return env, nil
}

// Compose returns false for events nobody gets mail about.
func Compose(env notify.Envelope) (Message, bool) {
	subject, ok := subjects[env.Event]
	if !ok {
		return Message{}, false
	}
	return Message{To: env.UserID, Subject: subject, Event: env.Event}, true
}

func (s *Sender) Send(ctx context.Context, env notify.Envelope) error {
	msg, ok := Compose(env)
	if !ok {
		s.log.WithField("event", env.Event).Debug("no email for event")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"event":   msg.Event,
	}).Info("send email")
	return nil
}
