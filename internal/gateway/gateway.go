// Package gateway talks to the external payment processor and authenticates its callbacks.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/Domenick1991/stagebook/internal/domain"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
)

const RefundStatusSucceeded = "succeeded"

type RefundResult struct {
	ID     string
	Status string
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount domain.Money, currency string, metadata map[string]string) (*domain.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	Refund(ctx context.Context, intentID string, amount domain.Money, reason string) (*RefundResult, error)
}

// WebhookVerifier authenticates a raw callback body against its headers.
type WebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// EventParser normalizes a verified callback body.
type EventParser interface {
	Parse(payload []byte) (*domain.PaymentEvent, error)
}
