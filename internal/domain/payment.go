package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

type PaymentEventType string

const (
	PaymentEventSucceeded       PaymentEventType = "payment_succeeded"
	PaymentEventFailed          PaymentEventType = "payment_failed"
	PaymentEventRefundSucceeded PaymentEventType = "refund_succeeded"
	PaymentEventDisputeOpened   PaymentEventType = "dispute_opened"
)

// PaymentEvent is a verified, normalized gateway callback.
type PaymentEvent struct {
	ID       string
	Type     PaymentEventType
	IntentID string
	Checksum string
}

// PayloadChecksum is the dedup fingerprint of a raw webhook body.
func PayloadChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
	IntentStatusCancelled IntentStatus = "cancelled"
)

type PaymentIntent struct {
	ID           string       `json:"paymentIntentId"`
	ClientSecret string       `json:"clientSecret"`
	Status       IntentStatus `json:"-"`
}
