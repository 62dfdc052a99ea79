package domain

import (
	"reflect"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusDeclined  BookingStatus = "declined"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusDisputed  BookingStatus = "disputed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusAccepted, BookingStatusDeclined,
		BookingStatusCancelled, BookingStatusCompleted, BookingStatusDisputed:
		return true
	}
	return false
}

// Terminal statuses are immutable apart from payment status changes.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusDeclined || s == BookingStatusCancelled || s == BookingStatusCompleted
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

// EventDetails is the client supplied schedule. Fields are presence-checked only.
type EventDetails struct {
	EventDate       time.Time
	StartTime       string
	EndTime         string
	DurationHours   float64
	EventType       string
	Venue           string
	Address         string
	GuestCount      int
	SpecialRequests string
}

// Cancellation groups the fields that must be set together.
type Cancellation struct {
	By     string
	At     time.Time
	Reason string
}

type Booking struct {
	ID          string
	ClientID    string
	PerformerID string
	EventDetails

	Amount      Money
	PlatformFee Money
	TotalAmount Money
	Currency    string

	Status          BookingStatus
	PaymentStatus   PaymentStatus
	PaymentIntentID string

	Cancellation *Cancellation
	AcceptedAt   *time.Time
	CompletedAt  *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBooking builds a pending booking with derived money fields.
func NewBooking(id, clientID, performerID string, details EventDetails, amount Money, currency string, now time.Time) *Booking {
	fee := PlatformFee(amount)
	return &Booking{
		ID:            id,
		ClientID:      clientID,
		PerformerID:   performerID,
		EventDetails:  details,
		Amount:        amount,
		PlatformFee:   fee,
		TotalAmount:   amount + fee,
		Currency:      currency,
		Status:        BookingStatusPending,
		PaymentStatus: PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy so callers never share pointers with a store.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.Cancellation != nil {
		cc := *b.Cancellation
		c.Cancellation = &cc
	}
	if b.AcceptedAt != nil {
		t := *b.AcceptedAt
		c.AcceptedAt = &t
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IsParty reports whether userID is the client or the performer of the booking.
func (b *Booking) IsParty(userID string) bool {
	return userID != "" && (userID == b.ClientID || userID == b.PerformerID)
}

// MarkRefunded records returned money. Bookings that were still live are
// cancelled by "by"; terminal ones keep their status.
func (b *Booking) MarkRefunded(by, reason string, now time.Time) {
	b.PaymentStatus = PaymentStatusRefunded
	if b.Status.Terminal() {
		return
	}
	b.Status = BookingStatusCancelled
	if b.Cancellation == nil {
		b.Cancellation = &Cancellation{By: by, At: now, Reason: reason}
	}
}

// Validate checks the invariants that hold for every stored booking.
func (b *Booking) Validate() error {
	if b.ID == "" || b.ClientID == "" || b.PerformerID == "" {
		return NewValidationError("booking parties are required")
	}
	if b.Amount <= 0 {
		return NewValidationError("amount must be positive")
	}
	if b.Amount > MaxAmount {
		return NewValidationError("amount must not exceed %s", MaxAmount)
	}
	if b.PlatformFee != PlatformFee(b.Amount) {
		return NewValidationError("platform fee does not match amount")
	}
	if b.TotalAmount != b.Amount+b.PlatformFee {
		return NewValidationError("total amount must equal amount plus platform fee")
	}
	if !b.Status.Valid() {
		return NewValidationError("unknown booking status %q", b.Status)
	}
	if !b.PaymentStatus.Valid() {
		return NewValidationError("unknown payment status %q", b.PaymentStatus)
	}
	if b.Status == BookingStatusCancelled && b.Cancellation == nil {
		return NewValidationError("cancelled booking must carry cancellation details")
	}
	if b.Cancellation != nil && (b.Cancellation.By == "" || b.Cancellation.At.IsZero()) {
		return NewValidationError("cancellation requires both actor and time")
	}
	if b.PaymentStatus == PaymentStatusPaid && b.PaymentIntentID == "" {
		return NewValidationError("paid booking must reference a payment intent")
	}
	return nil
}

// CheckUpdate validates a mutation of before into after.
func CheckUpdate(before, after *Booking) error {
	if err := after.Validate(); err != nil {
		return err
	}
	if after.ID != before.ID || after.ClientID != before.ClientID || after.PerformerID != before.PerformerID {
		return NewConflictError("booking identity is immutable")
	}
	if after.Amount != before.Amount || after.Currency != before.Currency {
		return NewConflictError("booking amount is immutable")
	}
	if before.AcceptedAt != nil && (after.AcceptedAt == nil || !after.AcceptedAt.Equal(*before.AcceptedAt)) {
		return NewConflictError("acceptedAt cannot change once set")
	}
	if before.CompletedAt != nil && (after.CompletedAt == nil || !after.CompletedAt.Equal(*before.CompletedAt)) {
		return NewConflictError("completedAt cannot change once set")
	}
	if before.Cancellation != nil && !reflect.DeepEqual(before.Cancellation, after.Cancellation) {
		return NewConflictError("cancellation details cannot change once set")
	}
	if before.PaymentIntentID != "" && after.PaymentIntentID != before.PaymentIntentID {
		if before.PaymentStatus != PaymentStatusPending && before.PaymentStatus != PaymentStatusFailed {
			return NewConflictError("payment intent cannot be replaced after capture")
		}
	}
	if before.Status.Terminal() {
		return checkTerminal(before, after)
	}
	return nil
}

// checkTerminal allows only payment status changes and the completed -> disputed path.
func checkTerminal(before, after *Booking) error {
	allowed := after.Status == before.Status ||
		(before.Status == BookingStatusCompleted && after.Status == BookingStatusDisputed)
	if !allowed {
		return NewConflictError("booking is %s and can no longer change status", before.Status)
	}

	rest := after.Clone()
	rest.Status = before.Status
	rest.PaymentStatus = before.PaymentStatus
	rest.Version = before.Version
	rest.UpdatedAt = before.UpdatedAt
	if !reflect.DeepEqual(rest, before.Clone()) {
		return NewConflictError("booking is %s and is read-only", before.Status)
	}
	return nil
}

// BookingFilter scopes List calls. Zero values mean "any".
type BookingFilter struct {
	ClientID      string
	PerformerID   string
	Status        BookingStatus
	EventType     string
	PaymentStatus PaymentStatus
	WithIntent    bool
	EventBefore   *time.Time
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

// Matches is used by the in-memory store to apply the same predicate the SQL store does.
func (f BookingFilter) Matches(b *Booking) bool {
	if f.ClientID != "" && b.ClientID != f.ClientID {
		return false
	}
	if f.PerformerID != "" && b.PerformerID != f.PerformerID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.EventType != "" && b.EventType != f.EventType {
		return false
	}
	if f.PaymentStatus != "" && b.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.WithIntent && b.PaymentIntentID == "" {
		return false
	}
	if f.EventBefore != nil && !b.EventDate.Before(*f.EventBefore) {
		return false
	}
	if f.UpdatedBefore != nil && !b.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}
