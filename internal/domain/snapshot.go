package domain

import "time"

const DateLayout = "2006-01-02"

// BookingSnapshot is the wire form of a booking, shared by API responses and notifications.
type BookingSnapshot struct {
	ID                 string     `json:"id"`
	ClientID           string     `json:"clientId"`
	PerformerID        string     `json:"performerId"`
	EventDate          string     `json:"eventDate"`
	StartTime          string     `json:"startTime"`
	EndTime            string     `json:"endTime"`
	Duration           float64    `json:"duration"`
	EventType          string     `json:"eventType"`
	Venue              string     `json:"venue"`
	Address            string     `json:"address"`
	GuestCount         int        `json:"guestCount"`
	SpecialRequests    string     `json:"specialRequests,omitempty"`
	Amount             Money      `json:"amount"`
	PlatformFee        Money      `json:"platformFee"`
	TotalAmount        Money      `json:"totalAmount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	PaymentStatus      string     `json:"paymentStatus"`
	PaymentIntentID    string     `json:"paymentIntentId,omitempty"`
	CancelledBy        string     `json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	AcceptedAt         *time.Time `json:"acceptedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (b *Booking) Snapshot() BookingSnapshot {
	s := BookingSnapshot{
		ID:              b.ID,
		ClientID:        b.ClientID,
		PerformerID:     b.PerformerID,
		EventDate:       b.EventDate.Format(DateLayout),
		StartTime:       b.StartTime,
		EndTime:         b.EndTime,
		Duration:        b.DurationHours,
		EventType:       b.EventType,
		Venue:           b.Venue,
		Address:         b.Address,
		GuestCount:      b.GuestCount,
		SpecialRequests: b.SpecialRequests,
		Amount:          b.Amount,
		PlatformFee:     b.PlatformFee,
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
		Status:          string(b.Status),
		PaymentStatus:   string(b.PaymentStatus),
		PaymentIntentID: b.PaymentIntentID,
		AcceptedAt:      b.AcceptedAt,
		CompletedAt:     b.CompletedAt,
		Version:         b.Version,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if c := b.Cancellation; c != nil {
		at := c.At
		s.CancelledBy, s.CancelledAt, s.CancellationReason = c.By, &at, c.Reason
	}
	return s
}
