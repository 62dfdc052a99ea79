package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/stagebook/internal/domain"
)

// ErrNoChange is returned by a Mutator to abandon an update without error.
// ConditionalUpdate then returns the current snapshot together with ErrNoChange.
var ErrNoChange = errors.New("no change")

// Effects are side writes applied in the same transaction as the booking update.
type Effects struct {
	IncrementPerformerBookings bool
}

// Mutator edits a private copy of the booking.
type Mutator func(b *domain.Booking) (Effects, error)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*domain.Booking, error)
	List(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error)
	// ConditionalUpdate is the only way to change a stored booking. It fails with a
	// conflict when the stored status is not expected at write time.
	ConditionalUpdate(ctx context.Context, id string, expected domain.BookingStatus, mutate Mutator) (*domain.Booking, error)
	// Delete refuses bookings that hold captured money.
	Delete(ctx context.Context, id string) error
}

type PerformerRepository interface {
	List(ctx context.Context) ([]domain.Performer, error)
	GetByID(ctx context.Context, id string) (*domain.Performer, error)
	UpdateStatus(ctx context.Context, id string, status domain.PerformerStatus) (*domain.Performer, error)
}

func staleStatus(id string, expected, actual domain.BookingStatus) error {
	return domain.NewConflictError("booking %s is %s, expected %s", id, actual, expected)
}

func bookingNotFound(id string) error {
	return domain.NewNotFoundError("booking %s not found", id)
}
