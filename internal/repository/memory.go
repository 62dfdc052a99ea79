package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/stagebook/internal/domain"
)

// MemoryPerformerRepository keeps performers in a map. It backs local runs and tests.
type MemoryPerformerRepository struct {
	mu         sync.Mutex
	performers map[string]*domain.Performer
}

func NewMemoryPerformerRepository(seed ...domain.Performer) *MemoryPerformerRepository {
	r := &MemoryPerformerRepository{performers: make(map[string]*domain.Performer, len(seed))}
	for i := range seed {
		p := seed[i]
		r.performers[p.ID] = &p
	}
	return r
}

func (r *MemoryPerformerRepository) List(_ context.Context) ([]domain.Performer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	performers := make([]domain.Performer, 0, len(r.performers))
	for _, p := range r.performers {
		performers = append(performers, *p)
	}
	sort.Slice(performers, func(i, j int) bool { return performers[i].DisplayName < performers[j].DisplayName })
	return performers, nil
}

func (r *MemoryPerformerRepository) GetByID(_ context.Context, id string) (*domain.Performer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.performers[id]
	if !ok {
		return nil, domain.NewNotFoundError("performer %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPerformerRepository) UpdateStatus(_ context.Context, id string, status domain.PerformerStatus) (*domain.Performer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.performers[id]
	if !ok {
		return nil, domain.NewNotFoundError("performer %s not found", id)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (r *MemoryPerformerRepository) increment(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.performers[id]
	if !ok {
		return domain.NewNotFoundError("performer %s not found", id)
	}
	p.TotalBookings++
	return nil
}

// MemoryBookingRepository serializes every write behind one mutex.
type MemoryBookingRepository struct {
	mu         sync.Mutex
	bookings   map[string]*domain.Booking
	byIntent   map[string]string
	performers *MemoryPerformerRepository
	now        func() time.Time
}

type MemoryOption func(*MemoryBookingRepository)

func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryBookingRepository) {
		r.now = now
	}
}

// NewMemoryBookingRepository applies performer effects to performers, which may be nil.
func NewMemoryBookingRepository(performers *MemoryPerformerRepository, opts ...MemoryOption) *MemoryBookingRepository {
	r := &MemoryBookingRepository{
		bookings:   make(map[string]*domain.Booking),
		byIntent:   make(map[string]string),
		performers: performers,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryBookingRepository) Create(_ context.Context, b *domain.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bookings[b.ID]; exists {
		return domain.NewConflictError("booking %s already exists", b.ID)
	}
	now := r.now().UTC()
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now
	r.bookings[b.ID] = b.Clone()
	if b.PaymentIntentID != "" {
		r.byIntent[b.PaymentIntentID] = b.ID
	}
	return nil
}

func (r *MemoryBookingRepository) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, bookingNotFound(id)
	}
	return b.Clone(), nil
}

func (r *MemoryBookingRepository) GetByPaymentIntentID(_ context.Context, intentID string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byIntent[intentID]
	if !ok {
		return nil, domain.NewNotFoundError("no booking for payment intent %s", intentID)
	}
	return r.bookings[id].Clone(), nil
}

func (r *MemoryBookingRepository) List(_ context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	r.mu.Lock()
	matched := make([]domain.Booking, 0)
	for _, b := range r.bookings {
		if f.Matches(b) {
			matched = append(matched, *b.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []domain.Booking{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (r *MemoryBookingRepository) ConditionalUpdate(_ context.Context, id string, expected domain.BookingStatus, mutate Mutator) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.bookings[id]
	if !ok {
		return nil, bookingNotFound(id)
	}
	if current.Status != expected {
		return nil, staleStatus(id, expected, current.Status)
	}

	next := current.Clone()
	effects, err := mutate(next)
	if errors.Is(err, ErrNoChange) {
		return current.Clone(), ErrNoChange
	}
	if err != nil {
		return nil, err
	}
	if err := domain.CheckUpdate(current, next); err != nil {
		return nil, err
	}
	if next.PaymentIntentID != "" && next.PaymentIntentID != current.PaymentIntentID {
		if owner, taken := r.byIntent[next.PaymentIntentID]; taken && owner != id {
			return nil, domain.NewConflictError("payment intent %s is already attached to another booking", next.PaymentIntentID)
		}
	}

	if effects.IncrementPerformerBookings && r.performers != nil {
		if err := r.performers.increment(current.PerformerID); err != nil {
			return nil, err
		}
	}

	next.Version = current.Version + 1
	next.UpdatedAt = r.now().UTC()
	if current.PaymentIntentID != next.PaymentIntentID {
		delete(r.byIntent, current.PaymentIntentID)
		if next.PaymentIntentID != "" {
			r.byIntent[next.PaymentIntentID] = id
		}
	}
	r.bookings[id] = next
	return next.Clone(), nil
}

func (r *MemoryBookingRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return bookingNotFound(id)
	}
	if b.PaymentStatus == domain.PaymentStatusPaid {
		return domain.NewPreconditionError("a paid booking cannot be deleted, refund it first")
	}
	delete(r.byIntent, b.PaymentIntentID)
	delete(r.bookings, id)
	return nil
}

var (
	_ BookingRepository   = (*MemoryBookingRepository)(nil)
	_ PerformerRepository = (*MemoryPerformerRepository)(nil)
)
