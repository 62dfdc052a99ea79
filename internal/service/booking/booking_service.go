package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Domenick1991/stagebook/internal/authz"
	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/gateway"
	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/Domenick1991/stagebook/internal/obs"
	"github.com/Domenick1991/stagebook/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, actor domain.Actor, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	ListBookings(ctx context.Context, actor domain.Actor, filter domain.BookingFilter) ([]domain.Booking, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, id string, status domain.BookingStatus, reason string) (*domain.Booking, error)
	DeleteBooking(ctx context.Context, actor domain.Actor, id string) error
	CreatePaymentIntent(ctx context.Context, actor domain.Actor, id string) (*domain.PaymentIntent, error)
	RefundBooking(ctx context.Context, actor domain.Actor, id, reason string) (*domain.Booking, error)
	CompleteElapsed(ctx context.Context) (int, error)
}

type CreateBookingInput struct {
	PerformerID     string       `json:"performerId"`
	EventDate       string       `json:"eventDate"`
	StartTime       string       `json:"startTime"`
	EndTime         string       `json:"endTime"`
	Duration        float64      `json:"duration"`
	EventType       string       `json:"eventType"`
	Venue           string       `json:"venue"`
	Address         string       `json:"address"`
	GuestCount      int          `json:"guestCount"`
	SpecialRequests string       `json:"specialRequests"`
	Amount          domain.Money `json:"amount"`
}

func (in CreateBookingInput) details() (domain.EventDetails, error) {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"performerId", in.PerformerID},
		{"eventDate", in.EventDate},
		{"startTime", in.StartTime},
		{"endTime", in.EndTime},
		{"eventType", in.EventType},
		{"venue", in.Venue},
		{"address", in.Address},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return domain.EventDetails{}, domain.NewValidationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	date, err := time.Parse(domain.DateLayout, in.EventDate)
	if err != nil {
		return domain.EventDetails{}, domain.NewValidationError("eventDate must be YYYY-MM-DD")
	}
	if in.Duration <= 0 {
		return domain.EventDetails{}, domain.NewValidationError("duration must be positive")
	}
	if in.GuestCount <= 0 {
		return domain.EventDetails{}, domain.NewValidationError("guestCount must be positive")
	}
	if in.Amount <= 0 {
		return domain.EventDetails{}, domain.NewValidationError("amount must be positive")
	}
	if in.Amount > domain.MaxAmount {
		return domain.EventDetails{}, domain.NewValidationError("amount must not exceed %s", domain.MaxAmount)
	}
	return domain.EventDetails{
		EventDate:       date,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		DurationHours:   in.Duration,
		EventType:       in.EventType,
		Venue:           in.Venue,
		Address:         in.Address,
		GuestCount:      in.GuestCount,
		SpecialRequests: in.SpecialRequests,
	}, nil
}

type BookingService struct {
	bookings       repository.BookingRepository
	performers     repository.PerformerRepository
	gateway        gateway.PaymentGateway
	fanout         notify.Fanout
	log            logrus.FieldLogger
	tracer         trace.Tracer
	currency       string
	gatewayTimeout time.Duration
	refundRetries  int
	now            func() time.Time
	newID          func() string
}

type BookingServiceOption func(*BookingService)

func WithCurrency(currency string) BookingServiceOption {
	return func(s *BookingService) {
		s.currency = currency
	}
}

func WithGatewayTimeout(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.gatewayTimeout = d
	}
}

// WithRefundRetries bounds how often the local refund write is retried after the
// gateway already moved the money.
func WithRefundRetries(n int) BookingServiceOption {
	return func(s *BookingService) {
		s.refundRetries = n
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	performers repository.PerformerRepository,
	gw gateway.PaymentGateway,
	fanout notify.Fanout,
	log logrus.FieldLogger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:       bookings,
		performers:     performers,
		gateway:        gw,
		fanout:         fanout,
		log:            log,
		tracer:         obs.Tracer(),
		currency:       "thb",
		gatewayTimeout: 10 * time.Second,
		refundRetries:  3,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.fanout == nil {
		service.fanout = notify.Nop{}
	}
	return service
}

func (s *BookingService) CreateBooking(ctx context.Context, actor domain.Actor, input CreateBookingInput) (_ *domain.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateBooking", trace.WithAttributes(attribute.String("performer.id", input.PerformerID)))
	defer func() { endSpan(span, err) }()

	if err := authz.CanCreateBooking(actor); err != nil {
		return nil, err
	}
	details, err := input.details()
	if err != nil {
		return nil, err
	}

	performer, err := s.performers.GetByID(ctx, input.PerformerID)
	if err != nil {
		return nil, err
	}
	if performer.Status != domain.PerformerStatusApproved {
		return nil, domain.NewPreconditionError("performer %s is not accepting bookings", performer.ID)
	}

	booking := domain.NewBooking(s.newID(), actor.ID, performer.ID, details, input.Amount, s.currency, s.now().UTC())
	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"client_id":    booking.ClientID,
		"performer_id": booking.PerformerID,
		"total":        booking.TotalAmount.String(),
	}).Info("booking created")
	s.fanout.Publish(booking.PerformerID, notify.EventBookingCreated, booking.Snapshot())
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.CanView(actor, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) ListBookings(ctx context.Context, actor domain.Actor, filter domain.BookingFilter) ([]domain.Booking, error) {
	scoped, err := authz.ListScope(actor, filter)
	if err != nil {
		return nil, err
	}
	if scoped.Status != "" && !scoped.Status.Valid() {
		return nil, domain.NewValidationError("unknown status %q", scoped.Status)
	}
	if scoped.Limit <= 0 || scoped.Limit > 100 {
		scoped.Limit = 50
	}
	if scoped.Offset < 0 {
		scoped.Offset = 0
	}
	return s.bookings.List(ctx, scoped)
}

// UpdateStatus applies one edge of the lifecycle. Losing a race to a concurrent
// writer surfaces as a conflict and is not retried.
func (s *BookingService) UpdateStatus(ctx context.Context, actor domain.Actor, id string, status domain.BookingStatus, reason string) (_ *domain.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.UpdateStatus", trace.WithAttributes(
		attribute.String("booking.id", id),
		attribute.String("booking.status.requested", string(status)),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.CanTransition(actor, current, status); err != nil {
		return nil, err
	}

	updated, err := s.bookings.ConditionalUpdate(ctx, id, current.Status, s.transition(actor, status, reason))
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id": id,
		"from":       current.Status,
		"to":         updated.Status,
		"actor_id":   actor.ID,
		"actor_role": actor.Role,
	}).Info("booking status changed")
	s.notifyUpdate(actor, updated, notify.EventBookingUpdated)
	return updated, nil
}

func (s *BookingService) transition(actor domain.Actor, to domain.BookingStatus, reason string) repository.Mutator {
	now := s.now().UTC()
	return func(b *domain.Booking) (repository.Effects, error) {
		var effects repository.Effects
		b.Status = to
		switch to {
		case domain.BookingStatusAccepted:
			b.AcceptedAt = &now
		case domain.BookingStatusCompleted:
			if b.CompletedAt == nil {
				b.CompletedAt = &now
				effects.IncrementPerformerBookings = true
			}
		case domain.BookingStatusCancelled:
			if b.Cancellation == nil {
				b.Cancellation = &domain.Cancellation{By: actor.ID, At: now, Reason: strings.TrimSpace(reason)}
			}
		}
		return effects, nil
	}
}

func (s *BookingService) DeleteBooking(ctx context.Context, actor domain.Actor, id string) error {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authz.CanDelete(actor, booking); err != nil {
		return err
	}
	if booking.PaymentStatus == domain.PaymentStatusPaid {
		return domain.NewPreconditionError("a paid booking cannot be deleted, refund it first")
	}
	if err := s.bookings.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"booking_id": id, "actor_id": actor.ID}).Info("booking deleted")
	return nil
}

// CreatePaymentIntent returns a payable intent for an accepted booking. A still
// pending intent is reused; a failed or expired one is replaced.
func (s *BookingService) CreatePaymentIntent(ctx context.Context, actor domain.Actor, id string) (_ *domain.PaymentIntent, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreatePaymentIntent", trace.WithAttributes(attribute.String("booking.id", id)))
	defer func() { endSpan(span, err) }()

	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.CanCreateIntent(actor, booking); err != nil {
		return nil, err
	}
	if booking.Status != domain.BookingStatusAccepted {
		return nil, domain.NewPreconditionError("booking must be accepted before payment, it is %s", booking.Status)
	}
	if booking.PaymentStatus == domain.PaymentStatusPaid {
		return nil, domain.NewPreconditionError("booking is already paid")
	}

	previous := booking.PaymentIntentID
	if previous != "" {
		existing, err := s.retrieveIntent(ctx, previous)
		if err != nil {
			return nil, err
		}
		switch existing.Status {
		case domain.IntentStatusPending:
			return existing, nil
		case domain.IntentStatusSucceeded:
			return nil, domain.NewPreconditionError("payment was captured and is awaiting confirmation")
		}
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	intent, err := s.gateway.CreateIntent(gctx, booking.TotalAmount, booking.Currency, map[string]string{
		"booking_id": booking.ID,
		"client_id":  booking.ClientID,
	})
	cancel()
	if err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": id}).WithError(err).Warn("create payment intent failed")
		return nil, domain.NewGatewayError("create payment intent", err)
	}

	_, err = s.bookings.ConditionalUpdate(ctx, id, domain.BookingStatusAccepted, func(b *domain.Booking) (repository.Effects, error) {
		if b.PaymentStatus == domain.PaymentStatusPaid {
			return repository.Effects{}, domain.NewPreconditionError("booking is already paid")
		}
		if b.PaymentIntentID != previous {
			return repository.Effects{}, domain.NewConflictError("payment intent changed concurrently, please retry")
		}
		b.PaymentIntentID = intent.ID
		b.PaymentStatus = domain.PaymentStatusPending
		return repository.Effects{}, nil
	})
	if err != nil {
		// the new intent is never captured without a stored reference
		s.log.WithFields(logrus.Fields{"booking_id": id, "intent_id": intent.ID}).WithError(err).Warn("orphaned payment intent")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"booking_id": id, "intent_id": intent.ID, "replaced": previous}).Info("payment intent created")
	return intent, nil
}

func (s *BookingService) retrieveIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	intent, err := s.gateway.RetrieveIntent(gctx, intentID)
	if err != nil {
		return nil, domain.NewGatewayError("retrieve payment intent", err)
	}
	return intent, nil
}

// RefundBooking refunds the captured total at the gateway, then records it.
// Non-terminal bookings are cancelled; completed and cancelled ones keep their status.
func (s *BookingService) RefundBooking(ctx context.Context, actor domain.Actor, id, reason string) (_ *domain.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.RefundBooking", trace.WithAttributes(attribute.String("booking.id", id)))
	defer func() { endSpan(span, err) }()

	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.CanRefund(actor, current); err != nil {
		return nil, err
	}
	if current.PaymentStatus != domain.PaymentStatusPaid {
		return nil, domain.NewPreconditionError("only paid bookings can be refunded, payment is %s", current.PaymentStatus)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, err := s.gateway.Refund(gctx, current.PaymentIntentID, current.TotalAmount, reason)
	cancel()
	if err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": id}).WithError(err).Warn("refund failed")
		return nil, domain.NewGatewayError("refund", err)
	}

	now := s.now().UTC()
	mutate := func(b *domain.Booking) (repository.Effects, error) {
		if b.PaymentStatus == domain.PaymentStatusRefunded {
			return repository.Effects{}, repository.ErrNoChange
		}
		b.MarkRefunded(actor.ID, strings.TrimSpace(reason), now)
		return repository.Effects{}, nil
	}

	// The money already moved, so a stale read is re-fetched instead of surfaced.
	var updated *domain.Booking
	for attempt := 1; ; attempt++ {
		updated, err = s.bookings.ConditionalUpdate(ctx, id, current.Status, mutate)
		if errors.Is(err, repository.ErrNoChange) {
			return updated, nil
		}
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= s.refundRetries {
			s.log.WithFields(logrus.Fields{"booking_id": id, "refund_id": result.ID}).WithError(err).
				Error("refund succeeded at gateway but was not recorded")
			return nil, err
		}
		if current, err = s.bookings.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{"booking_id": id, "refund_id": result.ID, "status": updated.Status}).Info("booking refunded")
	s.notifyUpdate(actor, updated, notify.EventBookingUpdated)
	return updated, nil
}

// CompleteElapsed completes accepted bookings whose event date is in the past.
func (s *BookingService) CompleteElapsed(ctx context.Context) (int, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	due, err := s.bookings.List(ctx, domain.BookingFilter{Status: domain.BookingStatusAccepted, EventBefore: &today})
	if err != nil {
		return 0, err
	}

	system := domain.SystemActor()
	completed := 0
	for i := range due {
		b := &due[i]
		updated, err := s.bookings.ConditionalUpdate(ctx, b.ID, domain.BookingStatusAccepted, s.transition(system, domain.BookingStatusCompleted, ""))
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				s.log.WithField("booking_id", b.ID).WithError(err).Error("auto-complete failed")
			}
			continue
		}
		completed++
		s.notifyUpdate(system, updated, notify.EventBookingUpdated)
	}
	if completed > 0 {
		s.log.WithField("count", completed).Info("completed elapsed bookings")
	}
	return completed, nil
}

// notifyUpdate sends the snapshot to the other party, or to both parties when
// the platform acted.
func (s *BookingService) notifyUpdate(actor domain.Actor, b *domain.Booking, event string) {
	for _, userID := range Recipients(actor, b) {
		s.fanout.Publish(userID, event, b.Snapshot())
	}
}

// Recipients lists who hears about a change made by actor.
func Recipients(actor domain.Actor, b *domain.Booking) []string {
	switch {
	case actor.Role == domain.RoleClient && actor.ID == b.ClientID:
		return []string{b.PerformerID}
	case actor.Role == domain.RolePerformer && actor.ID == b.PerformerID:
		return []string{b.ClientID}
	default:
		return []string{b.ClientID, b.PerformerID}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
	}
	span.End()
}

var _ BookingUseCase = (*BookingService)(nil)
