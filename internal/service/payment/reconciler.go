// Package payment applies gateway callbacks to the local booking record.
package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/gateway"
	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/Domenick1991/stagebook/internal/obs"
	"github.com/Domenick1991/stagebook/internal/repository"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dedup remembers which (event id, payload) pairs were already handled.
type Dedup interface {
	ClaimEvent(ctx context.Context, eventID, checksum string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, eventID, checksum string) error
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

const refundedByGateway = "refunded at payment provider"

type Reconciler struct {
	bookings       repository.BookingRepository
	gateway        gateway.PaymentGateway
	verifier       gateway.WebhookVerifier
	parser         gateway.EventParser
	dedup          Dedup
	fanout         notify.Fanout
	log            logrus.FieldLogger
	tracer         trace.Tracer
	dedupWindow    time.Duration
	retries        int
	gatewayTimeout time.Duration
	now            func() time.Time
}

type Option func(*Reconciler)

func WithDedupWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		r.dedupWindow = d
	}
}

// WithRetries bounds how often a conflicting write is retried on a fresh read.
func WithRetries(n int) Option {
	return func(r *Reconciler) {
		r.retries = n
	}
}

func WithGatewayTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.gatewayTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(
	bookings repository.BookingRepository,
	gw gateway.PaymentGateway,
	verifier gateway.WebhookVerifier,
	parser gateway.EventParser,
	dedup Dedup,
	fanout notify.Fanout,
	log logrus.FieldLogger,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		bookings:       bookings,
		gateway:        gw,
		verifier:       verifier,
		parser:         parser,
		dedup:          dedup,
		fanout:         fanout,
		log:            log,
		tracer:         obs.Tracer(),
		dedupWindow:    72 * time.Hour,
		retries:        3,
		gatewayTimeout: 10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fanout == nil {
		r.fanout = notify.Nop{}
	}
	return r
}

// HandleWebhook verifies, deduplicates and applies one callback.
// A signature failure is a reconciliation error wrapping gateway.ErrInvalidSignature.
// Unparseable bodies are reconciliation errors too, but the sender must not retry them.
// Any other error is transient and the claim has been released.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (_ Outcome, err error) {
	ctx, span := r.tracer.Start(ctx, "payment.HandleWebhook")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domain.KindOf(err)))
		}
		span.End()
	}()

	if err := r.verifier.Verify(payload, headers); err != nil {
		r.log.WithError(err).Warn("webhook rejected")
		return "", domain.NewReconciliationError("invalid webhook signature", err)
	}

	ev, err := r.parser.Parse(payload)
	if errors.Is(err, gateway.ErrUnsupportedEvent) {
		r.log.WithError(err).Debug("webhook ignored")
		return OutcomeIgnored, nil
	}
	if err != nil {
		r.log.WithError(err).Warn("webhook could not be parsed")
		return "", domain.NewReconciliationError("malformed webhook payload", err)
	}
	span.SetAttributes(
		attribute.String("payment.event.id", ev.ID),
		attribute.String("payment.event.type", string(ev.Type)),
		attribute.String("payment.intent.id", ev.IntentID),
	)
	log := r.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type, "intent_id": ev.IntentID})

	claimed, err := r.dedup.ClaimEvent(ctx, ev.ID, ev.Checksum, r.dedupWindow)
	if err != nil {
		// every applied effect is guarded by the current state, so a replay is still safe
		log.WithError(err).Warn("dedup unavailable, applying without claim")
		claimed = true
	}
	if !claimed {
		log.Info("duplicate webhook")
		return OutcomeDuplicate, nil
	}

	outcome, err := r.apply(ctx, ev)
	if err != nil {
		if relErr := r.dedup.ReleaseEvent(context.WithoutCancel(ctx), ev.ID, ev.Checksum); relErr != nil {
			log.WithError(relErr).Warn("release dedup claim")
		}
		log.WithError(err).Error("webhook not applied")
		return "", err
	}
	log.WithField("outcome", outcome).Info("webhook handled")
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, ev *domain.PaymentEvent) (Outcome, error) {
	mutate, ok := r.mutatorFor(ev)
	if !ok {
		return OutcomeIgnored, nil
	}

	booking, err := r.bookings.GetByPaymentIntentID(ctx, ev.IntentID)
	if errors.Is(err, domain.ErrNotFound) {
		r.log.WithFields(logrus.Fields{"event_id": ev.ID, "intent_id": ev.IntentID}).Warn("no booking for payment intent")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		updated, err := r.bookings.ConditionalUpdate(ctx, booking.ID, booking.Status, mutate)
		switch {
		case errors.Is(err, repository.ErrNoChange):
			return OutcomeNoop, nil
		case err == nil:
			r.publish(ev.Type, updated)
			return OutcomeApplied, nil
		case errors.Is(err, domain.ErrConflict) && attempt < r.retries:
			if booking, err = r.bookings.GetByID(ctx, booking.ID); err != nil {
				return "", err
			}
		default:
			return "", err
		}
	}
}

// mutatorFor returns the guarded state change for ev. Every guard turns an
// out-of-order or repeated event into ErrNoChange.
func (r *Reconciler) mutatorFor(ev *domain.PaymentEvent) (repository.Mutator, bool) {
	sameIntent := func(b *domain.Booking) bool { return b.PaymentIntentID == ev.IntentID }

	switch ev.Type {
	case domain.PaymentEventSucceeded:
		return func(b *domain.Booking) (repository.Effects, error) {
			if !sameIntent(b) || b.PaymentStatus != domain.PaymentStatusPending {
				return repository.Effects{}, repository.ErrNoChange
			}
			b.PaymentStatus = domain.PaymentStatusPaid
			return repository.Effects{}, nil
		}, true
	case domain.PaymentEventFailed:
		return func(b *domain.Booking) (repository.Effects, error) {
			if !sameIntent(b) || b.PaymentStatus != domain.PaymentStatusPending {
				return repository.Effects{}, repository.ErrNoChange
			}
			b.PaymentStatus = domain.PaymentStatusFailed
			return repository.Effects{}, nil
		}, true
	case domain.PaymentEventRefundSucceeded:
		return func(b *domain.Booking) (repository.Effects, error) {
			if !sameIntent(b) || b.PaymentStatus != domain.PaymentStatusPaid {
				return repository.Effects{}, repository.ErrNoChange
			}
			b.MarkRefunded(domain.SystemActorID, refundedByGateway, r.now().UTC())
			return repository.Effects{}, nil
		}, true
	case domain.PaymentEventDisputeOpened:
		return func(b *domain.Booking) (repository.Effects, error) {
			if !sameIntent(b) || b.Status == domain.BookingStatusDisputed ||
				b.Status == domain.BookingStatusDeclined || b.Status == domain.BookingStatusCancelled {
				return repository.Effects{}, repository.ErrNoChange
			}
			b.Status = domain.BookingStatusDisputed
			return repository.Effects{}, nil
		}, true
	}
	return nil, false
}

func (r *Reconciler) publish(t domain.PaymentEventType, b *domain.Booking) {
	event := notify.EventBookingUpdated
	if t == domain.PaymentEventSucceeded {
		event = notify.EventPaymentSucceeded
	}
	snap := b.Snapshot()
	r.fanout.Publish(b.ClientID, event, snap)
	r.fanout.Publish(b.PerformerID, event, snap)
}

// SyncStaleIntents asks the gateway about intents that stayed pending longer
// than olderThan and applies definite answers. Lookup failures change nothing.
func (r *Reconciler) SyncStaleIntents(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.now().UTC().Add(-olderThan)
	stale, err := r.bookings.List(ctx, domain.BookingFilter{
		PaymentStatus: domain.PaymentStatusPending,
		WithIntent:    true,
		UpdatedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range stale {
		b := &stale[i]
		log := r.log.WithFields(logrus.Fields{"booking_id": b.ID, "intent_id": b.PaymentIntentID})

		gctx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
		intent, err := r.gateway.RetrieveIntent(gctx, b.PaymentIntentID)
		cancel()
		if err != nil {
			log.WithError(err).Warn("retrieve stale intent")
			continue
		}

		ev := &domain.PaymentEvent{ID: "sync:" + b.PaymentIntentID, IntentID: b.PaymentIntentID}
		switch intent.Status {
		case domain.IntentStatusSucceeded:
			ev.Type = domain.PaymentEventSucceeded
		case domain.IntentStatusFailed, domain.IntentStatusCancelled:
			ev.Type = domain.PaymentEventFailed
		default:
			continue
		}

		outcome, err := r.apply(ctx, ev)
		if err != nil {
			log.WithError(err).Error("apply stale intent")
			continue
		}
		if outcome == OutcomeApplied {
			applied++
			log.WithField("event_type", ev.Type).Info("stale intent reconciled")
		}
	}
	return applied, nil
}
