package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/stagebook/internal/cache"
	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/gateway"
	"github.com/Domenick1991/stagebook/internal/repository"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateIntent(ctx context.Context, amount domain.Money, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	args := m.Called(ctx, amount, currency, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentIntent), args.Error(1)
}

func (m *MockGateway) RetrieveIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentIntent), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, intentID string, amount domain.Money, reason string) (*gateway.RefundResult, error) {
	args := m.Called(ctx, intentID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RefundResult), args.Error(1)
}

type MockDedup struct {
	mock.Mock
}

func (m *MockDedup) ClaimEvent(ctx context.Context, eventID, checksum string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, eventID, checksum, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedup) ReleaseEvent(ctx context.Context, eventID, checksum string) error {
	args := m.Called(ctx, eventID, checksum)
	return args.Error(0)
}

type sentEvent struct {
	UserID string
	Event  string
}

type recordingFanout struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *recordingFanout) Publish(userID, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{UserID: userID, Event: event})
}

func (f *recordingFanout) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

// flakyBookings fails selected calls before delegating to the memory store.
type flakyBookings struct {
	*repository.MemoryBookingRepository
	lookupFailures   atomic.Int32
	conflictFailures atomic.Int32
}

func (f *flakyBookings) GetByPaymentIntentID(ctx context.Context, intentID string) (*domain.Booking, error) {
	if f.lookupFailures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return f.MemoryBookingRepository.GetByPaymentIntentID(ctx, intentID)
}

func (f *flakyBookings) ConditionalUpdate(ctx context.Context, id string, expected domain.BookingStatus, mutate repository.Mutator) (*domain.Booking, error) {
	if f.conflictFailures.Add(-1) >= 0 {
		return nil, domain.NewConflictError("booking %s changed concurrently", id)
	}
	return f.MemoryBookingRepository.ConditionalUpdate(ctx, id, expected, mutate)
}

var (
	testNow      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	webhookKey   = "c3RhZ2Vib29rLXdlYmhvb2stc2VjcmV0"
	eventDetails = domain.EventDetails{
		EventDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		StartTime: "18:00", EndTime: "21:00", DurationHours: 3,
		EventType: "wedding", Venue: "Hall", Address: "1 Main St", GuestCount: 80,
	}
)

type fixture struct {
	reconciler *Reconciler
	bookings   *flakyBookings
	gateway    *MockGateway
	signer     *gateway.SignatureVerifier
	fanout     *recordingFanout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	verifier, err := gateway.NewSignatureVerifier(webhookKey)
	require.NoError(t, err)

	store := &flakyBookings{MemoryBookingRepository: repository.NewMemoryBookingRepository(nil,
		repository.WithClock(func() time.Time { return testNow }))}
	gw := &MockGateway{}
	fanout := &recordingFanout{}
	logger, _ := test.NewNullLogger()

	r := NewReconciler(store, gw, verifier, gateway.OmiseEventParser{}, cache.NewMemoryDedup(), fanout, logger,
		WithClock(func() time.Time { return testNow.Add(time.Hour) }),
		WithGatewayTimeout(time.Second),
	)
	return &fixture{reconciler: r, bookings: store, gateway: gw, signer: verifier, fanout: fanout}
}

// seed stores an accepted booking that carries intentID.
func (f *fixture) seed(t *testing.T, id, intentID string, status domain.BookingStatus) *domain.Booking {
	t.Helper()
	ctx := context.Background()
	b := domain.NewBooking(id, "client-"+id, "performer-"+id, eventDetails, 20000, "thb", testNow)
	require.NoError(t, f.bookings.Create(ctx, b))

	b, err := f.bookings.ConditionalUpdate(ctx, id, domain.BookingStatusPending, func(b *domain.Booking) (repository.Effects, error) {
		at := testNow
		b.Status = domain.BookingStatusAccepted
		b.AcceptedAt = &at
		b.PaymentIntentID = intentID
		return repository.Effects{}, nil
	})
	require.NoError(t, err)
	if status == domain.BookingStatusAccepted {
		return b
	}

	b, err = f.bookings.ConditionalUpdate(ctx, id, domain.BookingStatusAccepted, func(b *domain.Booking) (repository.Effects, error) {
		b.Status = status
		if status == domain.BookingStatusCompleted {
			at := testNow
			b.CompletedAt = &at
		}
		if status == domain.BookingStatusCancelled {
			b.Cancellation = &domain.Cancellation{By: b.ClientID, At: testNow}
		}
		return repository.Effects{}, nil
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) setPaymentStatus(t *testing.T, id string, ps domain.PaymentStatus) {
	t.Helper()
	current, err := f.bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	_, err = f.bookings.ConditionalUpdate(context.Background(), id, current.Status, func(b *domain.Booking) (repository.Effects, error) {
		b.PaymentStatus = ps
		return repository.Effects{}, nil
	})
	require.NoError(t, err)
}

func (f *fixture) deliver(t *testing.T, body string) (Outcome, error) {
	t.Helper()
	return f.reconciler.HandleWebhook(context.Background(), []byte(body), f.signer.Sign([]byte(body), time.Now()))
}

func chargeComplete(eventID, chargeID, status string) string {
	return fmt.Sprintf(`{"object":"event","id":%q,"key":"charge.complete","data":{"object":"charge","id":%q,"status":%q}}`,
		eventID, chargeID, status)
}

func chargeRef(eventID, key, chargeID string) string {
	return fmt.Sprintf(`{"object":"event","id":%q,"key":%q,"data":{"id":"obj_%s","charge":%q}}`,
		eventID, key, eventID, chargeID)
}

func (f *fixture) get(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := f.bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

// ============================ Тесты для Reconciler ============================

// Тест 1: Успешная оплата помечает бронирование оплаченным
func TestReconciler_PaymentSucceeded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)

	outcome, err := f.deliver(t, chargeComplete("evnt_1", "chrg_1", "successful"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	b := f.get(t, "b1")
	assert.Equal(t, domain.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, domain.BookingStatusAccepted, b.Status)
	assert.ElementsMatch(t, []sentEvent{
		{UserID: "client-b1", Event: "payment-succeeded"},
		{UserID: "performer-b1", Event: "payment-succeeded"},
	}, f.fanout.events())
}

// Тест 2: Повторная доставка ничего не меняет
func TestReconciler_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)
	body := chargeComplete("evnt_1", "chrg_1", "successful")

	_, err := f.deliver(t, body)
	require.NoError(t, err)
	version := f.get(t, "b1").Version

	outcome, err := f.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, version, f.get(t, "b1").Version)
	assert.Len(t, f.fanout.events(), 2)
}

// Тест 3: Тот же id с другим телом проходит claim, но состояние уже не pending
func TestReconciler_SameIDDifferentPayloadIsGuarded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)

	_, err := f.deliver(t, chargeComplete("evnt_1", "chrg_1", "successful"))
	require.NoError(t, err)

	outcome, err := f.deliver(t, chargeComplete("evnt_1", "chrg_1", "failed"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, domain.PaymentStatusPaid, f.get(t, "b1").PaymentStatus)
}

// Тест 4: Неверная подпись отклоняется до любых изменений
func TestReconciler_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)
	body := []byte(chargeComplete("evnt_1", "chrg_1", "successful"))

	headers := f.signer.Sign([]byte(`{"id":"something-else"}`), time.Now())
	_, err := f.reconciler.HandleWebhook(context.Background(), body, headers)
	assert.ErrorIs(t, err, domain.ErrReconciliation)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	_, err = f.reconciler.HandleWebhook(context.Background(), body, http.Header{})
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	assert.Equal(t, domain.PaymentStatusPending, f.get(t, "b1").PaymentStatus)
	assert.Empty(t, f.fanout.events())

	// a rejected delivery must not burn the dedup claim
	outcome, err := f.deliver(t, string(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

// Тест 5: Нераспознанные и неполные события
func TestReconciler_UnparseableAndUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.deliver(t, `{"object":"event"`)
	assert.ErrorIs(t, err, domain.ErrReconciliation)
	assert.NotErrorIs(t, err, gateway.ErrInvalidSignature)

	outcome, err := f.deliver(t, chargeComplete("evnt_2", "chrg_1", "pending"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = f.deliver(t, `{"object":"event","id":"evnt_3","key":"customer.create","data":{}}`)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = f.deliver(t, chargeComplete("evnt_4", "chrg_unknown", "successful"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.fanout.events())
}

// Тест 6: Неудачная оплата после успешной игнорируется
func TestReconciler_FailedAfterPaid(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)

	outcome, err := f.deliver(t, chargeComplete("evnt_1", "chrg_1", "failed"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.PaymentStatusFailed, f.get(t, "b1").PaymentStatus)

	f2 := newFixture(t)
	f2.seed(t, "b2", "chrg_2", domain.BookingStatusAccepted)
	f2.setPaymentStatus(t, "b2", domain.PaymentStatusPaid)
	outcome, err = f2.deliver(t, chargeComplete("evnt_2", "chrg_2", "failed"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, domain.PaymentStatusPaid, f2.get(t, "b2").PaymentStatus)
}

// Тест 7: Возврат со стороны провайдера
func TestReconciler_RefundSucceeded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "live", "chrg_1", domain.BookingStatusAccepted)
	f.setPaymentStatus(t, "live", domain.PaymentStatusPaid)
	f.seed(t, "done", "chrg_2", domain.BookingStatusCompleted)
	f.setPaymentStatus(t, "done", domain.PaymentStatusPaid)

	_, err := f.deliver(t, chargeRef("evnt_1", "refund.create", "chrg_1"))
	require.NoError(t, err)
	live := f.get(t, "live")
	assert.Equal(t, domain.PaymentStatusRefunded, live.PaymentStatus)
	assert.Equal(t, domain.BookingStatusCancelled, live.Status)
	require.NotNil(t, live.Cancellation)
	assert.Equal(t, domain.SystemActorID, live.Cancellation.By)

	_, err = f.deliver(t, chargeRef("evnt_2", "refund.create", "chrg_2"))
	require.NoError(t, err)
	done := f.get(t, "done")
	assert.Equal(t, domain.PaymentStatusRefunded, done.PaymentStatus)
	assert.Equal(t, domain.BookingStatusCompleted, done.Status)
	assert.Nil(t, done.Cancellation)

	outcome, err := f.deliver(t, chargeRef("evnt_3", "refund.create", "chrg_2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
}

// Тест 8: Спор открывается для завершённых, но не для отменённых
func TestReconciler_DisputeOpened(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "done", "chrg_1", domain.BookingStatusCompleted)
	f.seed(t, "gone", "chrg_2", domain.BookingStatusCancelled)

	outcome, err := f.deliver(t, chargeRef("evnt_1", "dispute.create", "chrg_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.BookingStatusDisputed, f.get(t, "done").Status)

	outcome, err = f.deliver(t, chargeRef("evnt_2", "dispute.create", "chrg_2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, domain.BookingStatusCancelled, f.get(t, "gone").Status)
}

// Тест 9: Временная ошибка освобождает claim, повторная доставка применяется
func TestReconciler_TransientFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)
	f.bookings.lookupFailures.Store(1)
	body := chargeComplete("evnt_1", "chrg_1", "successful")

	_, err := f.deliver(t, body)
	require.Error(t, err)
	assert.Empty(t, domain.KindOf(err))
	assert.Equal(t, domain.PaymentStatusPending, f.get(t, "b1").PaymentStatus)

	outcome, err := f.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.PaymentStatusPaid, f.get(t, "b1").PaymentStatus)
}

// Тест 10: Конфликт повторяется на свежем чтении
func TestReconciler_RetriesConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)
	f.bookings.conflictFailures.Store(2)

	outcome, err := f.deliver(t, chargeComplete("evnt_1", "chrg_1", "successful"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	f.seed(t, "b2", "chrg_2", domain.BookingStatusAccepted)
	f.bookings.conflictFailures.Store(3)
	_, err = f.deliver(t, chargeComplete("evnt_2", "chrg_2", "successful"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.PaymentStatusPending, f.get(t, "b2").PaymentStatus)
}

// Тест 11: Параллельные доставки одного события применяются один раз
func TestReconciler_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)
	body := []byte(chargeComplete("evnt_1", "chrg_1", "successful"))
	headers := f.signer.Sign(body, time.Now())

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.reconciler.HandleWebhook(context.Background(), body, headers)
			if err == nil && outcome == OutcomeApplied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int64(3), f.get(t, "b1").Version)
	assert.Len(t, f.fanout.events(), 2)
}

// Тест 12: Недоступный dedup не мешает применению
func TestReconciler_DedupUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "chrg_1", domain.BookingStatusAccepted)
	dedup := &MockDedup{}
	dedup.On("ClaimEvent", mock.Anything, "evnt_1", mock.Anything, 72*time.Hour).Return(false, errors.New("redis down"))
	f.reconciler.dedup = dedup

	outcome, err := f.deliver(t, chargeComplete("evnt_1", "chrg_1", "successful"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	dedup.AssertExpectations(t)
}

// Тест 13: Синхронизация зависших намерений
func TestReconciler_SyncStaleIntents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "paid", "chrg_1", domain.BookingStatusAccepted)
	f.seed(t, "failed", "chrg_2", domain.BookingStatusAccepted)
	f.seed(t, "waiting", "chrg_3", domain.BookingStatusAccepted)
	f.seed(t, "timeout", "chrg_4", domain.BookingStatusAccepted)

	f.gateway.On("RetrieveIntent", mock.Anything, "chrg_1").Return(&domain.PaymentIntent{ID: "chrg_1", Status: domain.IntentStatusSucceeded}, nil)
	f.gateway.On("RetrieveIntent", mock.Anything, "chrg_2").Return(&domain.PaymentIntent{ID: "chrg_2", Status: domain.IntentStatusFailed}, nil)
	f.gateway.On("RetrieveIntent", mock.Anything, "chrg_3").Return(&domain.PaymentIntent{ID: "chrg_3", Status: domain.IntentStatusPending}, nil)
	f.gateway.On("RetrieveIntent", mock.Anything, "chrg_4").Return(nil, context.DeadlineExceeded)

	n, err := f.reconciler.SyncStaleIntents(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, domain.PaymentStatusPaid, f.get(t, "paid").PaymentStatus)
	assert.Equal(t, domain.PaymentStatusFailed, f.get(t, "failed").PaymentStatus)
	assert.Equal(t, domain.PaymentStatusPending, f.get(t, "waiting").PaymentStatus)
	assert.Equal(t, domain.PaymentStatusPending, f.get(t, "timeout").PaymentStatus)
	f.gateway.AssertExpectations(t)

	// nothing is older than two hours
	f.gateway.Calls = nil
	n, err = f.reconciler.SyncStaleIntents(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.gateway.AssertNotCalled(t, "RetrieveIntent", mock.Anything, mock.Anything)
}
