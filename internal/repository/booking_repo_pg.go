package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, client_id, performer_id, event_date, start_time, end_time, duration_hours, event_type,
	venue, address, guest_count, special_requests, amount_cents, platform_fee_cents, total_amount_cents, currency,
	status, payment_status, payment_intent_id, cancelled_by, cancelled_at, cancellation_reason,
	accepted_at, completed_at, version, created_at, updated_at`

const uniqueViolation = "23505"

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

func (r *PGBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	err := r.db.QueryRow(ctx, `INSERT INTO bookings (id, client_id, performer_id, event_date, start_time, end_time,
		duration_hours, event_type, venue, address, guest_count, special_requests, amount_cents, platform_fee_cents,
		total_amount_cents, currency, status, payment_status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1)
		RETURNING version, created_at, updated_at`,
		b.ID, b.ClientID, b.PerformerID, b.EventDate, b.StartTime, b.EndTime, b.DurationHours, b.EventType,
		b.Venue, b.Address, b.GuestCount, b.SpecialRequests, int64(b.Amount), int64(b.PlatformFee),
		int64(b.TotalAmount), b.Currency, b.Status, b.PaymentStatus).
		Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.NewConflictError("booking %s already exists", b.ID)
	}
	return err
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingNotFound(id)
	}
	return b, err
}

func (r *PGBookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id=$1`, intentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("no booking for payment intent %s", intentID)
	}
	return b, err
}

func (r *PGBookingRepository) List(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.PerformerID != "" {
		add("performer_id = $%d", f.PerformerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.WithIntent {
		where = append(where, "payment_intent_id IS NOT NULL")
	}
	if f.EventBefore != nil {
		add("event_date < $%d", *f.EventBefore)
	}
	if f.UpdatedBefore != nil {
		add("updated_at < $%d", *f.UpdatedBefore)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *PGBookingRepository) ConditionalUpdate(ctx context.Context, id string, expected domain.BookingStatus, mutate Mutator) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if current.Status != expected {
		return nil, staleStatus(id, expected, current.Status)
	}

	next := current.Clone()
	effects, err := mutate(next)
	if errors.Is(err, ErrNoChange) {
		return current, ErrNoChange
	}
	if err != nil {
		return nil, err
	}
	if err := domain.CheckUpdate(current, next); err != nil {
		return nil, err
	}

	var cancelledBy, cancellationReason *string
	var cancelledAt *time.Time
	if c := next.Cancellation; c != nil {
		cancelledBy, cancelledAt, cancellationReason = &c.By, &c.At, &c.Reason
	}

	updated, err := scanBooking(tx.QueryRow(ctx, `UPDATE bookings SET status=$2, payment_status=$3, payment_intent_id=$4,
		cancelled_by=$5, cancelled_at=$6, cancellation_reason=$7, accepted_at=$8, completed_at=$9,
		version = version + 1, updated_at = now()
		WHERE id=$1 RETURNING `+bookingColumns,
		id, next.Status, next.PaymentStatus, nullString(next.PaymentIntentID),
		cancelledBy, cancelledAt, cancellationReason, next.AcceptedAt, next.CompletedAt))
	if isUniqueViolation(err) {
		return nil, domain.NewConflictError("payment intent %s is already attached to another booking", next.PaymentIntentID)
	}
	if err != nil {
		return nil, err
	}

	if effects.IncrementPerformerBookings {
		res, err := tx.Exec(ctx, `UPDATE performers SET total_bookings = total_bookings + 1, updated_at = now() WHERE id=$1`, current.PerformerID)
		if err != nil {
			return nil, err
		}
		if res.RowsAffected() == 0 {
			return nil, domain.NewNotFoundError("performer %s not found", current.PerformerID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PGBookingRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var paymentStatus domain.PaymentStatus
	err = tx.QueryRow(ctx, `SELECT payment_status FROM bookings WHERE id=$1 FOR UPDATE`, id).Scan(&paymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return bookingNotFound(id)
	}
	if err != nil {
		return err
	}
	if paymentStatus == domain.PaymentStatusPaid {
		return domain.NewPreconditionError("a paid booking cannot be deleted, refund it first")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM bookings WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                                    domain.Booking
		amount, fee, total                   int64
		intentID, cancelledBy, cancelReason  *string
		cancelledAt, acceptedAt, completedAt *time.Time
	)
	if err := row.Scan(&b.ID, &b.ClientID, &b.PerformerID, &b.EventDate, &b.StartTime, &b.EndTime, &b.DurationHours,
		&b.EventType, &b.Venue, &b.Address, &b.GuestCount, &b.SpecialRequests, &amount, &fee, &total, &b.Currency,
		&b.Status, &b.PaymentStatus, &intentID, &cancelledBy, &cancelledAt, &cancelReason,
		&acceptedAt, &completedAt, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Amount, b.PlatformFee, b.TotalAmount = domain.Money(amount), domain.Money(fee), domain.Money(total)
	if intentID != nil {
		b.PaymentIntentID = *intentID
	}
	if cancelledBy != nil && cancelledAt != nil {
		b.Cancellation = &domain.Cancellation{By: *cancelledBy, At: *cancelledAt}
		if cancelReason != nil {
			b.Cancellation.Reason = *cancelReason
		}
	}
	b.AcceptedAt = acceptedAt
	b.CompletedAt = completedAt
	return &b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ BookingRepository = (*PGBookingRepository)(nil)
