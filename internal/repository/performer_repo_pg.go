package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGPerformerRepository struct {
	db *pgxpool.Pool
}

func NewPerformerRepository(db *pgxpool.Pool) PerformerRepository {
	return &PGPerformerRepository{db: db}
}

func (r *PGPerformerRepository) List(ctx context.Context) ([]domain.Performer, error) {
	rows, err := r.db.Query(ctx, `SELECT id, display_name, status, total_bookings, created_at, updated_at FROM performers ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	performers := make([]domain.Performer, 0)
	for rows.Next() {
		var p domain.Performer
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Status, &p.TotalBookings, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		performers = append(performers, p)
	}
	return performers, rows.Err()
}

func (r *PGPerformerRepository) GetByID(ctx context.Context, id string) (*domain.Performer, error) {
	row := r.db.QueryRow(ctx, `SELECT id, display_name, status, total_bookings, created_at, updated_at FROM performers WHERE id=$1`, id)
	var p domain.Performer
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Status, &p.TotalBookings, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("performer %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}

func (r *PGPerformerRepository) UpdateStatus(ctx context.Context, id string, status domain.PerformerStatus) (*domain.Performer, error) {
	row := r.db.QueryRow(ctx, `UPDATE performers SET status=$1, updated_at=now() WHERE id=$2 RETURNING id, display_name, status, total_bookings, created_at, updated_at`, status, id)
	var p domain.Performer
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Status, &p.TotalBookings, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("performer %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}

var _ PerformerRepository = (*PGPerformerRepository)(nil)
