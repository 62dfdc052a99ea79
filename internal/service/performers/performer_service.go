package performers

import (
	"context"

	"github.com/Domenick1991/stagebook/internal/authz"
	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/Domenick1991/stagebook/internal/repository"
	"github.com/sirupsen/logrus"
)

type PerformerUseCase interface {
	List(ctx context.Context) ([]domain.Performer, error)
	GetByID(ctx context.Context, id string) (*domain.Performer, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, id string, status domain.PerformerStatus) (*domain.Performer, error)
}

// PerformerCache holds the full catalog listing.
type PerformerCache interface {
	GetPerformers(ctx context.Context) ([]domain.Performer, error)
	SetPerformers(ctx context.Context, performers []domain.Performer) error
	InvalidatePerformers(ctx context.Context) error
}

type PerformerService struct {
	repo   repository.PerformerRepository
	cache  PerformerCache
	fanout notify.Fanout
	log    logrus.FieldLogger
}

// NewPerformerService works without a cache when cache is nil.
func NewPerformerService(repo repository.PerformerRepository, cache PerformerCache, fanout notify.Fanout, log logrus.FieldLogger) *PerformerService {
	if fanout == nil {
		fanout = notify.Nop{}
	}
	return &PerformerService{repo: repo, cache: cache, fanout: fanout, log: log}
}

func (s *PerformerService) List(ctx context.Context) ([]domain.Performer, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetPerformers(ctx); err == nil && cached != nil {
			return cached, nil
		} else if err != nil {
			s.log.WithError(err).Warn("performer cache read failed")
		}
	}

	performers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetPerformers(ctx, performers); err != nil {
			s.log.WithError(err).Warn("performer cache write failed")
		}
	}
	return performers, nil
}

func (s *PerformerService) GetByID(ctx context.Context, id string) (*domain.Performer, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateStatus is the admin moderation action. Only approved performers can be booked.
func (s *PerformerService) UpdateStatus(ctx context.Context, actor domain.Actor, id string, status domain.PerformerStatus) (*domain.Performer, error) {
	if err := authz.CanManagePerformers(actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.NewValidationError("unknown performer status %q", status)
	}

	performer, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidatePerformers(ctx); err != nil {
			s.log.WithError(err).Warn("performer cache invalidation failed")
		}
	}

	s.log.WithFields(logrus.Fields{"performer_id": id, "status": status, "actor_id": actor.ID}).Info("performer status changed")
	s.fanout.Publish(performer.ID, notify.EventPerformerStatusUpdated, performer)
	return performer, nil
}

var _ PerformerUseCase = (*PerformerService)(nil)
