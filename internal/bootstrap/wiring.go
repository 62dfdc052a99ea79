package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/stagebook/config"
	"github.com/Domenick1991/stagebook/internal/cache"
	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/kafka"
	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/Domenick1991/stagebook/internal/rabbitmq"
	"github.com/Domenick1991/stagebook/internal/repository"
	"github.com/Domenick1991/stagebook/internal/service/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Store bundles the repositories of the configured storage driver.
type Store struct {
	Bookings   repository.BookingRepository
	Performers repository.PerformerRepository
	Check      HealthCheck
	close      func()
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

func OpenStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Store, error) {
	if cfg.Storage.Driver == "memory" {
		seed := make([]domain.Performer, 0, len(cfg.Storage.SeedPerformers))
		now := time.Now().UTC()
		for _, id := range cfg.Storage.SeedPerformers {
			seed = append(seed, domain.Performer{ID: id, DisplayName: id, Status: domain.PerformerStatusApproved, CreatedAt: now, UpdatedAt: now})
		}
		performers := repository.NewMemoryPerformerRepository(seed...)
		log.WithField("performers", len(seed)).Warn("using in-memory storage, data is lost on restart")
		return &Store{
			Bookings:   repository.NewMemoryBookingRepository(performers),
			Performers: performers,
			Check:      func(context.Context) error { return nil },
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		Bookings:   repository.NewBookingRepository(pool),
		Performers: repository.NewPerformerRepository(pool),
		Check:      pool.Ping,
		close:      pool.Close,
	}, nil
}

// NewDedup returns the Redis claim store when Redis is configured. The in-memory
// window only protects a single process.
func NewDedup(cfg *config.Config, log logrus.FieldLogger) (payment.Dedup, *cache.RedisCache) {
	if cfg.Redis.Addr == "" {
		log.Warn("redis not configured, webhook dedup is process local")
		return cache.NewMemoryDedup(), nil
	}
	rc := cache.NewRedisCache(cfg.Redis, cfg.Redis.PerformersTTL)
	return rc, rc
}

// Broker is the optional broker-backed fanout. Fanout and Check are nil when no
// broker is configured; Close is always safe to call.
type Broker struct {
	Fanout notify.Fanout
	Check  HealthCheck
	close  func()
}

func (b *Broker) Close() {
	if b.close != nil {
		b.close()
	}
}

func NewBroker(cfg *config.Config, log logrus.FieldLogger) (*Broker, error) {
	var (
		producer notify.Producer
		closer   func() error
		check    HealthCheck
	)
	switch cfg.Fanout.Broker {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers, log)
		producer, closer, check = p, p.Close, p.CheckConnection
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		producer, closer = p, p.Close
	default:
		return &Broker{}, nil
	}

	fanout := notify.NewBrokerFanout(producer, cfg.Kafka.NotificationsTopic, cfg.Fanout.QueueSize, cfg.Fanout.PublishTimeout, log)
	return &Broker{
		Fanout: fanout,
		Check:  check,
		close: func() {
			fanout.Close()
			if err := closer(); err != nil {
				log.WithError(err).Warn("close broker producer")
			}
		},
	}, nil
}
