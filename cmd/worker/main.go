package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Domenick1991/stagebook/config"
	"github.com/Domenick1991/stagebook/internal/bootstrap"
	"github.com/Domenick1991/stagebook/internal/email"
	"github.com/Domenick1991/stagebook/internal/gateway"
	"github.com/Domenick1991/stagebook/internal/kafka"
	"github.com/Domenick1991/stagebook/internal/logging"
	"github.com/Domenick1991/stagebook/internal/obs"
	"github.com/Domenick1991/stagebook/internal/service/booking"
	"github.com/Domenick1991/stagebook/internal/service/payment"
	"github.com/sirupsen/logrus"
	kafkaGo "github.com/segmentio/kafka-go"
)

var version = "dev"

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing, version)
	if err != nil {
		logger.WithError(err).Fatal("init tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer store.Close()

	dedup, redisCache := bootstrap.NewDedup(cfg, logger)
	if redisCache != nil {
		defer redisCache.Close()
	}

	// Sweeps publish to the broker only; SSE subscribers live in the API process.
	broker, err := bootstrap.NewBroker(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect broker")
	}
	defer broker.Close()

	gw, err := gateway.NewOmise(cfg.Gateway)
	if err != nil {
		logger.WithError(err).Fatal("payment gateway")
	}
	verifier, err := gateway.NewSignatureVerifier(cfg.Gateway.WebhookSecret)
	if err != nil {
		logger.WithError(err).Fatal("webhook verifier")
	}

	bookingService := booking.NewBookingService(store.Bookings, store.Performers, gw, broker.Fanout, logger,
		booking.WithCurrency(cfg.Gateway.Currency),
		booking.WithGatewayTimeout(cfg.Gateway.Timeout),
	)
	reconciler := payment.NewReconciler(store.Bookings, gw, verifier, gateway.OmiseEventParser{}, dedup, broker.Fanout, logger,
		payment.WithDedupWindow(cfg.Booking.DedupWindow),
		payment.WithRetries(cfg.Booking.ReconcileRetries),
		payment.WithGatewayTimeout(cfg.Gateway.Timeout),
	)

	var wg sync.WaitGroup
	if cfg.Fanout.Broker == "kafka" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, logger)
		defer consumer.Close()

		sender := email.NewSender(logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
				env, err := email.Decode(msg.Value)
				if err != nil {
					logger.WithError(err).WithField("offset", msg.Offset).Warn("skip undecodable notification")
					return nil
				}
				return sender.Send(ctx, env)
			})
			if err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("notification consumer stopped")
			}
		}()
	}

	sweep := time.NewTicker(cfg.Worker.SweepInterval)
	defer sweep.Stop()
	logger.WithFields(logrus.Fields{
		"sweep_interval":   cfg.Worker.SweepInterval.String(),
		"stale_intent_age": cfg.Worker.StaleIntentAge.String(),
	}).Info("worker started")

	for {
		select {
		case <-sweep.C:
			runSweep(ctx, cfg, bookingService, reconciler, logger)
		case <-ctx.Done():
			logger.Info("shutting down worker")
			wg.Wait()
			return
		}
	}
}

func runSweep(ctx context.Context, cfg *config.Config, bookings *booking.BookingService, reconciler *payment.Reconciler, log logrus.FieldLogger) {
	synced, err := reconciler.SyncStaleIntents(ctx, cfg.Worker.StaleIntentAge)
	if err != nil {
		log.WithError(err).Error("sync stale intents")
	} else if synced > 0 {
		log.WithField("count", synced).Info("synced stale payment intents")
	}

	if !cfg.Worker.CompleteElapsed {
		return
	}
	if _, err := bookings.CompleteElapsed(ctx); err != nil {
		log.WithError(err).Error("complete elapsed bookings")
	}
}
