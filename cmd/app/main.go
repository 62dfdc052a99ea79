package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/stagebook/api"
	"github.com/Domenick1991/stagebook/config"
	"github.com/Domenick1991/stagebook/internal/bootstrap"
	"github.com/Domenick1991/stagebook/internal/gateway"
	"github.com/Domenick1991/stagebook/internal/logging"
	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/Domenick1991/stagebook/internal/obs"
	"github.com/Domenick1991/stagebook/internal/service/booking"
	"github.com/Domenick1991/stagebook/internal/service/payment"
	"github.com/Domenick1991/stagebook/internal/service/performers"
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

	checks := map[string]bootstrap.HealthCheck{"store": store.Check}

	dedup, redisCache := bootstrap.NewDedup(cfg, logger)
	var performerCache performers.PerformerCache
	if redisCache != nil {
		defer redisCache.Close()
		performerCache = redisCache
		checks["redis"] = redisCache.Ping
	}

	hub := notify.NewHub(cfg.Fanout.SubscriberBuffer, logger)
	fanout := notify.Multi{hub}
	broker, err := bootstrap.NewBroker(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect broker")
	}
	defer broker.Close()
	if broker.Fanout != nil {
		fanout = append(fanout, broker.Fanout)
	}
	if broker.Check != nil {
		checks["broker"] = broker.Check
	}

	gw, err := gateway.NewOmise(cfg.Gateway)
	if err != nil {
		logger.WithError(err).Fatal("payment gateway")
	}
	verifier, err := gateway.NewSignatureVerifier(cfg.Gateway.WebhookSecret)
	if err != nil {
		logger.WithError(err).Fatal("webhook verifier")
	}

	bookingService := booking.NewBookingService(store.Bookings, store.Performers, gw, fanout, logger,
		booking.WithCurrency(cfg.Gateway.Currency),
		booking.WithGatewayTimeout(cfg.Gateway.Timeout),
		booking.WithRefundRetries(cfg.Booking.ReconcileRetries),
	)
	reconciler := payment.NewReconciler(store.Bookings, gw, verifier, gateway.OmiseEventParser{}, dedup, fanout, logger,
		payment.WithDedupWindow(cfg.Booking.DedupWindow),
		payment.WithRetries(cfg.Booking.ReconcileRetries),
		payment.WithGatewayTimeout(cfg.Gateway.Timeout),
	)
	performerService := performers.NewPerformerService(store.Performers, performerCache, fanout, logger)

	router := bootstrap.NewRouter(cfg, bootstrap.Handlers{
		Bookings:   api.NewBookingHandler(bookingService, logger),
		Payments:   api.NewPaymentHandler(bookingService, reconciler, logger),
		Performers: api.NewPerformerHandler(performerService, logger),
		Events:     api.NewEventsHandler(hub, 0, logger),
	}, logger, checks)

	if err := bootstrap.Run(ctx, cfg, router, logger); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}
