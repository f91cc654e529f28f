package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/dental-clinic-platform/cmd/mainconfig"
	"github.com/wolfman30/dental-clinic-platform/internal/api/router"
	"github.com/wolfman30/dental-clinic-platform/internal/app/bootstrap"
	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/archive"
	"github.com/wolfman30/dental-clinic-platform/internal/compliance"
	appconfig "github.com/wolfman30/dental-clinic-platform/internal/config"
	"github.com/wolfman30/dental-clinic-platform/internal/events"
	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
	"github.com/wolfman30/dental-clinic-platform/internal/notify"
	"github.com/wolfman30/dental-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-clinic-platform/internal/payments"
	"github.com/wolfman30/dental-clinic-platform/internal/profiles"
	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

func main() {
	// A missing .env is fine outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithOptions(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting dental-clinic-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.ClinicLocation()
	if err != nil {
		return err
	}

	db, err := bootstrap.BuildDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, billingMetrics := setupMetrics()

	gateway, err := bootstrap.BuildGateway(cfg, logger)
	if err != nil {
		return err
	}

	audit := compliance.NewAuditService(db.SQL)
	appointmentService := appointments.NewService(appointments.NewRepository(db.Pool), appointments.NewClassifier(loc), logger)
	invoiceService := invoices.NewService(invoices.NewRepository(db.Pool), audit, billingMetrics, logger)
	outbox := events.NewOutboxStore(db.Pool)
	processed := events.NewProcessedStore(db.Pool)

	reconciler := payments.NewReconciler(payments.ReconcilerDeps{
		Details:  appointmentService,
		Invoices: invoiceService,
		Gateway:  gateway,
		Guard:    bootstrap.BuildOrderGuard(cfg, redisClient, logger),
		Orders:   payments.NewOrderRepository(db.Pool),
		Outbox:   outbox,
		Audit:    audit,
		Metrics:  billingMetrics,
		Logger:   logger,
	}, payments.ReconcilerConfig{
		Currency:       cfg.PaymentCurrency,
		MinorUnitScale: cfg.PaymentMinorUnitScale,
		ClinicName:     cfg.ClinicName,
	})

	var revoker session.Revoker = session.NewMemoryRevoker()
	if redisClient != nil {
		revoker = session.NewRedisRevoker(redisClient)
	} else {
		logger.Warn("redis unavailable; logout only applies to this instance")
	}

	consumers, closeConsumers, err := setupOutboxConsumers(ctx, cfg, appointmentService, invoiceService, processed, logger)
	if err != nil {
		return err
	}
	defer closeConsumers()

	deliverer := events.NewDeliverer(outbox, bootstrap.BuildOutboxHandler(consumers), logger).
		WithInterval(cfg.OutboxPollInterval)
	deliveryDone := make(chan struct{})
	go func() {
		defer close(deliveryDone)
		deliverer.Start(ctx)
	}()

	routerCfg := &router.Config{
		Logger:             logger,
		Sessions:           session.NewHandler(revoker, logger),
		Appointments:       appointments.NewHandler(appointmentService, logger),
		Invoices:           invoices.NewHandler(invoiceService, appointmentService, cfg.ClinicName, cfg.PaymentCurrency, logger),
		Payments:           payments.NewHandler(reconciler, logger),
		RazorpayHook:       payments.NewRazorpayWebhookHandler(gateway, reconciler, processed, billingMetrics, logger),
		Profiles:           profiles.NewHandler(profiles.NewRepository(db.Pool), logger),
		Audit:              compliance.NewHandler(audit, logger),
		MetricsHandler:     metricsHandler,
		JWTSecret:          cfg.JWTSecret,
		Revoker:            revoker,
		RateLimiter:        bootstrap.BuildRateLimiter(ctx, cfg, redisClient, logger),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Database:           db,
	}
	if redisClient != nil {
		routerCfg.Redis = redisPinger(redisClient)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		logger.Warn("JWT_SECRET empty; every bearer token will be rejected")
	}

	srv := newServer(cfg, otelhttp.NewHandler(router.New(routerCfg), "clinic-api"))
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api: listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	stop()
	<-deliveryDone
	return nil
}

func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// setupMetrics registers billing metrics plus the Go runtime collectors on
// a private registry.
func setupMetrics() (http.Handler, *metrics.BillingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBillingMetrics(reg)
}

// setupOutboxConsumers builds the Kafka publisher, S3 archiver and
// receipt mailer. The returned func closes the Kafka writer.
func setupOutboxConsumers(
	ctx context.Context,
	cfg *appconfig.Config,
	details *appointments.Service,
	loader *invoices.Service,
	claims *events.ProcessedStore,
	logger *logging.Logger,
) (bootstrap.OutboxConsumers, func(), error) {
	var consumers bootstrap.OutboxConsumers
	closeFn := func() {}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaInvoiceTopic, logger), logger)
		consumers.Kafka = publisher
		closeFn = func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to close kafka writer", "error", err)
			}
		}
	} else {
		logger.Warn("KAFKA_BROKERS empty; billing events stay local")
	}

	var sesClient *sesv2.Client
	needsAWS := cfg.S3InvoiceBucket != "" || cfg.SESFromEmail != ""
	if needsAWS {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			closeFn()
			return consumers, nil, fmt.Errorf("api: load aws config: %w", err)
		}
		if cfg.S3InvoiceBucket != "" {
			s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				o.UsePathStyle = cfg.AWSEndpointOverride != ""
			})
			store := archive.NewStore(s3Client, cfg.S3InvoiceBucket, logger)
			consumers.Archive = archive.NewInvoiceArchiver(store, details, loader, cfg.ClinicName, cfg.PaymentCurrency, logger)
		}
		if cfg.SESFromEmail != "" {
			sesClient = sesv2.NewFromConfig(awsCfg)
		}
	}

	sender, provider := bootstrap.BuildEmailSender(cfg, sesClient, logger)
	logger.Info("receipt e-mail configured", "provider", provider)
	consumers.Receipt = notify.NewReceiptMailer(sender, details, loader, claims, notify.ReceiptConfig{
		ClinicName: cfg.ClinicName,
		Currency:   cfg.PaymentCurrency,
	}, logger)

	return consumers, closeFn, nil
}

func redisPinger(client *redis.Client) router.Pinger {
	return router.PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
