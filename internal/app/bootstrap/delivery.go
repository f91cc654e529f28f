package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dental-clinic-platform/internal/config"
	"github.com/wolfman30/dental-clinic-platform/internal/events"
	httpmiddleware "github.com/wolfman30/dental-clinic-platform/internal/http/middleware"
	"github.com/wolfman30/dental-clinic-platform/internal/notify"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// BuildEmailSender picks the receipt e-mail provider. "auto" prefers
// SendGrid, then SES; with neither configured receipts are only logged.
func BuildEmailSender(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	sendgrid := func() notify.EmailSender {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}
	sesSender := func() notify.EmailSender {
		if ses == nil || strings.TrimSpace(cfg.SESFromEmail) == "" {
			return nil
		}
		return notify.NewSESSender(ses, notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SESFromName}, logger)
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		if s := sendgrid(); s != nil {
			return s, "sendgrid"
		}
	case "ses":
		if s := sesSender(); s != nil {
			return s, "ses"
		}
	case "stub", "none":
	default:
		if s := sendgrid(); s != nil {
			return s, "sendgrid"
		}
		if s := sesSender(); s != nil {
			return s, "ses"
		}
	}
	logger.Warn("no e-mail provider configured; receipts will only be logged", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger), "stub"
}

// OutboxConsumers are the sinks an outbox entry fans out to. Nil entries
// are skipped.
type OutboxConsumers struct {
	Kafka   events.DeliveryHandler
	Archive events.DeliveryHandler
	Receipt events.DeliveryHandler
}

// BuildOutboxHandler publishes every entry to Kafka and routes paid
// invoices to the archive and receipt mailer.
func BuildOutboxHandler(c OutboxConsumers) events.DeliveryHandler {
	var fan events.Fanout
	if c.Kafka != nil {
		fan = append(fan, c.Kafka)
	}
	if c.Archive != nil {
		fan = append(fan, events.OnlyTypes(c.Archive, events.TypeInvoicePaidV1))
	}
	if c.Receipt != nil {
		fan = append(fan, events.OnlyTypes(c.Receipt, events.TypeInvoicePaidV1))
	}
	return fan
}

// BuildRateLimiter shares counters through Redis when available and keeps
// a local token bucket as the fallback.
func BuildRateLimiter(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) httpmiddleware.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	local := httpmiddleware.NewMemoryLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
	if redisClient == nil {
		return local
	}
	perMinute := int(cfg.RateLimitRPS*60) + cfg.RateLimitBurst
	return httpmiddleware.FallbackLimiter{
		Primary:   httpmiddleware.NewRedisLimiter(redisClient, perMinute, time.Minute),
		Secondary: local,
		Logger:    logger,
	}
}
