package bootstrap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dental-clinic-platform/internal/config"
	"github.com/wolfman30/dental-clinic-platform/internal/payments"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// ErrNoGateway means neither Razorpay keys nor fake payments are configured.
var ErrNoGateway = errors.New("bootstrap: no payment gateway configured")

// BuildGateway returns Razorpay when keys are present, the fake gateway
// when ALLOW_FAKE_PAYMENTS is set, and ErrNoGateway otherwise.
func BuildGateway(cfg *appconfig.Config, logger *logging.Logger) (payments.Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	keyID := strings.TrimSpace(cfg.RazorpayKeyID)
	secret := strings.TrimSpace(cfg.RazorpayKeySecret)
	if keyID != "" && secret != "" {
		gw, err := payments.NewRazorpayGateway(keyID, secret, cfg.RazorpayWebhookSecret, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: razorpay gateway: %w", err)
		}
		if strings.TrimSpace(cfg.RazorpayWebhookSecret) == "" {
			logger.Warn("razorpay webhook secret empty; webhooks will be rejected")
		}
		logger.Info("payment gateway configured", "provider", gw.Name())
		return gw, nil
	}
	if cfg.AllowFakePayments {
		logger.Warn("using fake payment gateway; do not enable in production")
		return payments.NewFakeGateway(cfg.RazorpayWebhookSecret, logger), nil
	}
	return nil, ErrNoGateway
}

// BuildOrderGuard prefers a Redis lock shared across instances and falls
// back to an in-process lock when Redis is disabled.
func BuildOrderGuard(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) payments.OrderGuard {
	if redisClient == nil {
		if logger != nil {
			logger.Warn("redis unavailable; payment order lock is per-instance")
		}
		return payments.NewLocalOrderGuard()
	}
	return payments.NewRedisOrderGuard(redisClient, cfg.PaymentOrderLockTTL, logger)
}
