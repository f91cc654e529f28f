package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	LogFormat   string
	DatabaseURL string

	// Clinic
	ClinicName     string
	ClinicTimezone string

	// Payments
	PaymentCurrency       string
	PaymentMinorUnitScale int
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	AllowFakePayments     bool
	PaymentOrderLockTTL   time.Duration

	// Sessions
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Event delivery
	KafkaBrokers       []string
	KafkaInvoiceTopic  string
	OutboxPollInterval time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	S3InvoiceBucket     string

	// Receipt e-mail
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		ClinicName:     getEnv("CLINIC_NAME", "Smile Dental Clinic"),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),

		PaymentCurrency:       strings.ToUpper(getEnv("PAYMENT_CURRENCY", "INR")),
		PaymentMinorUnitScale: getEnvAsInt("PAYMENT_MINOR_UNIT_SCALE", 100),
		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		AllowFakePayments:     getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),
		PaymentOrderLockTTL:   getEnvAsDuration("PAYMENT_ORDER_LOCK_TTL", 30*time.Second),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		KafkaBrokers:       getEnvAsList("KAFKA_BROKERS"),
		KafkaInvoiceTopic:  getEnv("KAFKA_INVOICE_TOPIC", "clinic.invoices"),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		S3InvoiceBucket:     getEnv("S3_INVOICE_BUCKET", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Smile Dental Clinic"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Smile Dental Clinic"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// ClinicLocation resolves ClinicTimezone. Appointment times are compared in
// this zone regardless of where the server runs.
func (c *Config) ClinicLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.ClinicTimezone))
	if err != nil {
		return nil, fmt.Errorf("config: invalid CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
