package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Common holds the settings every service reads.
type Common struct {
	ServiceName  string
	LogLevel     string
	OTLPEndpoint string
}

func loadCommon(defaultName string) Common {
	return Common{
		ServiceName:  EnvDefault("SERVICE_NAME", defaultName),
		LogLevel:     EnvDefault("LOG_LEVEL", "info"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

type Checkout struct {
	Common
	Port           string
	PostgresURL    string
	DBMaxOpenConns int
	KafkaBrokers   []string
	Gateway        Gateway
	ShutdownGrace  time.Duration
}

// Gateway configures the payment gateway client and callback verification.
type Gateway struct {
	URL       string
	KeyID     string
	KeySecret string
	Currency  string
	Timeout   time.Duration
}

func (g Gateway) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", g.URL),
		slog.String("key_id", g.KeyID),
		slog.String("key_secret", redact(g.KeySecret)),
		slog.String("currency", g.Currency),
		slog.Duration("timeout", g.Timeout),
	)
}

func (c Checkout) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("service", c.ServiceName),
		slog.String("port", c.Port),
		slog.String("postgres_url", redactURL(c.PostgresURL)),
		slog.Any("kafka_brokers", c.KafkaBrokers),
		slog.Any("gateway", c.Gateway),
	)
}

func LoadCheckout() (Checkout, error) {
	cfg := Checkout{
		Common:       loadCommon("checkout"),
		Port:         EnvDefault("PORT", "8081"),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		Gateway: Gateway{
			URL:       os.Getenv("PAYMENT_GATEWAY_URL"),
			KeyID:     os.Getenv("PAYMENT_GATEWAY_KEY_ID"),
			KeySecret: os.Getenv("PAYMENT_GATEWAY_KEY_SECRET"),
			Currency:  EnvDefault("PAYMENT_CURRENCY", "INR"),
		},
	}

	var err error
	if cfg.Gateway.Timeout, err = EnvDurationDefault("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Checkout{}, err
	}
	if cfg.ShutdownGrace, err = EnvDurationDefault("SHUTDOWN_GRACE", 10*time.Second); err != nil {
		return Checkout{}, err
	}
	if cfg.DBMaxOpenConns, err = EnvIntDefault("DB_MAX_OPEN_CONNS", 20); err != nil {
		return Checkout{}, err
	}

	if err := requireNonEmpty(map[string]string{
		"POSTGRES_URL":               cfg.PostgresURL,
		"PAYMENT_GATEWAY_URL":        cfg.Gateway.URL,
		"PAYMENT_GATEWAY_KEY_ID":     cfg.Gateway.KeyID,
		"PAYMENT_GATEWAY_KEY_SECRET": cfg.Gateway.KeySecret,
	}); err != nil {
		return Checkout{}, err
	}

	return cfg, nil
}

type Worker struct {
	Common
	KafkaBrokers    []string
	ConsumerGroup   string
	EmailServiceURL string
	EmailDomain     string
}

func LoadWorker() (Worker, error) {
	cfg := Worker{
		Common:          loadCommon("notification-worker"),
		KafkaBrokers:    CSV(os.Getenv("KAFKA_BROKERS")),
		ConsumerGroup:   EnvDefault("KAFKA_CONSUMER_GROUP", "notification-worker"),
		EmailServiceURL: os.Getenv("EMAIL_SERVICE_URL"),
		EmailDomain:     EnvDefault("EMAIL_DOMAIN", "example.com"),
	}

	if err := requireNonEmpty(map[string]string{
		"KAFKA_BROKERS":     strings.Join(cfg.KafkaBrokers, ","),
		"EMAIL_SERVICE_URL": cfg.EmailServiceURL,
	}); err != nil {
		return Worker{}, err
	}

	return cfg, nil
}

type Edge struct {
	Common
	Port               string
	CheckoutServiceURL string
}

func LoadEdge() (Edge, error) {
	cfg := Edge{
		Common:             loadCommon("edge"),
		Port:               EnvDefault("PORT", "8080"),
		CheckoutServiceURL: os.Getenv("CHECKOUT_SERVICE_URL"),
	}

	if err := requireNonEmpty(map[string]string{
		"CHECKOUT_SERVICE_URL": cfg.CheckoutServiceURL,
	}); err != nil {
		return Edge{}, err
	}

	return cfg, nil
}

type Email struct {
	Common
	Port string
}

func LoadEmail() Email {
	return Email{
		Common: loadCommon("email"),
		Port:   EnvDefault("PORT", "8084"),
	}
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func EnvDurationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}

func requireNonEmpty(values map[string]string) error {
	var errs []error
	for name, v := range values {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s environment variable is required", name))
		}
	}
	return errors.Join(errs...)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "[REDACTED]" + raw[at:]
}
