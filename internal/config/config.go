package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	LogLevel     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	Environment  string

	TraceSampleRatio float64

	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	MediaDir       string
	MaxImageBytes  int64
	ImageFetchTime time.Duration

	TxTimeout      time.Duration
	SweepInterval  time.Duration
	OutboxInterval time.Duration
	OutboxBatch    int

	IdempotencyTTL     time.Duration
	RateLimitPerUser   int
	RateLimitPerIP     int
	RateLimitWindow    time.Duration
	RecommendCacheTTL  time.Duration
	RecommendLimit     int
	NotifierQueue      string
	MailProvider       string
	MailFrom           string
	SESRegion          string
	SESAccessKeyID     string
	SESSecretAccessKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     envStr("HTTP_ADDR", ":8080"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      envStr("MONGO_DB", "eventbook"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment:  envStr("APP_ENV", "development"),

		TraceSampleRatio: envFloat("OTEL_TRACE_SAMPLE_RATIO", 1),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		TokenTTL:   envDur("TOKEN_TTL", 30*time.Minute),
		BcryptCost: envInt("BCRYPT_COST", 12),

		MediaDir:       envStr("MEDIA_DIR", "media"),
		MaxImageBytes:  int64(envInt("MAX_IMAGE_BYTES", 5<<20)),
		ImageFetchTime: envDur("IMAGE_FETCH_TIMEOUT", 10*time.Second),

		TxTimeout:      envDur("TX_TIMEOUT", 5*time.Second),
		SweepInterval:  envDur("SWEEP_INTERVAL", time.Minute),
		OutboxInterval: envDur("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:    envInt("OUTBOX_BATCH", 50),

		IdempotencyTTL:     envDur("IDEMPOTENCY_TTL", time.Hour),
		RateLimitPerUser:   envInt("RATE_LIMIT_USER", 30),
		RateLimitPerIP:     envInt("RATE_LIMIT_IP", 120),
		RateLimitWindow:    envDur("RATE_LIMIT_WINDOW", time.Minute),
		RecommendCacheTTL:  envDur("RECOMMEND_CACHE_TTL", time.Minute),
		RecommendLimit:     envInt("RECOMMEND_LIMIT", 5),
		NotifierQueue:      envStr("NOTIFIER_QUEUE", "eventbook.notifier"),
		MailProvider:       envStr("MAIL_PROVIDER", "noop"),
		MailFrom:           envStr("MAIL_FROM", "no-reply@eventbook.local"),
		SESRegion:          os.Getenv("SES_REGION"),
		SESAccessKeyID:     os.Getenv("SES_ACCESS_KEY_ID"),
		SESSecretAccessKey: os.Getenv("SES_SECRET_ACCESS_KEY"),
	}
	return cfg, nil
}

// Require reports the first of the named settings that is empty. Each binary
// asks only for what it connects to.
func (c *Config) Require(names ...string) error {
	values := map[string]string{
		"CRDB_DSN":   c.CRDBDSN,
		"MONGO_URI":  c.MongoURI,
		"REDIS_ADDR": c.RedisAddr,
		"RABBIT_URL": c.RabbitURL,
		"JWT_SECRET": c.JWTSecret,
	}
	var missing []string
	for _, n := range names {
		if v, ok := values[n]; ok && v == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return errors.Newf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
