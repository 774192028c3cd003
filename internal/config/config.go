package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	HTTPAddr    string

	MySQLDSN  string
	RedisAddr string

	// Empty broker list disables event publishing.
	KafkaBrokers []string

	BotInternalURL string
	InternalToken  string

	HoldTTL      time.Duration
	BundleWindow time.Duration

	LedgerTTL     time.Duration
	ProcessingTTL time.Duration
	DeliveredTTL  time.Duration

	SweepInterval time.Duration
	SweepDelay    time.Duration
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServiceName: getenv("SERVICE_NAME", "beat-store"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		MySQLDSN:  getenv("MYSQL_DSN", "root:password@tcp(localhost:3306)/beatstore?parseTime=true"),
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),

		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),

		BotInternalURL: getenv("BOT_INTERNAL_URL", "http://localhost:8090"),
		InternalToken:  os.Getenv("INTERNAL_TOKEN"),

		HoldTTL:      getdur("HOLD_TTL", 10*time.Minute),
		BundleWindow: getdur("BUNDLE_WINDOW", 15*time.Minute),

		LedgerTTL:     getdur("LEDGER_TTL", 30*time.Minute),
		ProcessingTTL: getdur("PROCESSING_TTL", 10*time.Minute),
		DeliveredTTL:  getdur("DELIVERED_TTL", 30*time.Minute),

		SweepInterval: getdur("SWEEP_INTERVAL", 5*time.Minute),
		SweepDelay:    getdur("SWEEP_DELAY", 30*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
