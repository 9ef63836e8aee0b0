package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for the coordination client.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ClientConfig struct {
	// Coordination backend transport.
	WSURL          string
	AuthToken      string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration

	// Ride/driver REST backend.
	BackendURL     string
	BackendTimeout time.Duration

	// Driver-side offer polling.
	PollInterval time.Duration
	OfferTTL     time.Duration

	// Geocoding provider.
	GeocodeURL    string
	GeocodeRegion string

	// Local persistence and journaling.
	RedisAddr      string
	RedisPassword  string
	CurrentRideKey string
	PGDSN          string
	KafkaBrokers   []string
	KafkaTopic     string

	// Metrics/health endpoint.
	MetricsAddr string

	LogLevel string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		WSURL:          "ws://localhost:8080/ws",
		ReconnectDelay: 3 * time.Second,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		BackendURL:     "http://localhost:8081",
		BackendTimeout: 5 * time.Second,
		PollInterval:   5 * time.Second,
		OfferTTL:       5 * time.Minute,
		GeocodeURL:     "https://nominatim.openstreetmap.org",
		GeocodeRegion:  "in",
		CurrentRideKey: "ride:current",
		KafkaTopic:     "ride-events",
		MetricsAddr:    ":2112",
		LogLevel:       "info",
	}
}

// LoadClientConfig reads the environment into a ClientConfig. Invalid values
// are accumulated and returned as a single joined error.
func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.WSURL, "COORD_WS_URL")
	cfg.AuthToken = os.Getenv("COORD_AUTH_TOKEN")
	setDurationFromEnv(&cfg.ReconnectDelay, "COORD_RECONNECT_DELAY", &errs)
	setDurationFromEnv(&cfg.DialTimeout, "COORD_DIAL_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "COORD_WRITE_TIMEOUT", &errs)

	setStringFromEnv(&cfg.BackendURL, "RIDE_BACKEND_URL")
	setDurationFromEnv(&cfg.BackendTimeout, "RIDE_BACKEND_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.PollInterval, "OFFER_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)

	setStringFromEnv(&cfg.GeocodeURL, "GEOCODE_URL")
	setStringFromEnv(&cfg.GeocodeRegion, "GEOCODE_REGION")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.CurrentRideKey, "CURRENT_RIDE_KEY")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("COORD_RECONNECT_DELAY must be > 0"))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_POLL_INTERVAL must be > 0"))
	}
	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
