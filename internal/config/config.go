package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr  string // e.g. nsqd:4150
	ChargesTopic string // topic consumed by the charge step
}

type Webhook struct {
	Secret          string // shared secret issued by the payment processor
	SignatureHeader string // HTTP header carrying the body signature
	MaxBodyBytes    int64  // request bodies above this are rejected
}

type OrderUpdate struct {
	MaxAttempts     int             // attempts for transient store failures
	BackoffSchedule []time.Duration // delay before each retry
	JitterPercent   float64         // backoff jitter percentage (0.0-1.0)
}

type Push struct {
	GatewayURL     string        // base URL of the push gateway
	Timeout        time.Duration // per batch call
	Issuer         string        // JWT iss claim
	Audience       string        // JWT aud claim
	PrivateKeyFile string        // PEM encoded RSA key used to sign gateway tokens
}

type Notify struct {
	Timeout      time.Duration // budget for the whole fan-out of one event
	DeepLinkBase string        // prefix for order links in notification data
}

type FakePush struct {
	Port          string // listen address
	PublicKeyFile string // when set, bearer tokens are validated
	Issuer        string
	Audience      string
	FailFirstN    int // number of batches answered with 503
}

type Config struct {
	AppName     string
	HTTPPort    string // :8080
	GRPCPort    string // :50051
	StoreDriver string // postgres | memory
	SeedFile    string // JSON fixtures loaded into the memory stores
	DB          DB
	NSQ         NSQ
	Webhook     Webhook
	OrderUpdate OrderUpdate
	Push        Push
	Notify      Notify
	FakePush    FakePush
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoff() []time.Duration {
	return []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoff()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoff()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:     getenv("APP_NAME", "payhook"),
		HTTPPort:    getenv("HTTP_PORT", ":8080"),
		GRPCPort:    getenv("GRPC_PORT", ":50051"),
		StoreDriver: getenv("STORE_DRIVER", "postgres"),
		SeedFile:    getenv("SEED_FILE", ""),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "payhook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:  getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			ChargesTopic: getenv("CHARGES_TOPIC", "charges"),
		},
		Webhook: Webhook{
			Secret:          getenv("WEBHOOK_SECRET", ""),
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "Paymongo-Signature"),
			MaxBodyBytes:    getenvInt64("WEBHOOK_MAX_BODY_BYTES", 1<<20),
		},
		OrderUpdate: OrderUpdate{
			MaxAttempts:     getenvInt("ORDER_UPDATE_ATTEMPTS", 3),
			BackoffSchedule: parseBackoffSchedule(getenv("ORDER_UPDATE_BACKOFF", "")),
			JitterPercent:   getenvFloat("ORDER_UPDATE_JITTER_PCT", 0.25),
		},
		Push: Push{
			GatewayURL:     getenv("PUSH_GATEWAY_URL", "http://fake-push:8085"),
			Timeout:        getenvDuration("PUSH_TIMEOUT", 5*time.Second),
			Issuer:         getenv("PUSH_ISSUER", "payhook"),
			Audience:       getenv("PUSH_AUDIENCE", "push-gateway"),
			PrivateKeyFile: getenv("PUSH_PRIVATE_KEY_FILE", ""),
		},
		Notify: Notify{
			Timeout:      getenvDuration("NOTIFY_TIMEOUT", 10*time.Second),
			DeepLinkBase: getenv("DEEP_LINK_BASE", "foodapp://orders"),
		},
		FakePush: FakePush{
			Port:          getenv("FAKE_PUSH_PORT", ":8085"),
			PublicKeyFile: getenv("FAKE_PUSH_PUBLIC_KEY_FILE", ""),
			Issuer:        getenv("PUSH_ISSUER", "payhook"),
			Audience:      getenv("PUSH_AUDIENCE", "push-gateway"),
			FailFirstN:    getenvInt("FAIL_FIRST_N", 0),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
