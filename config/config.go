package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Nostr     NostrConfig
	Payment   PaymentConfig
	Rates     RatesConfig
	RateLimit RateLimitConfig
	Merchant  MerchantConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// NostrConfig holds the relay set used for zap requests and receipt
// subscriptions, plus the optional merchant signing key.
type NostrConfig struct {
	Relays []string
	// SecretKey is a 32-byte hex Nostr secret key. When set, zap requests
	// are signed with it; otherwise an ephemeral key is generated per request.
	SecretKey string
}

type PaymentConfig struct {
	// InvoiceTimeout is the countdown shown to the payer; the session
	// expires when it elapses regardless of the bolt11's own expiry.
	InvoiceTimeout  time.Duration
	ResolveTimeout  time.Duration
	CallbackTimeout time.Duration
	NIP05CacheTTL   time.Duration
}

type RatesConfig struct {
	BaseURL         string
	CacheTTL        time.Duration
	DefaultCurrency string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// MerchantConfig seeds the single operator account and its receiving address.
type MerchantConfig struct {
	Name     string
	Password string
	// Address is the Lightning address payments settle to (name@domain).
	Address string
}

func Load() *Config {
	// Optional .env for local development; real env vars win either way.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         envStr("PORT", "8090"),
			Env:          envStr("APP_ENV", "development"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             envStr("DATABASE_DSN", "satspos:satspos@tcp(localhost:3306)/satspos?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			Secret: envStr("JWT_SECRET", "change-me-in-production"),
			Expiry: 24 * time.Hour,
			Issuer: "satspos",
		},
		Nostr: NostrConfig{
			Relays:    envList("NOSTR_RELAYS", []string{"wss://relay.damus.io", "wss://nostr-pub.wellorder.net"}),
			SecretKey: envStr("NOSTR_SECRET_KEY", ""),
		},
		Payment: PaymentConfig{
			InvoiceTimeout:  envDur("INVOICE_TIMEOUT", 5*time.Minute),
			ResolveTimeout:  5 * time.Second,
			CallbackTimeout: 10 * time.Second,
			NIP05CacheTTL:   5 * time.Minute,
		},
		Rates: RatesConfig{
			BaseURL:         envStr("CURRENCY_API", "https://api.yadio.io"),
			CacheTTL:        60 * time.Second,
			DefaultCurrency: envStr("DEFAULT_CURRENCY", "SAT"),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("RATE_LIMIT", 60),
			Window: envDur("RATE_LIMIT_WINDOW", 60*time.Second),
		},
		Merchant: MerchantConfig{
			Name:     envStr("MERCHANT_NAME", "admin"),
			Password: envStr("MERCHANT_PASSWORD", "change-me"),
			Address:  envStr("MERCHANT_ADDRESS", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
