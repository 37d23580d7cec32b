// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the payment facilitator endpoint, chain
// addresses, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "x402-mint-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// FacilitatorConfig defines the x402 payment facilitator integration.
type FacilitatorConfig struct {
	BaseURL string        // FACILITATOR_URL (e.g. "https://onchain.fi")
	APIKey  string        // FACILITATOR_API_KEY
	Timeout time.Duration // FACILITATOR_TIMEOUT, bound on each verify/settle call
}

// ChainConfig defines the on-chain addresses and network identity.
type ChainConfig struct {
	RPCURL      string // CHAIN_RPC_URL (e.g. "https://mainnet.base.org")
	ChainID     int64  // CHAIN_ID (8453 for Base mainnet)
	Network     string // X402_NETWORK name carried in the payment header
	USDCAddress string // USDC_ADDRESS, the token the authorization is signed against
	Collection  string // COLLECTION_ADDRESS, the NFT contract
	Recipient   string // PAY_TO_ADDRESS, the facilitator's intermediate recipient
}

// PaymentConfig defines payment-flow tunables.
type PaymentConfig struct {
	AuthValidity  time.Duration // AUTH_VALIDITY, lifetime of a signed authorization
	LedgerTimeout time.Duration // LEDGER_WRITE_TIMEOUT, bound on each ledger write
	TokenSymbol   string        // PAY_TOKEN_SYMBOL, e.g. "USDC"
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// Payment integration
	Facilitator FacilitatorConfig
	Chain       ChainConfig
	Payment     PaymentConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/x402")),

		// App
		DBPath: getenv("DB_PATH", "payments.db"),

		// Payment integration
		Facilitator: FacilitatorConfig{
			BaseURL: strings.TrimRight(getenv("FACILITATOR_URL", "https://onchain.fi"), "/"),
			APIKey:  getenv("FACILITATOR_API_KEY", ""),
			Timeout: getdur("FACILITATOR_TIMEOUT", 30*time.Second),
		},
		Chain: ChainConfig{
			RPCURL:      getenv("CHAIN_RPC_URL", "https://mainnet.base.org"),
			ChainID:     int64(getint("CHAIN_ID", 8453)),
			Network:     getenv("X402_NETWORK", "base"),
			USDCAddress: getenv("USDC_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			Collection:  getenv("COLLECTION_ADDRESS", ""),
			Recipient:   getenv("PAY_TO_ADDRESS", ""),
		},
		Payment: PaymentConfig{
			AuthValidity:  getdur("AUTH_VALIDITY", 15*time.Minute),
			LedgerTimeout: getdur("LEDGER_WRITE_TIMEOUT", 15*time.Second),
			TokenSymbol:   getenv("PAY_TOKEN_SYMBOL", "USDC"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "x402-mint-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Facilitator.BaseURL) == "" {
		return cfg, errors.New("FACILITATOR_URL must not be empty")
	}
	if cfg.Facilitator.Timeout <= 0 {
		return cfg, errors.New("FACILITATOR_TIMEOUT must be > 0")
	}
	if cfg.Chain.ChainID <= 0 {
		return cfg, errors.New("CHAIN_ID must be > 0")
	}
	if strings.TrimSpace(cfg.Chain.Network) == "" {
		return cfg, errors.New("X402_NETWORK must not be empty")
	}
	if !isHexAddress(cfg.Chain.USDCAddress) {
		return cfg, errors.New("USDC_ADDRESS must be a 0x-prefixed 40-hex-char address")
	}
	if cfg.Chain.Collection != "" && !isHexAddress(cfg.Chain.Collection) {
		return cfg, errors.New("COLLECTION_ADDRESS must be a 0x-prefixed 40-hex-char address")
	}
	if cfg.Chain.Recipient != "" && !isHexAddress(cfg.Chain.Recipient) {
		return cfg, errors.New("PAY_TO_ADDRESS must be a 0x-prefixed 40-hex-char address")
	}
	if cfg.Payment.AuthValidity <= 0 {
		return cfg, errors.New("AUTH_VALIDITY must be > 0")
	}
	if cfg.Payment.LedgerTimeout <= 0 {
		return cfg, errors.New("LEDGER_WRITE_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// isHexAddress reports whether s looks like a 0x-prefixed 20-byte address.
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
