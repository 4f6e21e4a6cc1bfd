package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultTokenURL       = "https://oauth2.googleapis.com/token"
	DefaultSheetsEndpoint = "https://sheets.googleapis.com/"
	DefaultSpreadsheetID  = "1CP1qXQD7MgVtXfe-hPv-z_ThlT9aD3lGzcQZ2lhIZKU"
	DefaultSheetName      = "Sheet1"
)

// Token cache backends.
const (
	TokenCacheNone  = "none"
	TokenCacheRedis = "redis"
)

// ServiceAccount holds the Google service account used to sign assertions.
type ServiceAccount struct {
	ClientEmail string `toml:"client_email"`
	PrivateKey  string `toml:"private_key"`
}

// Config is the process-wide configuration. It is loaded once at startup and
// passed down explicitly; nothing below main reads the environment.
type Config struct {
	Port           string         `toml:"port"`
	ServiceAccount ServiceAccount `toml:"service_account"`
	SpreadsheetID  string         `toml:"spreadsheet_id"`
	SheetName      string         `toml:"sheet_name"`
	TokenURL       string         `toml:"token_url"`
	SheetsEndpoint string         `toml:"sheets_endpoint"`

	UpstreamTimeout Duration `toml:"upstream_timeout"`
	RetryBackoff    Duration `toml:"retry_backoff"`

	DatabaseDriver string `toml:"database_driver"`
	DatabaseURL    string `toml:"database_url"`
	RedisURL       string `toml:"redis_url"`
	TokenCache     string `toml:"token_cache"`

	// TrustedProxies lists the CIDRs (or bare IPs) of reverse proxies whose
	// X-Forwarded-For header is believed. Empty means the header is ignored.
	TrustedProxies []string `toml:"trusted_proxies"`

	AdminToken      string  `toml:"admin_token"`
	RateLimitRPS    float64 `toml:"rate_limit_rps"`
	RateLimitBurst  int     `toml:"rate_limit_burst"`
	CORSAllowOrigin string  `toml:"cors_allow_origin"`
	LogLevel        string  `toml:"log_level"`
}

// Duration lets TOML files spell durations as "10s" / "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:            "8080",
		SpreadsheetID:   DefaultSpreadsheetID,
		SheetName:       DefaultSheetName,
		TokenURL:        DefaultTokenURL,
		SheetsEndpoint:  DefaultSheetsEndpoint,
		UpstreamTimeout: Duration{10 * time.Second},
		RetryBackoff:    Duration{500 * time.Millisecond},
		DatabaseDriver:  "postgres",
		TokenCache:      TokenCacheNone,
		RateLimitRPS:    1,
		RateLimitBurst:  5,
		CORSAllowOrigin: "*",
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, an optional TOML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &cfg.Port)
	str("GOOGLE_SERVICE_ACCOUNT_EMAIL", &cfg.ServiceAccount.ClientEmail)
	str("GOOGLE_PRIVATE_KEY", &cfg.ServiceAccount.PrivateKey)
	str("SPREADSHEET_ID", &cfg.SpreadsheetID)
	str("SHEET_NAME", &cfg.SheetName)
	str("GOOGLE_TOKEN_URL", &cfg.TokenURL)
	str("SHEETS_ENDPOINT", &cfg.SheetsEndpoint)
	str("DATABASE_DRIVER", &cfg.DatabaseDriver)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("TOKEN_CACHE", &cfg.TokenCache)
	str("ADMIN_TOKEN", &cfg.AdminToken)
	str("CORS_ALLOW_ORIGIN", &cfg.CORSAllowOrigin)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		cfg.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}

	durations := map[string]*Duration{
		"UPSTREAM_TIMEOUT": &cfg.UpstreamTimeout,
		"RETRY_BACKOFF":    &cfg.RetryBackoff,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}

	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = n
	}
	return nil
}

// Validate rejects settings the server cannot start with. Missing Google
// credentials are not checked here; they fail individual submissions.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.SpreadsheetID == "" || c.SheetName == "" {
		return fmt.Errorf("spreadsheet id and sheet name must be set")
	}
	if c.UpstreamTimeout.Duration <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.UpstreamTimeout)
	}
	if c.RetryBackoff.Duration < 0 {
		return fmt.Errorf("retry backoff must not be negative, got %s", c.RetryBackoff)
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	switch strings.ToLower(c.TokenCache) {
	case "", TokenCacheNone:
	case TokenCacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("token cache %q requires REDIS_URL", c.TokenCache)
		}
	default:
		return fmt.Errorf("unsupported token cache %q", c.TokenCache)
	}
	for _, p := range c.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			return err
		}
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst == 0 {
		return fmt.Errorf("rate limit burst must be at least 1 when rate limiting is on")
	}
	return nil
}

// writeMargin is the time left after the submission deadline for the
// handler to encode and flush its response.
const writeMargin = 5 * time.Second

// SubmitTimeout bounds one whole submission: a token exchange and an append,
// each allowed two attempts and one backoff.
func (c Config) SubmitTimeout() time.Duration {
	perCall := 2*c.UpstreamTimeout.Duration + c.RetryBackoff.Duration
	return 2 * perCall
}

// WriteTimeout is the HTTP server write timeout. It stays above
// SubmitTimeout so a failed submission still gets its 500 response.
func (c Config) WriteTimeout() time.Duration {
	return c.SubmitTimeout() + writeMargin
}

// ParseProxy parses a trusted proxy entry, either a CIDR or a single IP.
func ParseProxy(s string) (*net.IPNet, error) {
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", s, err)
		}
		return n, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid trusted proxy %q", s)
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// RedisTokenCache reports whether minted tokens should be cached in Redis.
func (c Config) RedisTokenCache() bool {
	return strings.EqualFold(c.TokenCache, TokenCacheRedis)
}
