package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"companion-auth/internal/ratelimit"
	"companion-auth/internal/security"
)

const (
	EnvDevelopment = "development"

	// Development fallbacks. Validate rejects them in every other environment.
	DevTokenSecret    = "dev-only-token-secret-change-me-0123456789"
	DevPasswordPepper = "dev-only-password-pepper-change-me-01234"

	minSecretLength = 32

	maxArgon2Time      = 16
	maxArgon2MemoryKiB = 1 << 20
	maxArgon2Threads   = 255
)

type Config struct {
	AppEnv string

	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ShutdownTimeout    time.Duration
	RequestTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	RedisURL    string

	TokenSecret    string
	PasswordPepper string
	TokenIssuer    string
	TokenAudience  string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	Argon2         security.Argon2Params

	GuestRateLimit   ratelimit.Policy
	LoginRateLimit   ratelimit.Policy
	ClaimRateLimit   ratelimit.Policy
	RefreshRateLimit ratelimit.Policy
	GeneralRateRPM   int

	CORSOrigins        []string
	CookiePrefix       string
	CookieSecure       bool
	CookieDomain       string
	StrictSessionCheck bool
	OperatorEmails     []string
	TrustProxyHeaders  bool

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", EnvDevelopment)
	dev := appEnv == EnvDevelopment

	cfg := &Config{
		AppEnv:             appEnv,
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 10*time.Second),
		DatabaseURL:        getEnv("DATABASE_URL", "sqlite:./companion-auth.db"),
		DBMaxConns:         int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:         int32(getInt("DB_MIN_CONNS", 1)),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		TokenSecret:        strings.TrimSpace(os.Getenv("AUTH_TOKEN_SECRET")),
		PasswordPepper:     strings.TrimSpace(os.Getenv("PASSWORD_PEPPER")),
		TokenIssuer:        getEnv("TOKEN_ISSUER", "companion-auth"),
		TokenAudience:      getEnv("TOKEN_AUDIENCE", "companion-app"),
		AccessTTL:          time.Duration(getInt("ACCESS_TOKEN_TTL_MINUTES", 15)) * time.Minute,
		RefreshTTL:         time.Duration(getInt("REFRESH_TOKEN_TTL_DAYS", 90)) * 24 * time.Hour,
		GeneralRateRPM:     getInt("GENERAL_RATE_LIMIT_RPM", 300),
		CORSOrigins:        splitCSV(os.Getenv("CORS_ORIGINS")),
		CookiePrefix:       strings.TrimSpace(os.Getenv("COOKIE_PREFIX")),
		CookieSecure:       getBool("COOKIE_SECURE", true),
		CookieDomain:       strings.TrimSpace(os.Getenv("COOKIE_DOMAIN")),
		StrictSessionCheck: getBool("STRICT_SESSION_CHECK", false),
		OperatorEmails:     splitCSV(os.Getenv("OPERATOR_EMAILS")),
		TrustProxyHeaders:  getBool("TRUST_PROXY_HEADERS", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}

	if dev {
		if cfg.TokenSecret == "" {
			cfg.TokenSecret = DevTokenSecret
		}
		if cfg.PasswordPepper == "" {
			cfg.PasswordPepper = DevPasswordPepper
		}
	}

	var errs []error
	cfg.Argon2 = security.Argon2Params{
		Time:    uint32(getBoundedInt("ARGON2_TIME", int(security.DefaultArgon2Params.Time), 1, maxArgon2Time, &errs)),
		Memory:  uint32(getBoundedInt("ARGON2_MEMORY_KIB", int(security.DefaultArgon2Params.Memory), 8, maxArgon2MemoryKiB, &errs)),
		Threads: uint8(getBoundedInt("ARGON2_THREADS", int(security.DefaultArgon2Params.Threads), 1, maxArgon2Threads, &errs)),
	}
	cfg.GuestRateLimit = getPolicy("RATE_LIMIT_GUEST", "10/60s", &errs)
	cfg.LoginRateLimit = getPolicy("RATE_LIMIT_LOGIN", "20/60s", &errs)
	cfg.ClaimRateLimit = getPolicy("RATE_LIMIT_CLAIM", "5/60s", &errs)
	cfg.RefreshRateLimit = getPolicy("RATE_LIMIT_REFRESH", "60/60s", &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL cannot be empty")
	}

	if c.AccessTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}

	if c.RefreshTTL <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL_DAYS must be positive")
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}

	if err := validateArgon2(c.Argon2); err != nil {
		return err
	}

	if c.TokenSecret == "" {
		return fmt.Errorf("AUTH_TOKEN_SECRET is required")
	}

	if c.PasswordPepper == "" {
		return fmt.Errorf("PASSWORD_PEPPER is required")
	}

	if !c.IsDevelopment() {
		if err := checkProductionSecret("AUTH_TOKEN_SECRET", c.TokenSecret, DevTokenSecret); err != nil {
			return err
		}
		if err := checkProductionSecret("PASSWORD_PEPPER", c.PasswordPepper, DevPasswordPepper); err != nil {
			return err
		}
		if c.TokenSecret == c.PasswordPepper {
			return fmt.Errorf("AUTH_TOKEN_SECRET and PASSWORD_PEPPER must differ")
		}
	}

	return nil
}

// validateArgon2 bounds the hashing cost so a typo cannot make every
// Hash call allocate gigabytes.
func validateArgon2(p security.Argon2Params) error {
	if p.Time < 1 || p.Time > maxArgon2Time {
		return fmt.Errorf("ARGON2_TIME must be between 1 and %d", maxArgon2Time)
	}
	if p.Threads < 1 {
		return fmt.Errorf("ARGON2_THREADS must be between 1 and %d", maxArgon2Threads)
	}
	if p.Memory < 8*uint32(p.Threads) || p.Memory > maxArgon2MemoryKiB {
		return fmt.Errorf("ARGON2_MEMORY_KIB must be between 8*ARGON2_THREADS and %d", maxArgon2MemoryKiB)
	}
	return nil
}

func checkProductionSecret(name string, value string, devDefault string) error {
	if len(value) < minSecretLength {
		return fmt.Errorf("%s must be at least %d characters outside %s", name, minSecretLength, EnvDevelopment)
	}
	if value == devDefault {
		return fmt.Errorf("%s must not use the development default", name)
	}
	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

// getBoundedInt reads an integer that must fall within [minV, maxV]. Values
// outside the range or not parseable are reported through errs.
func getBoundedInt(key string, fallback int, minV int, maxV int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return fallback
	}
	if v < minV || v > maxV {
		*errs = append(*errs, fmt.Errorf("%s: %d is outside [%d, %d]", key, v, minV, maxV))
		return fallback
	}

	return v
}

func getPolicy(key string, fallback string, errs *[]error) ratelimit.Policy {
	policy, err := ratelimit.ParsePolicy(getEnv(key, fallback))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return policy
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
