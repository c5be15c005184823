// Package config handles configuration for the server, layering defaults,
// an optional .env file, AUTHRON_* environment variables and command-line flags.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// MasterKeySize is the required master key length in bytes.
const MasterKeySize = 32

// minJWTSecretLen keeps HS256 secrets out of brute-force range.
const minJWTSecretLen = 32

// Config holds runtime settings for the Authron server.
//
// MasterKey and JWTSecret are read from the environment (or .env) only, so
// that they never show up in the process list.
type Config struct {
	Address         string
	StorageBackend  string
	DatabasePath    string
	JWTSecret       string
	LogLevel        string
	SentryDSN       string
	Environment     string
	MasterKey       []byte
	SessionTTL      time.Duration
	PendingTTL      time.Duration
	InviteTTL       time.Duration
	SweepInterval   time.Duration
	LoginRateWindow time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TOTPSkew        int
	MaxAttempts     int
	LoginRateLimit  int
	TrustProxy      bool
	ShowVersion     bool
}

// LoadDefaults populates Config with development defaults.
// Secrets have no defaults.
func (c *Config) LoadDefaults() {
	c.Address = ":8080"
	c.StorageBackend = BackendSQLite
	c.DatabasePath = "authron.db"
	c.LogLevel = "info"
	c.Environment = "development"
	c.SessionTTL = 30 * time.Minute
	c.PendingTTL = 5 * time.Minute
	c.InviteTTL = 7 * 24 * time.Hour
	c.SweepInterval = time.Minute
	c.LoginRateLimit = 10
	c.LoginRateWindow = time.Minute
	c.ReadTimeout = 10 * time.Second
	c.WriteTimeout = 10 * time.Second
	c.IdleTimeout = 60 * time.Second
	c.ShutdownTimeout = 10 * time.Second
	c.TOTPSkew = 1
	c.MaxAttempts = 5
}

// Load builds a Config by applying defaults, then the optional .env file
// (AUTHRON_ENV_FILE, ".env" by default), then AUTHRON_* environment variables
// and finally command-line flags. The result is validated unless -version
// was given.
func Load(args []string) (*Config, error) {
	if err := loadDotEnv(envOr(os.LookupEnv, "AUTHRON_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.LoadDefaults()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case BackendSQLite, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q (want %s or %s)", c.StorageBackend, BackendSQLite, BackendBolt))
	}

	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path cannot be empty"))
	}
	if len(c.MasterKey) != MasterKeySize {
		errs = append(errs, fmt.Errorf("AUTHRON_MASTER_KEY must decode to %d bytes", MasterKeySize))
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("AUTHRON_JWT_SECRET must be at least %d characters", minJWTSecretLen))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"session TTL", c.SessionTTL},
		{"pending login TTL", c.PendingTTL},
		{"invite TTL", c.InviteTTL},
		{"sweep interval", c.SweepInterval},
		{"login rate window", c.LoginRateWindow},
		{"shutdown timeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}

	if c.TOTPSkew < 0 {
		errs = append(errs, errors.New("TOTP skew cannot be negative"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max 2FA attempts must be positive"))
	}
	if c.LoginRateLimit <= 0 {
		errs = append(errs, errors.New("login rate limit must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// String returns a printable form of the configuration with secrets redacted.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "address=%s storage=%s db=%s", c.Address, c.StorageBackend, c.DatabasePath)
	fmt.Fprintf(&b, " master_key=%s jwt_secret=%s sentry_dsn=%s", redact(len(c.MasterKey) > 0), redact(c.JWTSecret != ""), redact(c.SentryDSN != ""))
	fmt.Fprintf(&b, " session_ttl=%s pending_ttl=%s invite_ttl=%s", c.SessionTTL, c.PendingTTL, c.InviteTTL)
	fmt.Fprintf(&b, " totp_skew=%d max_attempts=%d", c.TOTPSkew, c.MaxAttempts)
	fmt.Fprintf(&b, " login_rate=%d/%s trust_proxy=%t", c.LoginRateLimit, c.LoginRateWindow, c.TrustProxy)
	fmt.Fprintf(&b, " log_level=%s env=%s", c.LogLevel, c.Environment)
	return b.String()
}

func redact(set bool) string {
	if set {
		return "[REDACTED]"
	}
	return "[unset]"
}

// decodeMasterKey accepts standard or URL-safe base64, padded or not.
func decodeMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) != MasterKeySize {
				return nil, fmt.Errorf("AUTHRON_MASTER_KEY must decode to %d bytes, got %d", MasterKeySize, len(key))
			}
			return key, nil
		}
	}
	return nil, errors.New("AUTHRON_MASTER_KEY is not valid base64")
}
