package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(string) (string, bool)

// applyEnv overlays AUTHRON_* variables. Unset or empty variables keep the
// current value; malformed ones are an error.
func (c *Config) applyEnv(lookup lookupFunc) error {
	c.Address = envOr(lookup, "AUTHRON_ADDRESS", c.Address)
	c.StorageBackend = envOr(lookup, "AUTHRON_STORAGE", c.StorageBackend)
	c.DatabasePath = envOr(lookup, "AUTHRON_DB_PATH", c.DatabasePath)
	c.JWTSecret = envOr(lookup, "AUTHRON_JWT_SECRET", c.JWTSecret)
	c.LogLevel = envOr(lookup, "AUTHRON_LOG_LEVEL", c.LogLevel)
	c.SentryDSN = envOr(lookup, "AUTHRON_SENTRY_DSN", c.SentryDSN)
	c.Environment = envOr(lookup, "AUTHRON_ENV", c.Environment)

	if v := envOr(lookup, "AUTHRON_MASTER_KEY", ""); v != "" {
		key, err := decodeMasterKey(v)
		if err != nil {
			return err
		}
		c.MasterKey = key
	}

	durations := []struct {
		dst  *time.Duration
		name string
	}{
		{&c.SessionTTL, "AUTHRON_SESSION_TTL"},
		{&c.PendingTTL, "AUTHRON_PENDING_TTL"},
		{&c.InviteTTL, "AUTHRON_INVITE_TTL"},
		{&c.SweepInterval, "AUTHRON_SWEEP_INTERVAL"},
		{&c.LoginRateWindow, "AUTHRON_LOGIN_RATE_WINDOW"},
		{&c.ReadTimeout, "AUTHRON_READ_TIMEOUT"},
		{&c.WriteTimeout, "AUTHRON_WRITE_TIMEOUT"},
		{&c.IdleTimeout, "AUTHRON_IDLE_TIMEOUT"},
		{&c.ShutdownTimeout, "AUTHRON_SHUTDOWN_TIMEOUT"},
	}
	for _, d := range durations {
		if err := envDuration(lookup, d.name, d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		dst  *int
		name string
	}{
		{&c.TOTPSkew, "AUTHRON_TOTP_SKEW"},
		{&c.MaxAttempts, "AUTHRON_MAX_2FA_ATTEMPTS"},
		{&c.LoginRateLimit, "AUTHRON_LOGIN_RATE_LIMIT"},
	}
	for _, i := range ints {
		if err := envInt(lookup, i.name, i.dst); err != nil {
			return err
		}
	}

	return envBool(lookup, "AUTHRON_TRUST_PROXY", &c.TrustProxy)
}

func envOr(lookup lookupFunc, name, fallback string) string {
	value, ok := lookup(name)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envDuration(lookup lookupFunc, name string, dst *time.Duration) error {
	value := envOr(lookup, name, "")
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = parsed
	return nil
}

func envInt(lookup lookupFunc, name string, dst *int) error {
	value := envOr(lookup, name, "")
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = parsed
	return nil
}

func envBool(lookup lookupFunc, name string, dst *bool) error {
	value := strings.ToLower(envOr(lookup, name, ""))
	switch value {
	case "":
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("invalid %s: %q is not a boolean", name, value)
	}
	return nil
}
