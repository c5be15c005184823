package config

import (
	"flag"
	"fmt"
	"io"
)

// parseFlags overlays command-line flags.
//
// Supported flags:
//
//	-a string           listen address (e.g. ":8080")
//	-storage string     storage backend: sqlite or bolt
//	-d string           database file path
//	-l string           log level: debug, info, warn, error
//	-session-ttl dur    session lifetime
//	-invite-ttl dur     share invite lifetime
//	-login-rate int     login requests per window and client IP
//	-trust-proxy        take client IP from X-Forwarded-For
//	-version            print version information and exit
func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("authron-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.Address, "a", c.Address, "address and port to run server")
	fs.StringVar(&c.StorageBackend, "storage", c.StorageBackend, "storage backend (sqlite|bolt)")
	fs.StringVar(&c.DatabasePath, "d", c.DatabasePath, "database file path")
	fs.StringVar(&c.LogLevel, "l", c.LogLevel, "log level (debug|info|warn|error)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "session lifetime")
	fs.DurationVar(&c.InviteTTL, "invite-ttl", c.InviteTTL, "share invite lifetime")
	fs.IntVar(&c.LoginRateLimit, "login-rate", c.LoginRateLimit, "login requests per window and client IP")
	fs.BoolVar(&c.TrustProxy, "trust-proxy", c.TrustProxy, "take client IP from X-Forwarded-For")
	fs.BoolVar(&c.ShowVersion, "version", false, "show version information")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return nil
}
