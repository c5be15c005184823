package storage

import (
	"context"
	"time"

	"github.com/iudanet/authron/internal/models"
)

// SessionStorage defines interface for session persistence
type SessionStorage interface {
	// CreateSession stores a new session
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession retrieves session by ID. Expired sessions are returned as is,
	// the caller decides on expiry.
	// Returns ErrSessionNotFound if session doesn't exist
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// DeleteSession deletes session by ID
	// Returns ErrSessionNotFound if session doesn't exist
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteAccountSessions deletes all sessions of an account except exceptID
	// (empty exceptID deletes all). Returns number of deleted sessions
	DeleteAccountSessions(ctx context.Context, accountID, exceptID string) (int, error)

	// DeleteExpiredSessions removes sessions expired at now
	// Returns number of deleted sessions
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}
