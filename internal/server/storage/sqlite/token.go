package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// CreateSession stores a new session
func (s *Storage) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, account_id, issued_at, expires_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		toUnix(session.IssuedAt),
		toUnix(session.ExpiresAt),
	)

	if err != nil {
		return fmt.Errorf("failed to save session: %w", classify(err))
	}

	return nil
}

// GetSession retrieves session by ID
func (s *Storage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT id, account_id, issued_at, expires_at
		FROM sessions
		WHERE id = ?
	`

	session := &models.Session{}
	var issuedAt, expiresAt int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.AccountID,
		&issuedAt,
		&expiresAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", classify(err))
	}

	session.IssuedAt = fromUnix(issuedAt)
	session.ExpiresAt = fromUnix(expiresAt)

	return session, nil
}

// DeleteSession deletes session by ID
func (s *Storage) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}

// DeleteAccountSessions deletes all sessions of an account except exceptID
func (s *Storage) DeleteAccountSessions(ctx context.Context, accountID, exceptID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE account_id = ? AND id <> ?`,
		accountID, exceptID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account sessions: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// DeleteExpiredSessions removes all sessions expired at now
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toUnix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}
