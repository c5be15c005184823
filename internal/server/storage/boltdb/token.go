package boltdb

import (
	"context"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// CreateSession stores a new session
func (s *Storage) CreateSession(ctx context.Context, session *models.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sessions, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		return putJSON(sessions, session.ID, session)
	})
}

// GetSession retrieves session by ID
func (s *Storage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session := &models.Session{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		return getJSON(sessions, sessionID, session, storage.ErrSessionNotFound)
	})

	if err != nil {
		return nil, err
	}

	return session, nil
}

// DeleteSession deletes session by ID
func (s *Storage) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sessions, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}

		// Проверяем существование сессии
		if sessions.Get([]byte(sessionID)) == nil {
			return storage.ErrSessionNotFound
		}

		return sessions.Delete([]byte(sessionID))
	})
}

// DeleteAccountSessions deletes all sessions of an account except exceptID
func (s *Storage) DeleteAccountSessions(ctx context.Context, accountID, exceptID string) (int, error) {
	return s.deleteSessions(func(sess *models.Session) bool {
		return sess.AccountID == accountID && sess.ID != exceptID
	})
}

// DeleteExpiredSessions removes all sessions expired at now
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	return s.deleteSessions(func(sess *models.Session) bool {
		return sess.Expired(now)
	})
}

func (s *Storage) deleteSessions(match func(*models.Session) bool) (int, error) {
	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		deleted = 0
		return deleteWhere(tx, bucketSessions, func(v []byte) (bool, error) {
			var sess models.Session
			if err := jsonUnmarshal(v, &sess); err != nil {
				return false, err
			}
			if match(&sess) {
				deleted++
				return true, nil
			}
			return false, nil
		})
	})

	if err != nil {
		return 0, err
	}

	return deleted, nil
}
