// Package vault is the only place where credential secrets are decrypted.
//
// Store maps (owner, record, field) to an AES-GCM sealed blob via crypto.Box
// and keeps nothing decrypted between calls. Storage errors marked transient
// are retried once; a second failure surfaces as ErrStorageUnavailable.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

var (
	// ErrNotFound indicates that the record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrForbidden indicates that the record belongs to another owner
	ErrForbidden = errors.New("record belongs to another owner")

	// ErrDecryptionFailed indicates a tag mismatch: tampering or a wrong key
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrStorageUnavailable indicates that storage kept failing after a retry
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConflict indicates a concurrent modification of the record
	ErrConflict = errors.New("record was modified concurrently")
)

// DefaultRetryDelay is the pause before the single retry of a transient error.
const DefaultRetryDelay = 50 * time.Millisecond

// Store is the SecretStore.
type Store struct {
	box        *crypto.Box
	creds      storage.CredentialStorage
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) { s.retryDelay = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store.
func New(box *crypto.Box, creds storage.CredentialStorage, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		box:        box,
		creds:      creds,
		logger:     logger,
		now:        time.Now,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seal encrypts plaintext for (ownerID, recordID, field) without persisting it.
func (s *Store) Seal(ownerID, recordID, field string, plaintext []byte) (*models.EncryptedRecord, error) {
	sealed, err := s.box.Seal(identity(ownerID, recordID, field), plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal %s: %w", field, err)
	}
	return &models.EncryptedRecord{
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Tag:        sealed.Tag,
	}, nil
}

// Open decrypts a record already loaded from storage. Every failure is
// logged as a security event with identifiers only and returned as
// ErrDecryptionFailed.
func (s *Store) Open(ownerID, recordID, field string, rec *models.EncryptedRecord) ([]byte, error) {
	var sealed *crypto.Sealed
	if rec != nil {
		sealed = &crypto.Sealed{Ciphertext: rec.Ciphertext, Nonce: rec.Nonce, Tag: rec.Tag}
	}

	plaintext, err := s.box.Open(identity(ownerID, recordID, field), sealed)
	if err != nil {
		s.logger.Error("decryption failed",
			"event", "security.decryption_failed",
			"owner_id", ownerID,
			"record_id", recordID,
			"field", field,
		)
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// Load returns the credential after checking that ownerID owns it.
func (s *Store) Load(ctx context.Context, ownerID, recordID string) (*models.Credential, error) {
	var c *models.Credential

	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.creds.GetCredential(ctx, recordID)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if c.OwnerID != ownerID {
		s.logger.Warn("access to foreign record denied",
			"event", "security.forbidden",
			"owner_id", ownerID,
			"record_id", recordID,
		)
		return nil, ErrForbidden
	}

	return c, nil
}

// Put seals plaintext as the password of an existing credential and stores
// it with an optimistic version check.
func (s *Store) Put(ctx context.Context, ownerID, recordID string, plaintext []byte) (*models.EncryptedRecord, error) {
	c, err := s.Load(ctx, ownerID, recordID)
	if err != nil {
		return nil, err
	}

	rec, err := s.Seal(ownerID, recordID, crypto.FieldPassword, plaintext)
	if err != nil {
		return nil, err
	}

	c.Password = rec
	c.UpdatedAt = s.now().UTC()

	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}

	return rec, nil
}

// Get decrypts the password of a credential owned by ownerID.
func (s *Store) Get(ctx context.Context, ownerID, recordID string) ([]byte, error) {
	return s.Reveal(ctx, ownerID, recordID, crypto.FieldPassword)
}

// Reveal decrypts one field of a credential owned by ownerID.
// A field that was never set is reported as ErrNotFound.
func (s *Store) Reveal(ctx context.Context, ownerID, recordID, field string) ([]byte, error) {
	c, err := s.Load(ctx, ownerID, recordID)
	if err != nil {
		return nil, err
	}

	var rec *models.EncryptedRecord
	switch field {
	case crypto.FieldPassword:
		rec = c.Password
	case crypto.FieldTOTP:
		if !c.TOTPEnabled {
			return nil, ErrNotFound
		}
		rec = c.TOTPSecret
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}

	return s.Open(ownerID, recordID, field, rec)
}

// Create stores a new credential.
func (s *Store) Create(ctx context.Context, c *models.Credential) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.creds.CreateCredential(ctx, c)
	})
}

// Save stores a modified credential with an optimistic version check.
func (s *Store) Save(ctx context.Context, c *models.Credential) error {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.creds.UpdateCredential(ctx, c)
	})
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return ErrConflict
	case errors.Is(err, storage.ErrCredentialNotFound):
		return ErrNotFound
	}
	return err
}

// withRetry повторяет op один раз при временной ошибке хранилища
func (s *Store) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	delay := s.retryDelay
	backoff := retry.WithMaxRetries(1, retry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if errors.Is(err, storage.ErrTransient) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	if errors.Is(err, storage.ErrTransient) {
		s.logger.Warn("storage unavailable after retry", "error", err)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return err
}

func identity(ownerID, recordID, field string) crypto.RecordIdentity {
	return crypto.RecordIdentity{OwnerID: ownerID, RecordID: recordID, Field: field}
}
