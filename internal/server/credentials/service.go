// Package credentials implements owner-scoped credential management on top
// of the vault: CRUD over summaries, one-shot password reveal and
// per-credential TOTP codes.
//
// Ownership failures surface as vault.ErrForbidden, missing records as
// vault.ErrNotFound; callers facing clients collapse both.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
	"github.com/iudanet/authron/internal/server/vault"
	"github.com/iudanet/authron/internal/totp"
	"github.com/iudanet/authron/internal/validation"
)

// ErrTOTPNotEnabled indicates that the credential has no TOTP secret
var ErrTOTPNotEnabled = errors.New("totp is not enabled for this credential")

const (
	// ImportedCategory is assigned to imported entries without a category.
	ImportedCategory = "Imported"
	// MaxImportEntries ограничивает размер одного импорта
	MaxImportEntries = 1000
)

// ImportResult reports how many entries were stored and how many were
// skipped as duplicates of an existing (title, username) pair.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// CreateInput holds plaintext fields of a new credential.
type CreateInput struct {
	Title      string
	Username   string
	Password   string
	Website    string
	Category   string
	TOTPSecret string // необязательный base32 секрет
	Favorite   bool
}

// UpdateInput replaces the editable fields of a credential.
// Password is re-sealed only when set. Version 0 skips the client-side
// version check; the storage check still applies.
type UpdateInput struct {
	Password *string
	Title    string
	Username string
	Website  string
	Category string
	Version  int64
	Favorite bool
}

// Service manages credentials of their owners.
type Service struct {
	vault  *vault.Store
	creds  storage.CredentialStorage
	engine *totp.Engine
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(store *vault.Store, creds storage.CredentialStorage, engine *totp.Engine, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		vault:  store,
		creds:  creds,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create seals the secrets and stores a new credential.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (models.CredentialSummary, error) {
	if err := validateFields(in.Title, in.Username, in.Website, in.Category); err != nil {
		return models.CredentialSummary{}, err
	}
	if err := validation.ValidateField("password", in.Password); err != nil {
		return models.CredentialSummary{}, err
	}

	now := s.now().UTC()
	c := &models.Credential{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     in.Title,
		Username:  in.Username,
		Website:   in.Website,
		Category:  in.Category,
		Favorite:  in.Favorite,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rec, err := s.vault.Seal(ownerID, c.ID, crypto.FieldPassword, []byte(in.Password))
	if err != nil {
		return models.CredentialSummary{}, err
	}
	c.Password = rec

	if in.TOTPSecret != "" {
		if err := s.sealTOTP(c, in.TOTPSecret); err != nil {
			return models.CredentialSummary{}, err
		}
	}

	if err := s.vault.Create(ctx, c); err != nil {
		return models.CredentialSummary{}, fmt.Errorf("failed to create credential: %w", err)
	}

	s.logger.InfoContext(ctx, "credential created",
		slog.String("owner_id", ownerID),
		slog.String("credential_id", c.ID))

	return c.Summary(), nil
}

// Import stores a batch of plaintext entries. Every entry is validated and
// sealed before anything is written, so a bad entry rejects the whole batch.
// Entries whose (title, username) already exists, in the vault or earlier in
// the batch, are skipped. If storage fails midway the entries already
// written are removed again.
func (s *Service) Import(ctx context.Context, ownerID string, entries []CreateInput) (ImportResult, error) {
	if len(entries) == 0 {
		return ImportResult{}, fmt.Errorf("%w: nothing to import", validation.ErrInvalid)
	}
	if len(entries) > MaxImportEntries {
		return ImportResult{}, fmt.Errorf("%w: at most %d entries per import", validation.ErrInvalid, MaxImportEntries)
	}

	existing, err := s.creds.ListCredentials(ctx, ownerID, models.CredentialFilter{})
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to list credentials: %w", err)
	}
	seen := make(map[[2]string]struct{}, len(existing)+len(entries))
	for _, c := range existing {
		seen[[2]string{c.Title, c.Username}] = struct{}{}
	}

	now := s.now().UTC()
	var (
		result ImportResult
		batch  []*models.Credential
	)
	for i, in := range entries {
		if in.Category == "" {
			in.Category = ImportedCategory
		}
		if err := validateFields(in.Title, in.Username, in.Website, in.Category); err != nil {
			return ImportResult{}, fmt.Errorf("entry %d: %w", i, err)
		}
		if err := validation.ValidateField("password", in.Password); err != nil {
			return ImportResult{}, fmt.Errorf("entry %d: %w", i, err)
		}

		key := [2]string{in.Title, in.Username}
		if _, dup := seen[key]; dup {
			result.Skipped++
			continue
		}
		seen[key] = struct{}{}

		c := &models.Credential{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Title:     in.Title,
			Username:  in.Username,
			Website:   in.Website,
			Category:  in.Category,
			Favorite:  in.Favorite,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if c.Password, err = s.vault.Seal(ownerID, c.ID, crypto.FieldPassword, []byte(in.Password)); err != nil {
			return ImportResult{}, err
		}
		if in.TOTPSecret != "" {
			if err := s.sealTOTP(c, in.TOTPSecret); err != nil {
				return ImportResult{}, fmt.Errorf("entry %d: %w", i, err)
			}
		}
		batch = append(batch, c)
	}

	for i, c := range batch {
		if err := s.vault.Create(ctx, c); err != nil {
			s.rollbackImport(ctx, batch[:i])
			return ImportResult{}, fmt.Errorf("failed to import credential: %w", err)
		}
	}
	result.Imported = len(batch)

	s.logger.InfoContext(ctx, "credentials imported",
		slog.String("owner_id", ownerID),
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped))

	return result, nil
}

// rollbackImport удаляет уже записанные элементы неудачного импорта
func (s *Service) rollbackImport(ctx context.Context, created []*models.Credential) {
	for _, c := range created {
		if err := s.creds.DeleteCredential(ctx, c.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to roll back imported credential",
				slog.String("credential_id", c.ID),
				slog.Any("error", err))
		}
	}
}

// List returns summaries of the owner's credentials matching filter.
func (s *Service) List(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]models.CredentialSummary, error) {
	creds, err := s.creds.ListCredentials(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	out := make([]models.CredentialSummary, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Summary())
	}
	return out, nil
}

// Get returns the summary of one credential.
func (s *Service) Get(ctx context.Context, ownerID, credentialID string) (models.CredentialSummary, error) {
	c, err := s.vault.Load(ctx, ownerID, credentialID)
	if err != nil {
		return models.CredentialSummary{}, err
	}
	return c.Summary(), nil
}

// Update replaces the editable fields. Returns vault.ErrConflict when the
// credential was changed since in.Version.
func (s *Service) Update(ctx context.Context, ownerID, credentialID string, in UpdateInput) (models.CredentialSummary, error) {
	if err := validateFields(in.Title, in.Username, in.Website, in.Category); err != nil {
		return models.CredentialSummary{}, err
	}

	c, err := s.vault.Load(ctx, ownerID, credentialID)
	if err != nil {
		return models.CredentialSummary{}, err
	}

	if in.Version != 0 && in.Version != c.Version {
		return models.CredentialSummary{}, vault.ErrConflict
	}

	c.Title = in.Title
	c.Username = in.Username
	c.Website = in.Website
	c.Category = in.Category
	c.Favorite = in.Favorite

	if in.Password != nil {
		if err := validation.ValidateField("password", *in.Password); err != nil {
			return models.CredentialSummary{}, err
		}
		rec, err := s.vault.Seal(ownerID, c.ID, crypto.FieldPassword, []byte(*in.Password))
		if err != nil {
			return models.CredentialSummary{}, err
		}
		c.Password = rec
	}

	c.UpdatedAt = s.now().UTC()

	if err := s.vault.Save(ctx, c); err != nil {
		return models.CredentialSummary{}, err
	}

	return c.Summary(), nil
}

// SetFavorite toggles the favorite flag.
func (s *Service) SetFavorite(ctx context.Context, ownerID, credentialID string, favorite bool) (models.CredentialSummary, error) {
	c, err := s.vault.Load(ctx, ownerID, credentialID)
	if err != nil {
		return models.CredentialSummary{}, err
	}

	c.Favorite = favorite
	c.UpdatedAt = s.now().UTC()

	if err := s.vault.Save(ctx, c); err != nil {
		return models.CredentialSummary{}, err
	}

	return c.Summary(), nil
}

// Delete removes the credential. Shared copies held by others are unaffected.
func (s *Service) Delete(ctx context.Context, ownerID, credentialID string) error {
	if _, err := s.vault.Load(ctx, ownerID, credentialID); err != nil {
		return err
	}

	if err := s.creds.DeleteCredential(ctx, credentialID); err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return vault.ErrNotFound
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	s.logger.InfoContext(ctx, "credential deleted",
		slog.String("owner_id", ownerID),
		slog.String("credential_id", credentialID))

	return nil
}

// Reveal decrypts the password once and records the access time.
func (s *Service) Reveal(ctx context.Context, ownerID, credentialID string) (string, error) {
	plaintext, err := s.vault.Get(ctx, ownerID, credentialID)
	if err != nil {
		return "", err
	}

	s.touch(ctx, credentialID)

	return string(plaintext), nil
}

// SetupTOTP stores a new TOTP secret for the credential and enables codes.
func (s *Service) SetupTOTP(ctx context.Context, ownerID, credentialID, secret string) error {
	c, err := s.vault.Load(ctx, ownerID, credentialID)
	if err != nil {
		return err
	}

	if err := s.sealTOTP(c, secret); err != nil {
		return err
	}
	c.UpdatedAt = s.now().UTC()

	return s.vault.Save(ctx, c)
}

// TOTPCode decrypts the TOTP secret and returns the current code.
func (s *Service) TOTPCode(ctx context.Context, ownerID, credentialID string) (totp.Code, error) {
	c, err := s.vault.Load(ctx, ownerID, credentialID)
	if err != nil {
		return totp.Code{}, err
	}
	if !c.TOTPEnabled {
		return totp.Code{}, ErrTOTPNotEnabled
	}

	secret, err := s.vault.Open(ownerID, c.ID, crypto.FieldTOTP, c.TOTPSecret)
	if err != nil {
		return totp.Code{}, err
	}

	code, err := s.engine.CurrentCode(string(secret), s.now())
	if err != nil {
		return totp.Code{}, fmt.Errorf("failed to generate code: %w", err)
	}

	s.touch(ctx, credentialID)

	return code, nil
}

// DisableTOTP removes the TOTP secret.
func (s *Service) DisableTOTP(ctx context.Context, ownerID, credentialID string) error {
	c, err := s.vault.Load(ctx, ownerID, credentialID)
	if err != nil {
		return err
	}
	if !c.TOTPEnabled {
		return ErrTOTPNotEnabled
	}

	c.TOTPEnabled = false
	c.TOTPSecret = nil
	c.UpdatedAt = s.now().UTC()

	return s.vault.Save(ctx, c)
}

func (s *Service) sealTOTP(c *models.Credential, secret string) error {
	secret = totp.NormalizeSecret(secret)
	if err := totp.ValidateSecret(secret); err != nil {
		return fmt.Errorf("%w: %v", validation.ErrInvalid, err)
	}

	rec, err := s.vault.Seal(c.OwnerID, c.ID, crypto.FieldTOTP, []byte(secret))
	if err != nil {
		return err
	}

	c.TOTPSecret = rec
	c.TOTPEnabled = true
	return nil
}

// touch обновляет last_used_at; ошибка не прерывает запрос
func (s *Service) touch(ctx context.Context, credentialID string) {
	if err := s.creds.TouchCredential(ctx, credentialID, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to update last_used_at",
			slog.String("credential_id", credentialID),
			slog.Any("error", err))
	}
}

func validateFields(title, username, website, category string) error {
	if err := validation.ValidateTitle(title); err != nil {
		return err
	}
	if err := validation.ValidateField("username", username); err != nil {
		return err
	}
	if err := validation.ValidateField("website", website); err != nil {
		return err
	}
	return validation.ValidateField("category", category)
}
