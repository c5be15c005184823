// Package sharing lets an owner hand an independent copy of one credential
// to another account through an invite token.
//
// On share the secrets are re-sealed under the invite's own record identity,
// so nothing readable by the recipient exists until accept. Accept re-seals
// them under the recipient's new credential and, in one storage transaction,
// flips the invite from pending and inserts the copy. An invite is resolved
// exactly once.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
	"github.com/iudanet/authron/internal/server/vault"
	"github.com/iudanet/authron/internal/validation"
)

// DefaultInviteTTL is how long an invite can be accepted.
const DefaultInviteTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken indicates an unknown invite or one addressed to someone else
	ErrInvalidToken = errors.New("invalid invite token")

	// ErrAlreadyResolved indicates that the invite is no longer pending
	ErrAlreadyResolved = errors.New("invite already resolved")

	// ErrExpired indicates that the invite's acceptance window has passed
	ErrExpired = errors.New("invite expired")

	// ErrSelfShare indicates that sender and recipient are the same account
	ErrSelfShare = errors.New("cannot share with yourself")
)

// Service is the SharingProtocol.
type Service struct {
	vault    *vault.Store
	accounts storage.AccountStorage
	shares   storage.ShareStorage
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithInviteTTL overrides DefaultInviteTTL.
func WithInviteTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// New creates a Service.
func New(store *vault.Store, accounts storage.AccountStorage, shares storage.ShareStorage, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		vault:    store,
		accounts: accounts,
		shares:   shares,
		logger:   logger,
		now:      time.Now,
		ttl:      DefaultInviteTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Share creates a pending invite for recipientEmail. The recipient does not
// need an account yet.
func (s *Service) Share(ctx context.Context, senderID, credentialID, recipientEmail string) (*models.ShareInvite, error) {
	recipientEmail = validation.NormalizeEmail(recipientEmail)
	if err := validation.ValidateEmail(recipientEmail); err != nil {
		return nil, err
	}

	sender, err := s.account(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender.Email == recipientEmail {
		return nil, ErrSelfShare
	}

	c, err := s.vault.Load(ctx, senderID, credentialID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	invite := &models.ShareInvite{
		Token:          crypto.RandomToken(32),
		CredentialID:   c.ID,
		SenderID:       sender.ID,
		SenderEmail:    sender.Email,
		RecipientEmail: recipientEmail,
		Title:          c.Title,
		Username:       c.Username,
		Website:        c.Website,
		Status:         models.ShareStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}

	invite.Password, err = s.reseal(c.OwnerID, c.ID, invite.SenderID, inviteRecordID(invite.Token), crypto.FieldPassword, c.Password)
	if err != nil {
		return nil, err
	}
	if c.TOTPEnabled {
		invite.TOTPSecret, err = s.reseal(c.OwnerID, c.ID, invite.SenderID, inviteRecordID(invite.Token), crypto.FieldTOTP, c.TOTPSecret)
		if err != nil {
			return nil, err
		}
	}

	if err := s.shares.CreateInvite(ctx, invite); err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}

	s.logger.InfoContext(ctx, "credential shared",
		slog.String("event", "share.created"),
		slog.String("sender_id", sender.ID),
		slog.String("credential_id", c.ID))

	return invite, nil
}

// ListPending returns live invites addressed to the account, newest first.
func (s *Service) ListPending(ctx context.Context, accountID string) ([]*models.ShareInvite, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	invites, err := s.shares.ListPendingInvites(ctx, account.Email, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	return invites, nil
}

// Stats counts invites sent by, accepted by and pending for the account.
func (s *Service) Stats(ctx context.Context, accountID string) (models.ShareStats, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return models.ShareStats{}, err
	}

	stats, err := s.shares.InviteStats(ctx, account.ID, account.Email, s.now().UTC())
	if err != nil {
		return models.ShareStats{}, fmt.Errorf("failed to count invites: %w", err)
	}
	return stats, nil
}

// Accept copies the shared credential into the recipient's vault as a new,
// independent record in category "Shared".
func (s *Service) Accept(ctx context.Context, token, recipientID string) (models.CredentialSummary, error) {
	recipient, invite, err := s.pendingInvite(ctx, token, recipientID)
	if err != nil {
		return models.CredentialSummary{}, err
	}

	now := s.now().UTC()
	grant := &models.Credential{
		ID:        uuid.New().String(),
		OwnerID:   recipient.ID,
		Title:     sharedTitle(invite.Title, invite.SenderEmail),
		Username:  invite.Username,
		Website:   invite.Website,
		Category:  models.SharedCategory,
		CreatedAt: now,
		UpdatedAt: now,
	}

	grant.Password, err = s.reseal(invite.SenderID, inviteRecordID(token), grant.OwnerID, grant.ID, crypto.FieldPassword, invite.Password)
	if err != nil {
		return models.CredentialSummary{}, err
	}
	if invite.TOTPSecret != nil {
		grant.TOTPSecret, err = s.reseal(invite.SenderID, inviteRecordID(token), grant.OwnerID, grant.ID, crypto.FieldTOTP, invite.TOTPSecret)
		if err != nil {
			return models.CredentialSummary{}, err
		}
		grant.TOTPEnabled = true
	}

	if err := s.resolve(ctx, token, models.ShareStatusAccepted, now, grant); err != nil {
		return models.CredentialSummary{}, err
	}

	s.logger.InfoContext(ctx, "share accepted",
		slog.String("event", "share.accepted"),
		slog.String("recipient_id", recipient.ID),
		slog.String("credential_id", grant.ID))

	grant.Version = 1
	return grant.Summary(), nil
}

// Reject closes the invite without copying anything.
func (s *Service) Reject(ctx context.Context, token, recipientID string) error {
	recipient, _, err := s.pendingInvite(ctx, token, recipientID)
	if err != nil {
		return err
	}

	if err := s.resolve(ctx, token, models.ShareStatusRejected, s.now().UTC(), nil); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "share rejected",
		slog.String("event", "share.rejected"),
		slog.String("recipient_id", recipient.ID))

	return nil
}

// pendingInvite загружает приглашение и проверяет получателя, статус и срок
func (s *Service) pendingInvite(ctx context.Context, token, recipientID string) (*models.Account, *models.ShareInvite, error) {
	recipient, err := s.account(ctx, recipientID)
	if err != nil {
		return nil, nil, err
	}

	invite, err := s.shares.GetInvite(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrInviteNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("failed to get invite: %w", err)
	}

	if invite.RecipientEmail != recipient.Email {
		s.logger.WarnContext(ctx, "invite used by another account",
			slog.String("event", "security.invite_mismatch"),
			slog.String("account_id", recipient.ID))
		return nil, nil, ErrInvalidToken
	}

	if invite.Status != models.ShareStatusPending {
		return nil, nil, ErrAlreadyResolved
	}

	now := s.now().UTC()
	if invite.Expired(now) {
		if err := s.resolve(ctx, token, models.ShareStatusExpired, now, nil); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrExpired
	}

	return recipient, invite, nil
}

func (s *Service) resolve(ctx context.Context, token string, to models.ShareStatus, at time.Time, grant *models.Credential) error {
	err := s.shares.ResolveInvite(ctx, token, models.ShareStatusPending, to, at, grant)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrInviteNotPending):
		return ErrAlreadyResolved
	case errors.Is(err, storage.ErrInviteNotFound):
		return ErrInvalidToken
	}
	return fmt.Errorf("failed to resolve invite: %w", err)
}

// reseal opens rec under one identity and seals it under another.
// The plaintext is cleared before returning.
func (s *Service) reseal(fromOwner, fromRecord, toOwner, toRecord, field string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error) {
	plaintext, err := s.vault.Open(fromOwner, fromRecord, field, rec)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)

	return s.vault.Seal(toOwner, toRecord, field, plaintext)
}

func (s *Service) account(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// sharedTitle добавляет к названию отправителя, обрезая название так,
// чтобы результат проходил validation.ValidateTitle
func sharedTitle(title, senderEmail string) string {
	suffix := fmt.Sprintf(" (shared by %s)", senderEmail)
	budget := validation.MaxFieldLen - len(suffix)
	if budget <= 0 {
		return title
	}
	if len(title) > budget {
		cut := budget
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	return title + suffix
}

func inviteRecordID(token string) string {
	return "invite-" + token
}
