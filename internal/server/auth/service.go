// Package auth implements the login state machine:
//
//	Anonymous -> Authenticated                          (2FA disabled)
//	Anonymous -> PasswordVerified -> Authenticated      (2FA enabled)
//
// Sessions live in storage and are referenced by a signed access token.
// Pending logins live in memory only. Expiry of both is checked at read time.
package auth

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

// accountRecordID is the record id under which the account 2FA secret is sealed.
// Credential ids are UUIDs, so the two never collide.
const accountRecordID = "account"

// Config holds the lifetimes and limits of the state machine.
type Config struct {
	SessionTTL  time.Duration
	PendingTTL  time.Duration
	MaxAttempts int // неверных 2FA кодов на один pending login
	TOTPSkew    int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:  30 * time.Minute,
		PendingTTL:  5 * time.Minute,
		MaxAttempts: 5,
		TOTPSkew:    totp.DefaultSkew,
	}
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email    string
	Username string
	FullName string
	Password string
}

// LoginResult is either a session (Token set) or a 2FA challenge
// (Requires2FA set, PendingLoginID to be passed to Verify2FA).
type LoginResult struct {
	ExpiresAt      time.Time
	Token          string
	SessionID      string
	PendingLoginID string
	Requires2FA    bool
}

// TOTPSetup is returned by Setup2FA for the authenticator app.
type TOTPSetup struct {
	Secret string
	URI    string
}

// Service is the AuthSessionMachine.
type Service struct {
	accounts storage.AccountStorage
	sessions storage.SessionStorage
	secrets  *vault.Store
	tokens   *TokenIssuer
	pending  *PendingStore
	engine   *totp.Engine
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(
	cfg Config,
	accounts storage.AccountStorage,
	sessions storage.SessionStorage,
	secrets *vault.Store,
	tokens *TokenIssuer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		accounts: accounts,
		sessions: sessions,
		secrets:  secrets,
		tokens:   tokens,
		pending:  NewPendingStore(cfg.PendingTTL, cfg.MaxAttempts),
		engine:   totp.New(cfg.TOTPSkew),
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new active account without 2FA.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	email := validation.NormalizeEmail(in.Email)

	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := validation.ValidateField("full_name", in.FullName); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     in.Username,
		FullName:     in.FullName,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAccountAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.InfoContext(ctx, "account registered", slog.String("account_id", account.ID))

	return account, nil
}

// Login verifies the password. Unknown emails and wrong passwords both
// return ErrInvalidCredentials after a full hash verification.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	account, err := s.accounts.GetAccountByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			// выравниваем время ответа с веткой "неверный пароль"
			_, _ = crypto.VerifyPassword(password, crypto.DummyHash())
			s.logger.WarnContext(ctx, "login failed", slog.String("event", "auth.login_failed"))
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("failed to get account: %w", err)
	}

	if err := s.checkPassword(ctx, account, password); err != nil {
		return LoginResult{}, err
	}

	if !account.IsActive {
		s.logger.WarnContext(ctx, "login to disabled account", slog.String("account_id", account.ID))
		return LoginResult{}, ErrAccountDisabled
	}

	now := s.now().UTC()

	if account.TOTPEnabled {
		pl := s.pending.Create(account.ID, now)
		s.logger.InfoContext(ctx, "password verified, 2FA required", slog.String("account_id", account.ID))
		return LoginResult{
			PendingLoginID: pl.ID,
			Requires2FA:    true,
			ExpiresAt:      pl.ExpiresAt,
		}, nil
	}

	return s.issueSession(ctx, account.ID, now)
}

// Verify2FA completes a pending login. A pending login is consumed exactly
// once; a missing, expired or already consumed one yields ErrExpired.
func (s *Service) Verify2FA(ctx context.Context, pendingID, code string) (LoginResult, error) {
	now := s.now().UTC()

	pl, ok := s.pending.Get(pendingID, now)
	if !ok {
		return LoginResult{}, ErrExpired
	}

	account, err := s.accounts.GetAccountByID(ctx, pl.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			s.pending.Consume(pendingID, now)
			return LoginResult{}, ErrExpired
		}
		return LoginResult{}, fmt.Errorf("failed to get account: %w", err)
	}

	// Аккаунт мог быть отключен или 2FA снята, пока вход ожидал код
	if !account.IsActive || !account.TOTPEnabled || account.TOTPSecret == nil {
		s.pending.Consume(pendingID, now)
		s.logger.InfoContext(ctx, "pending login dropped",
			slog.String("event", "auth.pending_dropped"),
			slog.String("account_id", account.ID))
		return LoginResult{}, ErrExpired
	}

	secret, err := s.accountSecret(account)
	if err != nil {
		return LoginResult{}, err
	}

	if !s.engine.Verify(secret, code, now) {
		left := s.pending.Fail(pendingID)
		s.logger.WarnContext(ctx, "invalid 2FA code",
			slog.String("event", "auth.2fa_failed"),
			slog.String("account_id", account.ID),
			slog.Int("attempts_left", left))
		return LoginResult{}, ErrInvalidCode
	}

	if !s.pending.Consume(pendingID, now) {
		return LoginResult{}, ErrExpired
	}

	return s.issueSession(ctx, account.ID, now)
}

// Authenticate resolves an access token to its live session.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	now := s.now().UTC()

	claims, err := s.tokens.Parse(token, now)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.AccountID != claims.Subject {
		s.logger.WarnContext(ctx, "token subject does not match session",
			slog.String("event", "security.token_mismatch"),
			slog.String("session_id", session.ID))
		return nil, ErrUnauthorized
	}

	if session.Expired(now) {
		return nil, ErrExpired
	}

	return session, nil
}

// Logout destroys the session behind token. Invalid, expired and already
// revoked tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.ParseIgnoringExpiry(token)
	if err != nil {
		s.logger.DebugContext(ctx, "logout with invalid token", slog.Any("error", err))
		return nil
	}

	if err := s.sessions.DeleteSession(ctx, claims.SessionID); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.InfoContext(ctx, "logged out", slog.String("account_id", claims.Subject))

	return nil
}

// Account returns the account of an authenticated session.
func (s *Service) Account(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ChangePassword replaces the password hash and revokes every other session
// of the account. The calling session stays valid.
func (s *Service) ChangePassword(ctx context.Context, session *models.Session, oldPassword, newPassword string) error {
	account, err := s.Account(ctx, session.AccountID)
	if err != nil {
		return err
	}

	if err := s.checkPassword(ctx, account, oldPassword); err != nil {
		return err
	}

	if err := validation.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account.PasswordHash = hash
	account.UpdatedAt = s.now().UTC()

	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	revoked, err := s.sessions.DeleteAccountSessions(ctx, account.ID, session.ID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("account_id", account.ID),
		slog.Int("revoked_sessions", revoked))

	return nil
}

// Setup2FA generates and stores a new account secret. 2FA stays disabled
// until Enable2FA confirms a code from it.
func (s *Service) Setup2FA(ctx context.Context, accountID string) (TOTPSetup, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return TOTPSetup{}, err
	}
	if account.TOTPEnabled {
		return TOTPSetup{}, ErrTOTPAlreadyEnabled
	}

	secret := totp.GenerateSecret()

	rec, err := s.secrets.Seal(account.ID, accountRecordID, crypto.FieldTOTP, []byte(secret))
	if err != nil {
		return TOTPSetup{}, err
	}

	account.TOTPSecret = rec
	account.UpdatedAt = s.now().UTC()

	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return TOTPSetup{}, fmt.Errorf("failed to update account: %w", err)
	}

	return TOTPSetup{
		Secret: secret,
		URI:    totp.ProvisioningURI(secret, account.Email),
	}, nil
}

// Enable2FA turns on 2FA after checking a code from the secret of Setup2FA.
func (s *Service) Enable2FA(ctx context.Context, accountID, code string) error {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return err
	}
	if account.TOTPEnabled {
		return ErrTOTPAlreadyEnabled
	}
	if account.TOTPSecret == nil {
		return ErrTOTPNotSetUp
	}

	secret, err := s.accountSecret(account)
	if err != nil {
		return err
	}

	if !s.engine.Verify(secret, code, s.now()) {
		return ErrInvalidCode
	}

	account.TOTPEnabled = true
	account.UpdatedAt = s.now().UTC()

	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	s.logger.InfoContext(ctx, "2FA enabled", slog.String("account_id", account.ID))

	return nil
}

// Disable2FA turns off 2FA and drops the secret. Requires the password.
func (s *Service) Disable2FA(ctx context.Context, accountID, password string) error {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.TOTPEnabled {
		return ErrTOTPNotEnabled
	}

	if err := s.checkPassword(ctx, account, password); err != nil {
		return err
	}

	account.TOTPEnabled = false
	account.TOTPSecret = nil
	account.UpdatedAt = s.now().UTC()

	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	s.logger.InfoContext(ctx, "2FA disabled", slog.String("account_id", account.ID))

	return nil
}

// DeleteAccount removes the account with its credentials, sessions and invites.
func (s *Service) DeleteAccount(ctx context.Context, accountID, password string) error {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.checkPassword(ctx, account, password); err != nil {
		return err
	}

	if err := s.accounts.DeleteAccount(ctx, account.ID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	s.logger.InfoContext(ctx, "account deleted", slog.String("account_id", account.ID))

	return nil
}

// SweepExpired drops expired pending logins and sessions. Expiry is already
// enforced on read; this only reclaims space.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()

	removed := s.pending.Sweep(now)

	n, err := s.sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return removed, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return removed + n, nil
}

func (s *Service) issueSession(ctx context.Context, accountID string, now time.Time) (LoginResult, error) {
	session := &models.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.tokens.Issue(session)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.InfoContext(ctx, "session issued",
		slog.String("account_id", accountID),
		slog.String("session_id", session.ID))

	return LoginResult{
		Token:     token,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) checkPassword(ctx context.Context, account *models.Account, password string) error {
	ok, err := crypto.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash is malformed",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return ErrInvalidCredentials
	}
	if !ok {
		s.logger.WarnContext(ctx, "password mismatch",
			slog.String("event", "auth.login_failed"),
			slog.String("account_id", account.ID))
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) accountSecret(account *models.Account) (string, error) {
	plaintext, err := s.secrets.Open(account.ID, accountRecordID, crypto.FieldTOTP, account.TOTPSecret)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
