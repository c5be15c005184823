package storage

import (
	"context"

	"github.com/iudanet/authron/internal/models"
)

// AccountStorage defines interface for account persistence
type AccountStorage interface {
	// CreateAccount creates a new account in the storage
	// Returns ErrAccountAlreadyExists if email or username is taken
	CreateAccount(ctx context.Context, account *models.Account) error

	// GetAccountByEmail retrieves account by normalized email
	// Returns ErrAccountNotFound if account doesn't exist
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)

	// GetAccountByID retrieves account by ID
	// Returns ErrAccountNotFound if account doesn't exist
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)

	// UpdateAccount updates mutable account fields
	// (password hash, 2FA state, full name, active flag)
	// Returns ErrAccountNotFound if account doesn't exist
	UpdateAccount(ctx context.Context, account *models.Account) error

	// DeleteAccount deletes account together with its credentials, sessions
	// and share invites sent by it or addressed to it
	// Returns ErrAccountNotFound if account doesn't exist
	DeleteAccount(ctx context.Context, accountID string) error
}
