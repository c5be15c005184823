package storage

import (
	"context"
	"time"

	"github.com/iudanet/authron/internal/models"
)

// CredentialStorage defines interface for credential persistence.
// Encrypted fields are opaque to the storage.
type CredentialStorage interface {
	// CreateCredential stores a new credential with Version 1
	CreateCredential(ctx context.Context, credential *models.Credential) error

	// GetCredential retrieves a credential by ID regardless of owner
	// Returns ErrCredentialNotFound if credential doesn't exist
	GetCredential(ctx context.Context, credentialID string) (*models.Credential, error)

	// ListCredentials retrieves owner's credentials matching filter, ordered by title
	// Returns empty slice if no credentials found
	ListCredentials(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]*models.Credential, error)

	// UpdateCredential replaces the credential if its stored version equals
	// credential.Version, then increments credential.Version
	// Returns ErrVersionConflict if the version has moved on,
	// ErrCredentialNotFound if credential doesn't exist
	UpdateCredential(ctx context.Context, credential *models.Credential) error

	// TouchCredential sets last_used_at without bumping the version
	// Returns ErrCredentialNotFound if credential doesn't exist
	TouchCredential(ctx context.Context, credentialID string, usedAt time.Time) error

	// DeleteCredential deletes credential by ID
	// Returns ErrCredentialNotFound if credential doesn't exist
	DeleteCredential(ctx context.Context, credentialID string) error
}
