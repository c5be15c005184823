package storage

import (
	"context"
	"time"

	"github.com/iudanet/authron/internal/models"
)

// ShareStorage defines interface for share invite persistence
type ShareStorage interface {
	// CreateInvite stores a new pending invite
	CreateInvite(ctx context.Context, invite *models.ShareInvite) error

	// GetInvite retrieves invite by token
	// Returns ErrInviteNotFound if invite doesn't exist
	GetInvite(ctx context.Context, token string) (*models.ShareInvite, error)

	// ListPendingInvites retrieves pending invites addressed to recipientEmail
	// that have not expired at now, newest first
	ListPendingInvites(ctx context.Context, recipientEmail string, now time.Time) ([]*models.ShareInvite, error)

	// InviteStats counts invites sent by accountID, accepted by email and
	// still pending (not expired at now) for email
	InviteStats(ctx context.Context, accountID, email string, now time.Time) (models.ShareStats, error)

	// ResolveInvite atomically moves the invite from status `from` to `to`
	// and, when grant is not nil, inserts grant as a new credential.
	// Either both happen or neither.
	// Returns ErrInviteNotFound if invite doesn't exist,
	// ErrInviteNotPending if the current status is not `from`
	ResolveInvite(ctx context.Context, token string, from, to models.ShareStatus, resolvedAt time.Time, grant *models.Credential) error
}

// Storage aggregates all persistence interfaces of the server
type Storage interface {
	AccountStorage
	CredentialStorage
	SessionStorage
	ShareStorage

	// Close releases underlying resources
	Close() error
}
