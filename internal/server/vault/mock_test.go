package vault

import (
	"context"
	"sync"
	"time"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// Ensure, that CredentialStorageMock does implement storage.CredentialStorage.
var _ storage.CredentialStorage = &CredentialStorageMock{}

// CredentialStorageMock is a mock implementation of storage.CredentialStorage.
type CredentialStorageMock struct {
	CreateCredentialFunc func(ctx context.Context, credential *models.Credential) error
	GetCredentialFunc    func(ctx context.Context, credentialID string) (*models.Credential, error)
	ListCredentialsFunc  func(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]*models.Credential, error)
	UpdateCredentialFunc func(ctx context.Context, credential *models.Credential) error
	TouchCredentialFunc  func(ctx context.Context, credentialID string, usedAt time.Time) error
	DeleteCredentialFunc func(ctx context.Context, credentialID string) error

	mu                    sync.Mutex
	getCredentialCalls    int
	updateCredentialCalls int
}

func (m *CredentialStorageMock) CreateCredential(ctx context.Context, credential *models.Credential) error {
	if m.CreateCredentialFunc == nil {
		panic("CredentialStorageMock.CreateCredentialFunc: method is nil but CredentialStorage.CreateCredential was just called")
	}
	return m.CreateCredentialFunc(ctx, credential)
}

func (m *CredentialStorageMock) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	if m.GetCredentialFunc == nil {
		panic("CredentialStorageMock.GetCredentialFunc: method is nil but CredentialStorage.GetCredential was just called")
	}
	m.mu.Lock()
	m.getCredentialCalls++
	m.mu.Unlock()
	return m.GetCredentialFunc(ctx, credentialID)
}

func (m *CredentialStorageMock) ListCredentials(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]*models.Credential, error) {
	if m.ListCredentialsFunc == nil {
		panic("CredentialStorageMock.ListCredentialsFunc: method is nil but CredentialStorage.ListCredentials was just called")
	}
	return m.ListCredentialsFunc(ctx, ownerID, filter)
}

func (m *CredentialStorageMock) UpdateCredential(ctx context.Context, credential *models.Credential) error {
	if m.UpdateCredentialFunc == nil {
		panic("CredentialStorageMock.UpdateCredentialFunc: method is nil but CredentialStorage.UpdateCredential was just called")
	}
	m.mu.Lock()
	m.updateCredentialCalls++
	m.mu.Unlock()
	return m.UpdateCredentialFunc(ctx, credential)
}

func (m *CredentialStorageMock) TouchCredential(ctx context.Context, credentialID string, usedAt time.Time) error {
	if m.TouchCredentialFunc == nil {
		panic("CredentialStorageMock.TouchCredentialFunc: method is nil but CredentialStorage.TouchCredential was just called")
	}
	return m.TouchCredentialFunc(ctx, credentialID, usedAt)
}

func (m *CredentialStorageMock) DeleteCredential(ctx context.Context, credentialID string) error {
	if m.DeleteCredentialFunc == nil {
		panic("CredentialStorageMock.DeleteCredentialFunc: method is nil but CredentialStorage.DeleteCredential was just called")
	}
	return m.DeleteCredentialFunc(ctx, credentialID)
}

// GetCredentialCalls returns how many times GetCredential was called.
func (m *CredentialStorageMock) GetCredentialCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCredentialCalls
}

// UpdateCredentialCalls returns how many times UpdateCredential was called.
func (m *CredentialStorageMock) UpdateCredentialCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCredentialCalls
}
