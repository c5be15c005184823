package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/server/storage"
	"github.com/iudanet/authron/internal/server/storage/storagetest"
)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// Используем in-memory database для тестов
	s, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
	}

	return s, cleanup
}

func TestStorage_Suite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, cleanup := setupTestStorage(t)
		t.Cleanup(cleanup)
		return s
	})
}

func TestNew_FileDatabase(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "authron.db")

	s, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	account := storagetest.CreateAccount(t, s, "alice@example.com")
	require.NoError(t, s.Close())

	// Повторное открытие: миграции идемпотентны, данные на месте
	s, err = New(ctx, dbPath)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	got, err := s.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Email, got.Email)
}

func TestNew_Migrations(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for _, table := range []string{"accounts", "credentials", "sessions", "share_invites"} {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
	}

	var fk int
	require.NoError(t, s.DB().QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestCredential_EmptyCiphertext(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	owner := storagetest.CreateAccount(t, s, "alice@example.com")
	c := storagetest.NewCredential(owner.ID, "empty password")
	c.Password.Ciphertext = []byte{}
	require.NoError(t, s.CreateCredential(ctx, c))

	got, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Password)
	assert.Empty(t, got.Password.Ciphertext)
	assert.Len(t, got.Password.Tag, 16)
}

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
	assert.False(t, errors.Is(classify(plain), storage.ErrTransient))
	assert.False(t, isUniqueViolation(plain))
}

func TestIsUniqueViolation(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.DB().Exec(`INSERT INTO sessions (id, account_id, issued_at, expires_at) VALUES ('x', 'nobody', 0, 0)`)
	require.Error(t, err, "foreign key must be enforced")
	assert.False(t, isUniqueViolation(err))

	a := storagetest.CreateAccount(t, s, "alice@example.com")
	_, err = s.DB().Exec(`INSERT INTO accounts (id, email, username, password_hash, created_at, updated_at) VALUES (?, 'other@example.com', 'other', 'h', 0, 0)`, a.ID)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}
