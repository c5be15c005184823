// Package storagetest contains behavioural tests shared by all storage.Storage
// backends. Each backend runs the same suite against a fresh instance.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// Factory returns a fresh empty storage. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Storage

// base is a fixed reference time; backends must round-trip it exactly.
var base = time.Date(2024, 3, 15, 10, 30, 0, 123456789, time.UTC)

// Run executes the whole suite.
func Run(t *testing.T, newStorage Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStorage) })
	t.Run("DeleteAccountCascades", func(t *testing.T) { testDeleteAccountCascades(t, newStorage) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStorage) })
	t.Run("Credentials", func(t *testing.T) { testCredentials(t, newStorage) })
	t.Run("CredentialVersioning", func(t *testing.T) { testCredentialVersioning(t, newStorage) })
	t.Run("UpdateKeepsLastUsed", func(t *testing.T) { testUpdateKeepsLastUsed(t, newStorage) })
	t.Run("ListCredentialsFilter", func(t *testing.T) { testListCredentialsFilter(t, newStorage) })
	t.Run("Invites", func(t *testing.T) { testInvites(t, newStorage) })
	t.Run("ResolveInvite", func(t *testing.T) { testResolveInvite(t, newStorage) })
	t.Run("ResolveInviteConcurrent", func(t *testing.T) { testResolveInviteConcurrent(t, newStorage) })
	t.Run("ResolveInviteRollback", func(t *testing.T) { testResolveInviteRollback(t, newStorage) })
}

// NewAccount builds an account with unique email and username.
func NewAccount(email string) *models.Account {
	id := uuid.New().String()
	return &models.Account{
		ID:           id,
		Email:        email,
		Username:     "user_" + id[:8],
		FullName:     "Test User",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		IsActive:     true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

// CreateAccount stores a new account and returns it.
func CreateAccount(t *testing.T, s storage.Storage, email string) *models.Account {
	t.Helper()
	a := NewAccount(email)
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func sealed(b byte) *models.EncryptedRecord {
	return &models.EncryptedRecord{
		Ciphertext: []byte{b, b, b},
		Nonce:      make([]byte, 12),
		Tag:        make([]byte, 16),
	}
}

// NewCredential builds a credential owned by ownerID.
func NewCredential(ownerID, title string) *models.Credential {
	return &models.Credential{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		Username:  "login",
		Website:   "https://example.com",
		Category:  "general",
		Password:  sealed(1),
		CreatedAt: base,
		UpdatedAt: base,
	}
}

// CreateCredential stores a new credential and returns it.
func CreateCredential(t *testing.T, s storage.Storage, ownerID, title string) *models.Credential {
	t.Helper()
	c := NewCredential(ownerID, title)
	require.NoError(t, s.CreateCredential(context.Background(), c))
	return c
}

func newInvite(sender *models.Account, credentialID, recipient string) *models.ShareInvite {
	return &models.ShareInvite{
		Token:          uuid.New().String(),
		CredentialID:   credentialID,
		SenderID:       sender.ID,
		SenderEmail:    sender.Email,
		RecipientEmail: recipient,
		Title:          "Shared title",
		Username:       "login",
		Website:        "https://example.com",
		Password:       sealed(7),
		Status:         models.ShareStatusPending,
		CreatedAt:      base,
		ExpiresAt:      base.Add(7 * 24 * time.Hour),
	}
}

func testAccounts(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := NewAccount("alice@example.com")
	alice.TOTPSecret = sealed(3)
	alice.TOTPEnabled = true
	require.NoError(t, s.CreateAccount(ctx, alice))

	tests := []struct {
		wantError error
		lookup    func() (*models.Account, error)
		name      string
	}{
		{
			name:   "get by id",
			lookup: func() (*models.Account, error) { return s.GetAccountByID(ctx, alice.ID) },
		},
		{
			name:   "get by email",
			lookup: func() (*models.Account, error) { return s.GetAccountByEmail(ctx, "alice@example.com") },
		},
		{
			name:      "missing id",
			lookup:    func() (*models.Account, error) { return s.GetAccountByID(ctx, "nope") },
			wantError: storage.ErrAccountNotFound,
		},
		{
			name:      "missing email",
			lookup:    func() (*models.Account, error) { return s.GetAccountByEmail(ctx, "nobody@example.com") },
			wantError: storage.ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lookup()
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, alice, got)
		})
	}

	t.Run("duplicate email", func(t *testing.T) {
		dup := NewAccount("alice@example.com")
		assert.ErrorIs(t, s.CreateAccount(ctx, dup), storage.ErrAccountAlreadyExists)
	})

	t.Run("duplicate username", func(t *testing.T) {
		dup := NewAccount("other@example.com")
		dup.Username = alice.Username
		assert.ErrorIs(t, s.CreateAccount(ctx, dup), storage.ErrAccountAlreadyExists)
	})

	t.Run("update", func(t *testing.T) {
		updated := *alice
		updated.PasswordHash = "$argon2id$new"
		updated.TOTPEnabled = false
		updated.TOTPSecret = nil
		updated.IsActive = false
		updated.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, s.UpdateAccount(ctx, &updated))

		got, err := s.GetAccountByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, &updated, got)
	})

	t.Run("update missing", func(t *testing.T) {
		assert.ErrorIs(t, s.UpdateAccount(ctx, NewAccount("ghost@example.com")), storage.ErrAccountNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		assert.ErrorIs(t, s.DeleteAccount(ctx, "nope"), storage.ErrAccountNotFound)
	})
}

func testDeleteAccountCascades(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	bob := CreateAccount(t, s, "bob@example.com")

	aliceCred := CreateCredential(t, s, alice.ID, "alice cred")
	bobCred := CreateCredential(t, s, bob.ID, "bob cred")

	require.NoError(t, s.CreateSession(ctx, &models.Session{
		ID: "s-alice", AccountID: alice.ID, IssuedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	sent := newInvite(alice, aliceCred.ID, "bob@example.com")
	received := newInvite(bob, bobCred.ID, "alice@example.com")
	require.NoError(t, s.CreateInvite(ctx, sent))
	require.NoError(t, s.CreateInvite(ctx, received))

	require.NoError(t, s.DeleteAccount(ctx, alice.ID))

	_, err := s.GetAccountByID(ctx, alice.ID)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	_, err = s.GetCredential(ctx, aliceCred.ID)
	assert.ErrorIs(t, err, storage.ErrCredentialNotFound)
	_, err = s.GetSession(ctx, "s-alice")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	_, err = s.GetInvite(ctx, sent.Token)
	assert.ErrorIs(t, err, storage.ErrInviteNotFound)
	_, err = s.GetInvite(ctx, received.Token)
	assert.ErrorIs(t, err, storage.ErrInviteNotFound)

	// Данные bob не затронуты
	_, err = s.GetCredential(ctx, bobCred.ID)
	assert.NoError(t, err)
}

func testSessions(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	bob := CreateAccount(t, s, "bob@example.com")

	sessions := []*models.Session{
		{ID: "a1", AccountID: alice.ID, IssuedAt: base, ExpiresAt: base.Add(30 * time.Minute)},
		{ID: "a2", AccountID: alice.ID, IssuedAt: base, ExpiresAt: base.Add(-time.Minute)},
		{ID: "a3", AccountID: alice.ID, IssuedAt: base, ExpiresAt: base.Add(time.Hour)},
		{ID: "b1", AccountID: bob.ID, IssuedAt: base, ExpiresAt: base.Add(-time.Second)},
	}
	for _, sess := range sessions {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	got, err := s.GetSession(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, sessions[0], got)

	// Истекшая сессия возвращается как есть
	got, err = s.GetSession(ctx, "a2")
	require.NoError(t, err)
	assert.True(t, got.Expired(base))

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	n, err := s.DeleteExpiredSessions(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteAccountSessions(ctx, alice.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSession(ctx, "a3")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	require.NoError(t, s.DeleteSession(ctx, "a1"))
	assert.ErrorIs(t, s.DeleteSession(ctx, "a1"), storage.ErrSessionNotFound)
}

func testCredentials(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")

	c := NewCredential(alice.ID, "GitHub")
	c.TOTPEnabled = true
	c.TOTPSecret = sealed(9)
	require.NoError(t, s.CreateCredential(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	got, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = s.GetCredential(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrCredentialNotFound)

	used := base.Add(5 * time.Minute)
	require.NoError(t, s.TouchCredential(ctx, c.ID, used))
	got, err = s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, used.Equal(*got.LastUsedAt))
	assert.Equal(t, int64(1), got.Version, "touch must not bump version")

	assert.ErrorIs(t, s.TouchCredential(ctx, "missing", used), storage.ErrCredentialNotFound)

	require.NoError(t, s.DeleteCredential(ctx, c.ID))
	assert.ErrorIs(t, s.DeleteCredential(ctx, c.ID), storage.ErrCredentialNotFound)
}

func testCredentialVersioning(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	c := CreateCredential(t, s, alice.ID, "Mail")

	first, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	second, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)

	first.Title = "Mail (work)"
	first.Password = sealed(2)
	first.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.UpdateCredential(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	// Вторая копия устарела
	second.Title = "stale"
	assert.ErrorIs(t, s.UpdateCredential(ctx, second), storage.ErrVersionConflict)

	got, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mail (work)", got.Title)
	assert.Equal(t, sealed(2), got.Password)
	assert.Equal(t, int64(2), got.Version)

	missing := NewCredential(alice.ID, "ghost")
	missing.Version = 1
	assert.ErrorIs(t, s.UpdateCredential(ctx, missing), storage.ErrCredentialNotFound)
}

// Touch между чтением и сохранением не должен теряться
func testUpdateKeepsLastUsed(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	c := CreateCredential(t, s, alice.ID, "Bank")

	loaded, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	require.Nil(t, loaded.LastUsedAt)

	used := base.Add(time.Hour)
	require.NoError(t, s.TouchCredential(ctx, c.ID, used))

	loaded.Title = "Bank (joint)"
	loaded.UpdatedAt = base.Add(2 * time.Hour)
	require.NoError(t, s.UpdateCredential(ctx, loaded))

	got, err := s.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bank (joint)", got.Title)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, used.Equal(*got.LastUsedAt))
}

func testListCredentialsFilter(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	bob := CreateAccount(t, s, "bob@example.com")

	mk := func(owner, title, category, website string, favorite bool) {
		c := NewCredential(owner, title)
		c.Category = category
		c.Website = website
		c.Favorite = favorite
		require.NoError(t, s.CreateCredential(ctx, c))
	}
	mk(alice.ID, "github", "work", "https://github.com", true)
	mk(alice.ID, "Bank", "finance", "https://bank.example", false)
	mk(alice.ID, "100% legal", "work", "https://odd.example", false)
	mk(bob.ID, "GitHub", "work", "https://github.com", true)

	yes := true

	tests := []struct {
		name   string
		filter models.CredentialFilter
		want   []string
	}{
		{name: "all sorted case-insensitively", want: []string{"100% legal", "Bank", "github"}},
		{name: "by category", filter: models.CredentialFilter{Category: "work"}, want: []string{"100% legal", "github"}},
		{name: "favorites", filter: models.CredentialFilter{Favorite: &yes}, want: []string{"github"}},
		{name: "search title case-insensitive", filter: models.CredentialFilter{Search: "GIT"}, want: []string{"github"}},
		{name: "search website", filter: models.CredentialFilter{Search: "bank.example"}, want: []string{"Bank"}},
		{name: "search literal percent", filter: models.CredentialFilter{Search: "%"}, want: []string{"100% legal"}},
		{name: "no match", filter: models.CredentialFilter{Search: "zzz"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListCredentials(ctx, alice.ID, tt.filter)
			require.NoError(t, err)

			titles := make([]string, 0, len(list))
			for _, c := range list {
				assert.Equal(t, alice.ID, c.OwnerID)
				titles = append(titles, c.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func testInvites(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	c := CreateCredential(t, s, alice.ID, "GitHub")

	fresh := newInvite(alice, c.ID, "bob@example.com")
	fresh.TOTPSecret = sealed(4)
	stale := newInvite(alice, c.ID, "bob@example.com")
	stale.CreatedAt = base.Add(-8 * 24 * time.Hour)
	stale.ExpiresAt = base.Add(-time.Hour)
	other := newInvite(alice, c.ID, "carol@example.com")

	for _, inv := range []*models.ShareInvite{fresh, stale, other} {
		require.NoError(t, s.CreateInvite(ctx, inv))
	}

	got, err := s.GetInvite(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	_, err = s.GetInvite(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrInviteNotFound)

	pending, err := s.ListPendingInvites(ctx, "bob@example.com", base)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.Token, pending[0].Token)

	stats, err := s.InviteStats(ctx, alice.ID, alice.Email, base)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStats{Sent: 3}, stats)

	stats, err = s.InviteStats(ctx, "bob-id", "bob@example.com", base)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStats{Pending: 1}, stats)
}

func testResolveInvite(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	bob := CreateAccount(t, s, "bob@example.com")
	c := CreateCredential(t, s, alice.ID, "GitHub")

	accepted := newInvite(alice, c.ID, bob.Email)
	rejected := newInvite(alice, c.ID, bob.Email)
	require.NoError(t, s.CreateInvite(ctx, accepted))
	require.NoError(t, s.CreateInvite(ctx, rejected))

	grant := NewCredential(bob.ID, "GitHub")
	grant.Category = models.SharedCategory
	resolvedAt := base.Add(time.Hour)

	require.NoError(t, s.ResolveInvite(ctx, accepted.Token, models.ShareStatusPending, models.ShareStatusAccepted, resolvedAt, grant))

	got, err := s.GetInvite(ctx, accepted.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAccepted, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*got.ResolvedAt))

	copied, err := s.GetCredential(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, copied.OwnerID)
	assert.Equal(t, int64(1), copied.Version)

	// Повторное разрешение не меняет состояние
	err = s.ResolveInvite(ctx, accepted.Token, models.ShareStatusPending, models.ShareStatusRejected, resolvedAt, nil)
	assert.ErrorIs(t, err, storage.ErrInviteNotPending)
	got, err = s.GetInvite(ctx, accepted.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAccepted, got.Status)

	require.NoError(t, s.ResolveInvite(ctx, rejected.Token, models.ShareStatusPending, models.ShareStatusRejected, resolvedAt, nil))

	list, err := s.ListCredentials(ctx, bob.ID, models.CredentialFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "reject must not copy data")

	err = s.ResolveInvite(ctx, "missing", models.ShareStatusPending, models.ShareStatusAccepted, resolvedAt, nil)
	assert.ErrorIs(t, err, storage.ErrInviteNotFound)
}

func testResolveInviteConcurrent(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	bob := CreateAccount(t, s, "bob@example.com")
	c := CreateCredential(t, s, alice.ID, "GitHub")

	invite := newInvite(alice, c.ID, bob.Email)
	require.NoError(t, s.CreateInvite(ctx, invite))

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			to := models.ShareStatusRejected
			var grant *models.Credential
			if i%2 == 0 {
				to = models.ShareStatusAccepted
				grant = NewCredential(bob.ID, "GitHub")
			}

			err := s.ResolveInvite(ctx, invite.Token, models.ShareStatusPending, to, base, grant)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, storage.ErrInviteNotPending)
				losses++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, losses)

	got, err := s.GetInvite(ctx, invite.Token)
	require.NoError(t, err)

	list, err := s.ListCredentials(ctx, bob.ID, models.CredentialFilter{})
	require.NoError(t, err)

	if got.Status == models.ShareStatusAccepted {
		assert.Len(t, list, 1)
	} else {
		assert.Equal(t, models.ShareStatusRejected, got.Status)
		assert.Empty(t, list)
	}
}

func testResolveInviteRollback(t *testing.T, newStorage Factory) {
	ctx := context.Background()
	s := newStorage(t)

	alice := CreateAccount(t, s, "alice@example.com")
	bob := CreateAccount(t, s, "bob@example.com")
	existing := CreateCredential(t, s, bob.ID, "already there")

	invite := newInvite(alice, "cred", bob.Email)
	require.NoError(t, s.CreateInvite(ctx, invite))

	// Конфликт ID делает вставку невозможной
	grant := NewCredential(bob.ID, "GitHub")
	grant.ID = existing.ID

	err := s.ResolveInvite(ctx, invite.Token, models.ShareStatusPending, models.ShareStatusAccepted, base, grant)
	require.Error(t, err)

	got, err := s.GetInvite(ctx, invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusPending, got.Status, "failed grant must not resolve the invite")
	assert.Nil(t, got.ResolvedAt)
}
