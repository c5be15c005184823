package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCredential() *Credential {
	used := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Credential{
		ID:          "cred-1",
		OwnerID:     "owner-1",
		Title:       "GitHub",
		Username:    "alice",
		Website:     "https://github.com",
		Category:    "work",
		Favorite:    true,
		TOTPEnabled: true,
		Version:     3,
		LastUsedAt:  &used,
		Password:    &EncryptedRecord{Ciphertext: []byte{1, 2}, Nonce: []byte{3}, Tag: []byte{4}},
		TOTPSecret:  &EncryptedRecord{Ciphertext: []byte{5}, Nonce: []byte{6}, Tag: []byte{7}},
	}
}

func TestCredential_Clone(t *testing.T) {
	orig := newTestCredential()
	clone := orig.Clone()

	require.Equal(t, orig, clone)

	// Изменения копии не должны затрагивать оригинал
	clone.Password.Ciphertext[0] = 0xff
	clone.TOTPSecret.Tag[0] = 0xff
	*clone.LastUsedAt = clone.LastUsedAt.Add(time.Hour)

	assert.Equal(t, byte(1), orig.Password.Ciphertext[0])
	assert.Equal(t, byte(7), orig.TOTPSecret.Tag[0])
	assert.Equal(t, 12, orig.LastUsedAt.Hour())
}

func TestCredential_Clone_NilFields(t *testing.T) {
	orig := &Credential{ID: "x"}
	clone := orig.Clone()

	assert.Nil(t, clone.Password)
	assert.Nil(t, clone.TOTPSecret)
	assert.Nil(t, clone.LastUsedAt)
}

func TestCredential_Summary_NoSecrets(t *testing.T) {
	c := newTestCredential()
	summary := c.Summary()

	assert.Equal(t, c.ID, summary.ID)
	assert.Equal(t, c.Title, summary.Title)
	assert.Equal(t, c.Version, summary.Version)
	assert.True(t, summary.TOTPEnabled)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ciphertext")
	assert.NotContains(t, string(data), "password")
	assert.NotContains(t, string(data), "owner_id")
}

func TestAccount_JSONHidesSecrets(t *testing.T) {
	a := Account{
		ID:           "a1",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$secret",
		TOTPSecret:   &EncryptedRecord{Ciphertext: []byte("x")},
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "argon2id")
	assert.NotContains(t, string(data), "ciphertext")
}

func TestExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "in the future", expiresAt: now.Add(time.Second), want: false},
		{name: "exactly now", expiresAt: now, want: true},
		{name: "in the past", expiresAt: now.Add(-time.Second), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			p := &PendingLogin{ExpiresAt: tt.expiresAt}
			i := &ShareInvite{ExpiresAt: tt.expiresAt}

			assert.Equal(t, tt.want, s.Expired(now))
			assert.Equal(t, tt.want, p.Expired(now))
			assert.Equal(t, tt.want, i.Expired(now))
		})
	}
}
