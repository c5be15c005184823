package sharing

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage/sqlite"
	"github.com/iudanet/authron/internal/server/storage/storagetest"
	"github.com/iudanet/authron/internal/server/vault"
	"github.com/iudanet/authron/internal/validation"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc   *Service
	vault *vault.Store
	store *sqlite.Storage
	alice *models.Account
	bob   *models.Account
	carol *models.Account
	cred  *models.Credential
	now   time.Time
	mu    sync.Mutex
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newBox(t *testing.T) *crypto.Box {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := crypto.NewBox(key)
	require.NoError(t, err)
	return box
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupService создает alice с одной записью "GitHub" (пароль hunter2) и bob, carol
func setupService(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	env := &testEnv{store: s, now: baseTime}
	logger := discardLogger()

	env.vault = vault.New(newBox(t), s, logger, vault.WithClock(env.clock), vault.WithRetryDelay(0))
	env.svc = New(env.vault, s, s, logger, WithClock(env.clock))

	env.alice = storagetest.CreateAccount(t, s, "alice@example.com")
	env.bob = storagetest.CreateAccount(t, s, "bob@example.com")
	env.carol = storagetest.CreateAccount(t, s, "carol@example.com")

	c := storagetest.NewCredential(env.alice.ID, "GitHub")
	c.Username = "alice-gh"
	c.Website = "https://github.com"
	c.Password, err = env.vault.Seal(env.alice.ID, c.ID, crypto.FieldPassword, []byte("hunter2"))
	require.NoError(t, err)
	require.NoError(t, env.vault.Create(ctx, c))
	env.cred = c

	return env
}

func TestService_ShareAccept(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "Bob@Example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusPending, invite.Status)
	assert.Equal(t, "bob@example.com", invite.RecipientEmail)
	assert.Equal(t, "alice@example.com", invite.SenderEmail)
	assert.True(t, baseTime.Add(DefaultInviteTTL).Equal(invite.ExpiresAt))
	assert.Len(t, invite.Token, 43)

	// до accept у bob нет записей
	bobCreds, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
	require.NoError(t, err)
	assert.Empty(t, bobCreds)

	pending, err := env.svc.ListPending(ctx, env.bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "GitHub", pending[0].Title)

	env.advance(time.Hour)
	summary, err := env.svc.Accept(ctx, invite.Token, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "GitHub (shared by alice@example.com)", summary.Title)
	assert.Equal(t, models.SharedCategory, summary.Category)
	assert.Equal(t, "alice-gh", summary.Username)
	assert.NotEqual(t, env.cred.ID, summary.ID)

	plaintext, err := env.vault.Get(ctx, env.bob.ID, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), plaintext)

	// копия зашифрована под ключом bob, а не alice
	copied, err := env.store.GetCredential(ctx, summary.ID)
	require.NoError(t, err)
	_, err = env.vault.Open(env.alice.ID, env.cred.ID, crypto.FieldPassword, copied.Password)
	assert.ErrorIs(t, err, vault.ErrDecryptionFailed)

	stored, err := env.store.GetInvite(ctx, invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAccepted, stored.Status)

	// удаление оригинала не затрагивает копию
	require.NoError(t, env.store.DeleteCredential(ctx, env.cred.ID))
	plaintext, err = env.vault.Get(ctx, env.bob.ID, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), plaintext)
}

func TestSharedTitle(t *testing.T) {
	const sender = "alice@example.com"
	suffix := " (shared by alice@example.com)"

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "short title", title: "GitHub", want: "GitHub" + suffix},
		{name: "exactly fits", title: strings.Repeat("a", validation.MaxFieldLen-len(suffix)), want: strings.Repeat("a", validation.MaxFieldLen-len(suffix)) + suffix},
		{name: "too long", title: strings.Repeat("a", validation.MaxFieldLen), want: strings.Repeat("a", validation.MaxFieldLen-len(suffix)) + suffix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sharedTitle(tt.title, sender)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, validation.ValidateTitle(got))
		})
	}

	t.Run("multibyte title is cut on a rune boundary", func(t *testing.T) {
		got := sharedTitle(strings.Repeat("ж", validation.MaxFieldLen), sender)
		assert.True(t, utf8.ValidString(got))
		assert.True(t, strings.HasSuffix(got, suffix))
		assert.LessOrEqual(t, len(got), validation.MaxFieldLen)
	})
}

func TestService_Accept_LongTitleStaysEditable(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	c, err := env.store.GetCredential(ctx, env.cred.ID)
	require.NoError(t, err)
	c.Title = strings.Repeat("t", 500)
	require.NoError(t, env.vault.Save(ctx, c))

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)

	summary, err := env.svc.Accept(ctx, invite.Token, env.bob.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(summary.Title), validation.MaxFieldLen)
	assert.True(t, strings.HasSuffix(summary.Title, "(shared by alice@example.com)"))

	stored, err := env.store.GetCredential(ctx, summary.ID)
	require.NoError(t, err)
	assert.NoError(t, validation.ValidateTitle(stored.Title))
}

func TestService_Share_CopiesTOTP(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	const secret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	rec, err := env.vault.Seal(env.alice.ID, env.cred.ID, crypto.FieldTOTP, []byte(secret))
	require.NoError(t, err)
	c, err := env.store.GetCredential(ctx, env.cred.ID)
	require.NoError(t, err)
	c.TOTPSecret = rec
	c.TOTPEnabled = true
	require.NoError(t, env.vault.Save(ctx, c))

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, invite.TOTPSecret)

	summary, err := env.svc.Accept(ctx, invite.Token, env.bob.ID)
	require.NoError(t, err)
	assert.True(t, summary.TOTPEnabled)

	got, err := env.vault.Reveal(ctx, env.bob.ID, summary.ID, crypto.FieldTOTP)
	require.NoError(t, err)
	assert.Equal(t, secret, string(got))
}

func TestService_Share_Errors(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	tests := []struct {
		wantErr      error
		name         string
		senderID     string
		credentialID string
		recipient    string
	}{
		{name: "self share", senderID: env.alice.ID, credentialID: env.cred.ID, recipient: "ALICE@example.com", wantErr: ErrSelfShare},
		{name: "foreign credential", senderID: env.bob.ID, credentialID: env.cred.ID, recipient: "carol@example.com", wantErr: vault.ErrForbidden},
		{name: "missing credential", senderID: env.alice.ID, credentialID: "missing", recipient: "bob@example.com", wantErr: vault.ErrNotFound},
		{name: "invalid email", senderID: env.alice.ID, credentialID: env.cred.ID, recipient: "bob", wantErr: validation.ErrInvalid},
		{name: "unknown sender", senderID: "ghost", credentialID: env.cred.ID, recipient: "bob@example.com", wantErr: vault.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invite, err := env.svc.Share(ctx, tt.senderID, tt.credentialID, tt.recipient)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, invite)
		})
	}

	stats, err := env.svc.Stats(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStats{}, stats)
}

func TestService_Share_UnregisteredRecipient(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "dave@example.com")
	require.NoError(t, err)
	assert.Equal(t, "dave@example.com", invite.RecipientEmail)
}

func TestService_AlreadyResolved(t *testing.T) {
	tests := []struct {
		first  func(env *testEnv, token string) error
		second func(env *testEnv, token string) error
		want   models.ShareStatus
		name   string
	}{
		{
			name:   "accept then accept",
			first:  accept,
			second: accept,
			want:   models.ShareStatusAccepted,
		},
		{
			name:   "accept then reject",
			first:  accept,
			second: reject,
			want:   models.ShareStatusAccepted,
		},
		{
			name:   "reject then accept",
			first:  reject,
			second: accept,
			want:   models.ShareStatusRejected,
		},
		{
			name:   "reject then reject",
			first:  reject,
			second: reject,
			want:   models.ShareStatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupService(t)
			ctx := context.Background()

			invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
			require.NoError(t, err)

			require.NoError(t, tt.first(env, invite.Token))
			before, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
			require.NoError(t, err)

			assert.ErrorIs(t, tt.second(env, invite.Token), ErrAlreadyResolved)

			stored, err := env.store.GetInvite(ctx, invite.Token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)

			after, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
			require.NoError(t, err)
			assert.Equal(t, len(before), len(after), "second resolution must not change storage")
		})
	}
}

func accept(env *testEnv, token string) error {
	_, err := env.svc.Accept(context.Background(), token, env.bob.ID)
	return err
}

func reject(env *testEnv, token string) error {
	return env.svc.Reject(context.Background(), token, env.bob.ID)
}

func TestService_Reject(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, env.svc.Reject(ctx, invite.Token, env.bob.ID))

	creds, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
	require.NoError(t, err)
	assert.Empty(t, creds)

	pending, err := env.svc.ListPending(ctx, env.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestService_WrongRecipient(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)

	_, err = env.svc.Accept(ctx, invite.Token, env.carol.ID)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, env.svc.Reject(ctx, invite.Token, env.carol.ID), ErrInvalidToken)
	_, err = env.svc.Accept(ctx, "unknown-token", env.bob.ID)
	assert.ErrorIs(t, err, ErrInvalidToken)

	stored, err := env.store.GetInvite(ctx, invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusPending, stored.Status)
}

func TestService_Expired(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)

	env.advance(DefaultInviteTTL)

	pending, err := env.svc.ListPending(ctx, env.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.svc.Accept(ctx, invite.Token, env.bob.ID)
	assert.ErrorIs(t, err, ErrExpired)

	stored, err := env.store.GetInvite(ctx, invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusExpired, stored.Status)

	assert.ErrorIs(t, env.svc.Reject(ctx, invite.Token, env.bob.ID), ErrAlreadyResolved)

	creds, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestService_Accept_FailedReencryptionKeepsPending(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)

	// сервис с другим мастер-ключом не сможет открыть приглашение
	foreign := vault.New(newBox(t), env.store, discardLogger())
	broken := New(foreign, env.store, env.store, discardLogger(), WithClock(env.clock))

	_, err = broken.Accept(ctx, invite.Token, env.bob.ID)
	assert.ErrorIs(t, err, vault.ErrDecryptionFailed)

	stored, err := env.store.GetInvite(ctx, invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusPending, stored.Status)

	creds, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
	require.NoError(t, err)
	assert.Empty(t, creds)

	_, err = env.svc.Accept(ctx, invite.Token, env.bob.ID)
	assert.NoError(t, err)
}

func TestService_ConcurrentAcceptReject(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	invite, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)

	const workers = 10
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs[i] = accept(env, invite.Token)
			} else {
				errs[i] = reject(env, invite.Token)
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := env.store.GetInvite(ctx, invite.Token)
	require.NoError(t, err)

	creds, err := env.store.ListCredentials(ctx, env.bob.ID, models.CredentialFilter{})
	require.NoError(t, err)

	switch stored.Status {
	case models.ShareStatusAccepted:
		assert.Len(t, creds, 1)
	case models.ShareStatusRejected:
		assert.Empty(t, creds)
	default:
		t.Fatalf("unexpected status %s", stored.Status)
	}
}

func TestService_Stats(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	first, err := env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)
	_, err = env.svc.Share(ctx, env.alice.ID, env.cred.ID, "bob@example.com")
	require.NoError(t, err)
	_, err = env.svc.Share(ctx, env.alice.ID, env.cred.ID, "carol@example.com")
	require.NoError(t, err)

	_, err = env.svc.Accept(ctx, first.Token, env.bob.ID)
	require.NoError(t, err)

	aliceStats, err := env.svc.Stats(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStats{Sent: 3}, aliceStats)

	bobStats, err := env.svc.Stats(ctx, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStats{Received: 1, Pending: 1}, bobStats)
}
