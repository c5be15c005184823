package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/pkg/api"
)

func (ts *testServer) share(t *testing.T, token, credentialID, recipient string) api.ShareResponse {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/v1/shares", token, api.ShareRequest{
		CredentialID:   credentialID,
		RecipientEmail: recipient,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp api.ShareResponse
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Token)
	return resp
}

func TestShareHandler_AcceptFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signup(t, "alice@example.com", "alice")
	bob := ts.signup(t, "bob@example.com", "bob")

	cred := ts.createCredential(t, alice, api.CredentialRequest{
		Title:    "Netflix",
		Username: "family",
		Password: strPtr("popcorn"),
		Website:  "https://netflix.com",
	})

	invite := ts.share(t, alice, cred.ID, "Bob@Example.com")
	assert.Equal(t, "bob@example.com", invite.RecipientEmail)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), invite.ExpiresAt, time.Minute)

	w := ts.do(t, http.MethodGet, "/api/v1/shares/pending", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "popcorn")
	var pending []api.PendingShareResponse
	decode(t, w, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "Netflix", pending[0].Title)
	assert.Equal(t, "alice@example.com", pending[0].SenderEmail)

	w = ts.do(t, http.MethodPost, "/api/v1/shares/"+invite.Token+"/accept", bob, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var copied models.CredentialSummary
	decode(t, w, &copied)
	assert.Equal(t, models.SharedCategory, copied.Category)
	assert.NotEqual(t, cred.ID, copied.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/credentials/"+copied.ID+"/decrypt", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var revealed api.RevealResponse
	decode(t, w, &revealed)
	assert.Equal(t, "popcorn", revealed.Password)

	w = ts.do(t, http.MethodPost, "/api/v1/shares/"+invite.Token+"/accept", bob, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/shares/"+invite.Token+"/reject", bob, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/shares/stats", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.ShareStats
	decode(t, w, &stats)
	assert.Equal(t, models.ShareStats{Sent: 1}, stats)
}

func TestShareHandler_Reject(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signup(t, "alice@example.com", "alice")
	bob := ts.signup(t, "bob@example.com", "bob")

	cred := ts.createCredential(t, alice, api.CredentialRequest{Title: "Wifi", Password: strPtr("guest")})
	invite := ts.share(t, alice, cred.ID, "bob@example.com")

	w := ts.do(t, http.MethodPost, "/api/v1/shares/"+invite.Token+"/reject", bob, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/credentials", bob, nil)
	var list []models.CredentialSummary
	decode(t, w, &list)
	assert.Empty(t, list)

	w = ts.do(t, http.MethodPost, "/api/v1/shares/"+invite.Token+"/accept", bob, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestShareHandler_Errors(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signup(t, "alice@example.com", "alice")
	bob := ts.signup(t, "bob@example.com", "bob")
	carol := ts.signup(t, "carol@example.com", "carol")

	cred := ts.createCredential(t, alice, api.CredentialRequest{Title: "VPN", Password: strPtr("tunnel")})
	invite := ts.share(t, alice, cred.ID, "bob@example.com")

	tests := []struct {
		body     any
		name     string
		method   string
		path     string
		token    string
		wantCode int
	}{
		{
			name: "unknown token", method: http.MethodPost, token: bob,
			path: "/api/v1/shares/nope/accept", wantCode: http.StatusNotFound,
		},
		{
			name: "wrong recipient", method: http.MethodPost, token: carol,
			path: "/api/v1/shares/" + invite.Token + "/accept", wantCode: http.StatusNotFound,
		},
		{
			name: "self share", method: http.MethodPost, token: alice, path: "/api/v1/shares",
			body: api.ShareRequest{CredentialID: cred.ID, RecipientEmail: "alice@example.com"}, wantCode: http.StatusBadRequest,
		},
		{
			name: "foreign credential", method: http.MethodPost, token: bob, path: "/api/v1/shares",
			body: api.ShareRequest{CredentialID: cred.ID, RecipientEmail: "carol@example.com"}, wantCode: http.StatusNotFound,
		},
		{
			name: "bad recipient email", method: http.MethodPost, token: alice, path: "/api/v1/shares",
			body: api.ShareRequest{CredentialID: cred.ID, RecipientEmail: "not-an-email"}, wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	// приглашение осталось доступным получателю
	w := ts.do(t, http.MethodPost, "/api/v1/shares/"+invite.Token+"/accept", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
