package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// recordKeySalt domain-separates record keys from any other use of the master key.
var recordKeySalt = []byte("authron/record-key/v1")

// Record fields that carry their own key.
const (
	FieldPassword = "password"
	FieldTOTP     = "totp"
)

// ErrInvalidIdentity is returned for a RecordIdentity with an empty component.
var ErrInvalidIdentity = errors.New("invalid record identity")

// RecordIdentity is the stable identity a record key is bound to.
// Two records with different identities never share a key.
type RecordIdentity struct {
	OwnerID  string
	RecordID string
	Field    string
}

// String returns the canonical form used as HKDF info and as GCM additional data.
func (id RecordIdentity) String() string {
	return "owner=" + id.OwnerID + ";record=" + id.RecordID + ";field=" + id.Field
}

func (id RecordIdentity) validate() error {
	for _, part := range []string{id.OwnerID, id.RecordID, id.Field} {
		if part == "" || strings.ContainsAny(part, ";=") {
			return ErrInvalidIdentity
		}
	}
	return nil
}

// Box performs envelope encryption: every record is sealed under a key derived
// from the process-wide master key and the record identity.
//
// Box holds no per-request state and is safe for concurrent use.
type Box struct {
	masterKey []byte
}

// NewBox creates a Box from a 32-byte master key. The key is copied.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	mk := make([]byte, KeySize)
	copy(mk, masterKey)
	return &Box{masterKey: mk}, nil
}

// RecordKey derives the 32-byte key for id using HKDF-SHA256.
func (b *Box) RecordKey(id RecordIdentity) ([]byte, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}

	r := hkdf.New(sha256.New, b.masterKey, recordKeySalt, []byte(id.String()))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive record key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under the key of id. The identity is also bound as
// additional data, so a ciphertext moved to another record fails to open.
func (b *Box) Seal(id RecordIdentity, plaintext []byte) (*Sealed, error) {
	key, err := b.RecordKey(id)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	return seal(plaintext, key, []byte(id.String()))
}

// Open decrypts a record sealed with Seal under the same identity.
func (b *Box) Open(id RecordIdentity, s *Sealed) ([]byte, error) {
	if s == nil {
		return nil, ErrAuthenticationFailed
	}
	key, err := b.RecordKey(id)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	return open(s, key, []byte(id.String()))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
