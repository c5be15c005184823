package storage

import "errors"

// Common storage errors
var (
	// ErrAccountNotFound indicates that account was not found in storage
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists indicates that account with this email or username already exists
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrSessionNotFound indicates that session was not found
	ErrSessionNotFound = errors.New("session not found")

	// ErrCredentialNotFound indicates that credential was not found
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrVersionConflict indicates that the record was modified concurrently
	ErrVersionConflict = errors.New("version conflict")

	// ErrInviteNotFound indicates that share invite was not found
	ErrInviteNotFound = errors.New("share invite not found")

	// ErrInviteNotPending indicates that the invite was already resolved
	// by the time a status transition was attempted
	ErrInviteNotPending = errors.New("share invite is not pending")

	// ErrTransient marks errors that may succeed on retry (database busy or locked)
	ErrTransient = errors.New("transient storage error")
)
