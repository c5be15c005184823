package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrExpired indicates a missing, consumed or timed-out pending login or session
	ErrExpired = errors.New("expired")

	// ErrInvalidCode indicates a rejected TOTP code
	ErrInvalidCode = errors.New("invalid code")

	// ErrUnauthorized indicates a malformed, forged or revoked token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAccountDisabled indicates that the account is not active
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrAccountExists indicates that email or username is already registered
	ErrAccountExists = errors.New("account already exists")

	// ErrTOTPAlreadyEnabled indicates that account 2FA is already on
	ErrTOTPAlreadyEnabled = errors.New("two-factor authentication is already enabled")

	// ErrTOTPNotEnabled indicates that account 2FA is off
	ErrTOTPNotEnabled = errors.New("two-factor authentication is not enabled")

	// ErrTOTPNotSetUp indicates that Enable2FA was called before Setup2FA
	ErrTOTPNotSetUp = errors.New("two-factor authentication has not been set up")
)
