package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

const accountColumns = `id, email, username, full_name, password_hash, is_admin, is_active,
	totp_enabled, totp_ciphertext, totp_nonce, totp_tag, created_at, updated_at`

// CreateAccount creates a new account in the storage
func (s *Storage) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ct, nonce, tag := encryptedArgs(account.TOTPSecret)
	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.Username,
		account.FullName,
		account.PasswordHash,
		boolToInt(account.IsAdmin),
		boolToInt(account.IsActive),
		boolToInt(account.TOTPEnabled),
		ct, nonce, tag,
		toUnix(account.CreatedAt),
		toUnix(account.UpdatedAt),
	)

	if err != nil {
		// Проверяем на duplicate email/username
		if isUniqueViolation(err) {
			return storage.ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to insert account: %w", classify(err))
	}

	return nil
}

// GetAccountByEmail retrieves account by email
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return s.getAccount(ctx, query, email)
}

// GetAccountByID retrieves account by ID
func (s *Storage) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return s.getAccount(ctx, query, accountID)
}

func (s *Storage) getAccount(ctx context.Context, query string, arg string) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", classify(err))
	}
	return account, nil
}

func scanAccount(row scanner) (*models.Account, error) {
	var (
		account              models.Account
		isAdmin, isActive    int
		totpEnabled          int
		ct, nonce, tag       []byte
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.FullName,
		&account.PasswordHash,
		&isAdmin,
		&isActive,
		&totpEnabled,
		&ct, &nonce, &tag,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.IsAdmin = isAdmin != 0
	account.IsActive = isActive != 0
	account.TOTPEnabled = totpEnabled != 0
	account.TOTPSecret = encryptedRecord(ct, nonce, tag)
	account.CreatedAt = fromUnix(createdAt)
	account.UpdatedAt = fromUnix(updatedAt)

	return &account, nil
}

// UpdateAccount updates account information
func (s *Storage) UpdateAccount(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET full_name = ?, password_hash = ?, is_admin = ?, is_active = ?,
		    totp_enabled = ?, totp_ciphertext = ?, totp_nonce = ?, totp_tag = ?,
		    updated_at = ?
		WHERE id = ?
	`

	ct, nonce, tag := encryptedArgs(account.TOTPSecret)
	result, err := s.db.ExecContext(ctx, query,
		account.FullName,
		account.PasswordHash,
		boolToInt(account.IsAdmin),
		boolToInt(account.IsActive),
		boolToInt(account.TOTPEnabled),
		ct, nonce, tag,
		toUnix(account.UpdatedAt),
		account.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update account: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

// DeleteAccount deletes account by ID. Credentials, sessions and sent invites
// go with it through ON DELETE CASCADE; invites addressed to the account's
// email are removed explicitly.
func (s *Storage) DeleteAccount(ctx context.Context, accountID string) error {
	return s.withTx(ctx, func(tx dbtx) error {
		var email string
		err := tx.QueryRowContext(ctx, `SELECT email FROM accounts WHERE id = ?`, accountID).Scan(&email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrAccountNotFound
			}
			return fmt.Errorf("failed to get account: %w", classify(err))
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM share_invites WHERE recipient_email = ?`, email); err != nil {
			return fmt.Errorf("failed to delete received invites: %w", classify(err))
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID); err != nil {
			return fmt.Errorf("failed to delete account: %w", classify(err))
		}

		return nil
	})
}
