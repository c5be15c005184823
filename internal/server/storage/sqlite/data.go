package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

const credentialColumns = `id, owner_id, title, username, website, category, favorite,
	password_ciphertext, password_nonce, password_tag,
	totp_enabled, totp_ciphertext, totp_nonce, totp_tag,
	version, created_at, updated_at, last_used_at`

// CreateCredential stores a new credential with version 1
func (s *Storage) CreateCredential(ctx context.Context, credential *models.Credential) error {
	credential.Version = 1
	if err := insertCredential(ctx, s.db, credential); err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func insertCredential(ctx context.Context, db dbtx, c *models.Credential) error {
	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	pct, pnonce, ptag := encryptedArgs(c.Password)
	tct, tnonce, ttag := encryptedArgs(c.TOTPSecret)

	_, err := db.ExecContext(ctx, query,
		c.ID,
		c.OwnerID,
		c.Title,
		c.Username,
		c.Website,
		c.Category,
		boolToInt(c.Favorite),
		pct, pnonce, ptag,
		boolToInt(c.TOTPEnabled),
		tct, tnonce, ttag,
		c.Version,
		toUnix(c.CreatedAt),
		toUnix(c.UpdatedAt),
		nullUnix(c.LastUsedAt),
	)
	return classify(err)
}

// GetCredential retrieves a credential by ID
func (s *Storage) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`

	credential, err := scanCredential(s.db.QueryRowContext(ctx, query, credentialID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", classify(err))
	}

	return credential, nil
}

// ListCredentials retrieves owner's credentials matching filter
func (s *Storage) ListCredentials(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]*models.Credential, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{ownerID}
	)

	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	if filter.Favorite != nil {
		where = append(where, "favorite = ?")
		args = append(args, boolToInt(*filter.Favorite))
	}

	if filter.Search != "" {
		// Экранируем спецсимволы LIKE
		pattern := "%" + likeEscaper.Replace(strings.ToLower(filter.Search)) + "%"
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(username) LIKE ? ESCAPE '\' OR lower(website) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY title COLLATE NOCASE, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	credentials := make([]*models.Credential, 0)

	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", classify(err))
	}

	return credentials, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func scanCredential(row scanner) (*models.Credential, error) {
	var (
		c                    models.Credential
		favorite, totp       int
		pct, pnonce, ptag    []byte
		tct, tnonce, ttag    []byte
		createdAt, updatedAt int64
		lastUsedAt           sql.NullInt64
	)

	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Title,
		&c.Username,
		&c.Website,
		&c.Category,
		&favorite,
		&pct, &pnonce, &ptag,
		&totp,
		&tct, &tnonce, &ttag,
		&c.Version,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Favorite = favorite != 0
	c.TOTPEnabled = totp != 0
	c.Password = encryptedRecord(pct, pnonce, ptag)
	c.TOTPSecret = encryptedRecord(tct, tnonce, ttag)
	c.CreatedAt = fromUnix(createdAt)
	c.UpdatedAt = fromUnix(updatedAt)
	c.LastUsedAt = fromNullUnix(lastUsedAt)

	return &c, nil
}

// UpdateCredential replaces the credential if its stored version matches.
// last_used_at is owned by TouchCredential and is left untouched.
func (s *Storage) UpdateCredential(ctx context.Context, credential *models.Credential) error {
	query := `
		UPDATE credentials
		SET title = ?, username = ?, website = ?, category = ?, favorite = ?,
		    password_ciphertext = ?, password_nonce = ?, password_tag = ?,
		    totp_enabled = ?, totp_ciphertext = ?, totp_nonce = ?, totp_tag = ?,
		    updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	pct, pnonce, ptag := encryptedArgs(credential.Password)
	tct, tnonce, ttag := encryptedArgs(credential.TOTPSecret)

	result, err := s.db.ExecContext(ctx, query,
		credential.Title,
		credential.Username,
		credential.Website,
		credential.Category,
		boolToInt(credential.Favorite),
		pct, pnonce, ptag,
		boolToInt(credential.TOTPEnabled),
		tct, tnonce, ttag,
		toUnix(credential.UpdatedAt),
		credential.ID,
		credential.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// Отличаем отсутствие записи от устаревшей версии
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM credentials WHERE id = ?`, credential.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrCredentialNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check credential: %w", classify(err))
		}
		return storage.ErrVersionConflict
	}

	credential.Version++

	return nil
}

// TouchCredential sets last_used_at without bumping the version
func (s *Storage) TouchCredential(ctx context.Context, credentialID string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE id = ?`,
		toUnix(usedAt), credentialID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrCredentialNotFound
	}

	return nil
}

// DeleteCredential deletes credential by ID
func (s *Storage) DeleteCredential(ctx context.Context, credentialID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrCredentialNotFound
	}

	return nil
}
