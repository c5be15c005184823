package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

const inviteColumns = `token, credential_id, sender_id, sender_email, recipient_email,
	title, username, website,
	password_ciphertext, password_nonce, password_tag,
	totp_ciphertext, totp_nonce, totp_tag,
	status, created_at, expires_at, resolved_at`

// CreateInvite stores a new invite
func (s *Storage) CreateInvite(ctx context.Context, invite *models.ShareInvite) error {
	query := `
		INSERT INTO share_invites (` + inviteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	pct, pnonce, ptag := encryptedArgs(invite.Password)
	tct, tnonce, ttag := encryptedArgs(invite.TOTPSecret)

	_, err := s.db.ExecContext(ctx, query,
		invite.Token,
		invite.CredentialID,
		invite.SenderID,
		invite.SenderEmail,
		invite.RecipientEmail,
		invite.Title,
		invite.Username,
		invite.Website,
		pct, pnonce, ptag,
		tct, tnonce, ttag,
		string(invite.Status),
		toUnix(invite.CreatedAt),
		toUnix(invite.ExpiresAt),
		nullUnix(invite.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invite: %w", classify(err))
	}

	return nil
}

// GetInvite retrieves invite by token
func (s *Storage) GetInvite(ctx context.Context, token string) (*models.ShareInvite, error) {
	query := `SELECT ` + inviteColumns + ` FROM share_invites WHERE token = ?`

	invite, err := scanInvite(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to get invite: %w", classify(err))
	}

	return invite, nil
}

// ListPendingInvites retrieves unexpired pending invites addressed to recipientEmail
func (s *Storage) ListPendingInvites(ctx context.Context, recipientEmail string, now time.Time) ([]*models.ShareInvite, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM share_invites
		WHERE recipient_email = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, recipientEmail, string(models.ShareStatusPending), toUnix(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query invites: %w", classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	invites := make([]*models.ShareInvite, 0)

	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, invite)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", classify(err))
	}

	return invites, nil
}

// InviteStats counts sent, accepted and pending invites for an account
func (s *Storage) InviteStats(ctx context.Context, accountID, email string, now time.Time) (models.ShareStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM share_invites WHERE sender_id = ?),
			(SELECT COUNT(*) FROM share_invites WHERE recipient_email = ? AND status = ?),
			(SELECT COUNT(*) FROM share_invites WHERE recipient_email = ? AND status = ? AND expires_at > ?)
	`

	var stats models.ShareStats
	err := s.db.QueryRowContext(ctx, query,
		accountID,
		email, string(models.ShareStatusAccepted),
		email, string(models.ShareStatusPending), toUnix(now),
	).Scan(&stats.Sent, &stats.Received, &stats.Pending)
	if err != nil {
		return models.ShareStats{}, fmt.Errorf("failed to count invites: %w", classify(err))
	}

	return stats, nil
}

// ResolveInvite atomically transitions invite status and optionally inserts
// the granted credential in the same transaction
func (s *Storage) ResolveInvite(ctx context.Context, token string, from, to models.ShareStatus, resolvedAt time.Time, grant *models.Credential) error {
	return s.withTx(ctx, func(tx dbtx) error {
		// Условное обновление: только один из конкурирующих вызовов увидит rows == 1
		result, err := tx.ExecContext(ctx,
			`UPDATE share_invites SET status = ?, resolved_at = ? WHERE token = ? AND status = ?`,
			string(to), toUnix(resolvedAt), token, string(from),
		)
		if err != nil {
			return fmt.Errorf("failed to update invite: %w", classify(err))
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rows == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM share_invites WHERE token = ?`, token).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrInviteNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to check invite: %w", classify(err))
			}
			return storage.ErrInviteNotPending
		}

		if grant != nil {
			grant.Version = 1
			if err := insertCredential(ctx, tx, grant); err != nil {
				return fmt.Errorf("failed to insert granted credential: %w", err)
			}
		}

		return nil
	})
}

func scanInvite(row scanner) (*models.ShareInvite, error) {
	var (
		invite               models.ShareInvite
		pct, pnonce, ptag    []byte
		tct, tnonce, ttag    []byte
		status               string
		createdAt, expiresAt int64
		resolvedAt           sql.NullInt64
	)

	err := row.Scan(
		&invite.Token,
		&invite.CredentialID,
		&invite.SenderID,
		&invite.SenderEmail,
		&invite.RecipientEmail,
		&invite.Title,
		&invite.Username,
		&invite.Website,
		&pct, &pnonce, &ptag,
		&tct, &tnonce, &ttag,
		&status,
		&createdAt,
		&expiresAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	invite.Password = encryptedRecord(pct, pnonce, ptag)
	invite.TOTPSecret = encryptedRecord(tct, tnonce, ttag)
	invite.Status = models.ShareStatus(status)
	invite.CreatedAt = fromUnix(createdAt)
	invite.ExpiresAt = fromUnix(expiresAt)
	invite.ResolvedAt = fromNullUnix(resolvedAt)

	return &invite, nil
}
