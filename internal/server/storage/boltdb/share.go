package boltdb

import (
	"context"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// CreateInvite stores a new invite
func (s *Storage) CreateInvite(ctx context.Context, invite *models.ShareInvite) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		invites, err := bucket(tx, bucketInvites)
		if err != nil {
			return err
		}
		return putJSON(invites, invite.Token, invite)
	})
}

// GetInvite retrieves invite by token
func (s *Storage) GetInvite(ctx context.Context, token string) (*models.ShareInvite, error) {
	invite := &models.ShareInvite{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		invites, err := bucket(tx, bucketInvites)
		if err != nil {
			return err
		}
		return getJSON(invites, token, invite, storage.ErrInviteNotFound)
	})

	if err != nil {
		return nil, err
	}

	return invite, nil
}

// forEachInvite вызывает fn для каждого приглашения
func (s *Storage) forEachInvite(fn func(*models.ShareInvite)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		invites, err := bucket(tx, bucketInvites)
		if err != nil {
			return err
		}
		return invites.ForEach(func(k, v []byte) error {
			invite := &models.ShareInvite{}
			if err := jsonUnmarshal(v, invite); err != nil {
				return err
			}
			fn(invite)
			return nil
		})
	})
}

// ListPendingInvites retrieves unexpired pending invites addressed to recipientEmail
func (s *Storage) ListPendingInvites(ctx context.Context, recipientEmail string, now time.Time) ([]*models.ShareInvite, error) {
	invites := make([]*models.ShareInvite, 0)

	err := s.forEachInvite(func(inv *models.ShareInvite) {
		if inv.RecipientEmail == recipientEmail && inv.Status == models.ShareStatusPending && !inv.Expired(now) {
			invites = append(invites, inv)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.After(invites[j].CreatedAt)
	})

	return invites, nil
}

// InviteStats counts sent, accepted and pending invites for an account
func (s *Storage) InviteStats(ctx context.Context, accountID, email string, now time.Time) (models.ShareStats, error) {
	var stats models.ShareStats

	err := s.forEachInvite(func(inv *models.ShareInvite) {
		if inv.SenderID == accountID {
			stats.Sent++
		}
		if inv.RecipientEmail != email {
			return
		}
		switch {
		case inv.Status == models.ShareStatusAccepted:
			stats.Received++
		case inv.Status == models.ShareStatusPending && !inv.Expired(now):
			stats.Pending++
		}
	})
	if err != nil {
		return models.ShareStats{}, err
	}

	return stats, nil
}

// ResolveInvite atomically transitions invite status and optionally inserts
// the granted credential in the same transaction
func (s *Storage) ResolveInvite(ctx context.Context, token string, from, to models.ShareStatus, resolvedAt time.Time, grant *models.Credential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		invites, err := bucket(tx, bucketInvites)
		if err != nil {
			return err
		}

		invite := &models.ShareInvite{}
		if err := getJSON(invites, token, invite, storage.ErrInviteNotFound); err != nil {
			return err
		}

		if invite.Status != from {
			return storage.ErrInviteNotPending
		}

		resolvedAt = resolvedAt.UTC()
		invite.Status = to
		invite.ResolvedAt = &resolvedAt

		if grant != nil {
			grant.Version = 1
			// Ошибка вставки откатывает всю транзакцию, включая смену статуса
			if err := insertCredential(tx, grant); err != nil {
				return err
			}
		}

		return putJSON(invites, token, invite)
	})
}
