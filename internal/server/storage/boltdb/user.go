package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// accountRecord mirrors models.Account including the fields hidden from JSON
type accountRecord struct {
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
	TOTPSecret   *models.EncryptedRecord `json:"totp_secret,omitempty"`
	ID           string                  `json:"id"`
	Email        string                  `json:"email"`
	Username     string                  `json:"username"`
	FullName     string                  `json:"full_name"`
	PasswordHash string                  `json:"password_hash"`
	IsAdmin      bool                    `json:"is_admin"`
	IsActive     bool                    `json:"is_active"`
	TOTPEnabled  bool                    `json:"totp_enabled"`
}

func toRecord(a *models.Account) accountRecord {
	return accountRecord(*a)
}

func fromRecord(r accountRecord) *models.Account {
	a := models.Account(r)
	return &a
}

// CreateAccount creates a new account in the storage
func (s *Storage) CreateAccount(ctx context.Context, account *models.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		accounts, err := bucket(tx, bucketAccounts)
		if err != nil {
			return err
		}
		emails, err := bucket(tx, bucketEmails)
		if err != nil {
			return err
		}
		usernames, err := bucket(tx, bucketUsernames)
		if err != nil {
			return err
		}

		// Проверяем уникальность id, email и username
		if accounts.Get([]byte(account.ID)) != nil ||
			emails.Get([]byte(account.Email)) != nil ||
			usernames.Get([]byte(account.Username)) != nil {
			return storage.ErrAccountAlreadyExists
		}

		if err := putJSON(accounts, account.ID, toRecord(account)); err != nil {
			return err
		}
		if err := emails.Put([]byte(account.Email), []byte(account.ID)); err != nil {
			return fmt.Errorf("failed to index email: %w", err)
		}
		if err := usernames.Put([]byte(account.Username), []byte(account.ID)); err != nil {
			return fmt.Errorf("failed to index username: %w", err)
		}

		return nil
	})
}

// GetAccountByEmail retrieves account by email
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account *models.Account

	err := s.db.View(func(tx *bbolt.Tx) error {
		emails, err := bucket(tx, bucketEmails)
		if err != nil {
			return err
		}

		id := emails.Get([]byte(email))
		if id == nil {
			return storage.ErrAccountNotFound
		}

		account, err = getAccount(tx, string(id))
		return err
	})

	if err != nil {
		return nil, err
	}

	return account, nil
}

// GetAccountByID retrieves account by ID
func (s *Storage) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	var account *models.Account

	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		account, err = getAccount(tx, accountID)
		return err
	})

	if err != nil {
		return nil, err
	}

	return account, nil
}

func getAccount(tx *bbolt.Tx, id string) (*models.Account, error) {
	accounts, err := bucket(tx, bucketAccounts)
	if err != nil {
		return nil, err
	}

	var rec accountRecord
	if err := getJSON(accounts, id, &rec, storage.ErrAccountNotFound); err != nil {
		return nil, err
	}

	return fromRecord(rec), nil
}

// UpdateAccount updates mutable account fields. Email and username are immutable.
func (s *Storage) UpdateAccount(ctx context.Context, account *models.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		current, err := getAccount(tx, account.ID)
		if err != nil {
			return err
		}

		current.FullName = account.FullName
		current.PasswordHash = account.PasswordHash
		current.IsAdmin = account.IsAdmin
		current.IsActive = account.IsActive
		current.TOTPEnabled = account.TOTPEnabled
		current.TOTPSecret = account.TOTPSecret
		current.UpdatedAt = account.UpdatedAt

		accounts, err := bucket(tx, bucketAccounts)
		if err != nil {
			return err
		}
		return putJSON(accounts, current.ID, toRecord(current))
	})
}

// DeleteAccount deletes account with its credentials, sessions and invites
func (s *Storage) DeleteAccount(ctx context.Context, accountID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		account, err := getAccount(tx, accountID)
		if err != nil {
			return err
		}

		err = deleteWhere(tx, bucketCredentials, func(v []byte) (bool, error) {
			var c models.Credential
			if err := jsonUnmarshal(v, &c); err != nil {
				return false, err
			}
			return c.OwnerID == accountID, nil
		})
		if err != nil {
			return err
		}

		err = deleteWhere(tx, bucketSessions, func(v []byte) (bool, error) {
			var sess models.Session
			if err := jsonUnmarshal(v, &sess); err != nil {
				return false, err
			}
			return sess.AccountID == accountID, nil
		})
		if err != nil {
			return err
		}

		err = deleteWhere(tx, bucketInvites, func(v []byte) (bool, error) {
			var inv models.ShareInvite
			if err := jsonUnmarshal(v, &inv); err != nil {
				return false, err
			}
			return inv.SenderID == accountID || inv.RecipientEmail == account.Email, nil
		})
		if err != nil {
			return err
		}

		for name, key := range map[string][]byte{
			string(bucketEmails):    []byte(account.Email),
			string(bucketUsernames): []byte(account.Username),
			string(bucketAccounts):  []byte(account.ID),
		} {
			b, err := bucket(tx, []byte(name))
			if err != nil {
				return err
			}
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", name, err)
			}
		}

		return nil
	})
}

// deleteWhere удаляет из bucket все значения, для которых match вернул true.
// Ключи собираются заранее: bbolt не разрешает удаление во время ForEach.
func deleteWhere(tx *bbolt.Tx, name []byte, match func(v []byte) (bool, error)) error {
	b, err := bucket(tx, name)
	if err != nil {
		return err
	}

	var keys [][]byte
	err = b.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if err != nil {
			return err
		}
		if ok {
			keys = append(keys, append([]byte{}, k...))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", name, err)
		}
	}

	return nil
}
