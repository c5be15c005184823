package boltdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/storage"
)

// CreateCredential stores a new credential with version 1
func (s *Storage) CreateCredential(ctx context.Context, credential *models.Credential) error {
	credential.Version = 1
	return s.db.Update(func(tx *bbolt.Tx) error {
		return insertCredential(tx, credential)
	})
}

func insertCredential(tx *bbolt.Tx, c *models.Credential) error {
	credentials, err := bucket(tx, bucketCredentials)
	if err != nil {
		return err
	}

	if credentials.Get([]byte(c.ID)) != nil {
		return fmt.Errorf("credential %s already exists", c.ID)
	}

	return putJSON(credentials, c.ID, c)
}

// GetCredential retrieves a credential by ID
func (s *Storage) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	var credential *models.Credential

	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		credential, err = getCredential(tx, credentialID)
		return err
	})

	if err != nil {
		return nil, err
	}

	return credential, nil
}

func getCredential(tx *bbolt.Tx, id string) (*models.Credential, error) {
	credentials, err := bucket(tx, bucketCredentials)
	if err != nil {
		return nil, err
	}

	c := &models.Credential{}
	if err := getJSON(credentials, id, c, storage.ErrCredentialNotFound); err != nil {
		return nil, err
	}

	return c, nil
}

// ListCredentials retrieves owner's credentials matching filter
func (s *Storage) ListCredentials(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]*models.Credential, error) {
	credentials := make([]*models.Credential, 0)
	search := strings.ToLower(filter.Search)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketCredentials)
		if err != nil {
			return err
		}

		// Итерируемся по всем записям и фильтруем
		return b.ForEach(func(k, v []byte) error {
			c := &models.Credential{}
			if err := jsonUnmarshal(v, c); err != nil {
				return err
			}

			if c.OwnerID != ownerID {
				return nil
			}
			if filter.Category != "" && c.Category != filter.Category {
				return nil
			}
			if filter.Favorite != nil && c.Favorite != *filter.Favorite {
				return nil
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(c.Title), search) &&
				!strings.Contains(strings.ToLower(c.Username), search) &&
				!strings.Contains(strings.ToLower(c.Website), search) {
				return nil
			}

			credentials = append(credentials, c)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	sort.Slice(credentials, func(i, j int) bool {
		ti, tj := strings.ToLower(credentials[i].Title), strings.ToLower(credentials[j].Title)
		if ti != tj {
			return ti < tj
		}
		return credentials[i].ID < credentials[j].ID
	})

	return credentials, nil
}

// UpdateCredential replaces the credential if its stored version matches.
// LastUsedAt is owned by TouchCredential and is left untouched.
func (s *Storage) UpdateCredential(ctx context.Context, credential *models.Credential) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		current, err := getCredential(tx, credential.ID)
		if err != nil {
			return err
		}

		if current.Version != credential.Version {
			return storage.ErrVersionConflict
		}

		next := credential.Clone()
		next.OwnerID = current.OwnerID
		next.CreatedAt = current.CreatedAt
		next.LastUsedAt = current.LastUsedAt
		next.Version = current.Version + 1

		credentials, err := bucket(tx, bucketCredentials)
		if err != nil {
			return err
		}
		return putJSON(credentials, next.ID, next)
	})

	if err != nil {
		return err
	}

	credential.Version++

	return nil
}

// TouchCredential sets last_used_at without bumping the version
func (s *Storage) TouchCredential(ctx context.Context, credentialID string, usedAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		c, err := getCredential(tx, credentialID)
		if err != nil {
			return err
		}

		usedAt = usedAt.UTC()
		c.LastUsedAt = &usedAt

		credentials, err := bucket(tx, bucketCredentials)
		if err != nil {
			return err
		}
		return putJSON(credentials, c.ID, c)
	})
}

// DeleteCredential deletes credential by ID
func (s *Storage) DeleteCredential(ctx context.Context, credentialID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		credentials, err := bucket(tx, bucketCredentials)
		if err != nil {
			return err
		}

		if credentials.Get([]byte(credentialID)) == nil {
			return storage.ErrCredentialNotFound
		}

		return credentials.Delete([]byte(credentialID))
	})
}
