package models

import "time"

// SharedCategory is assigned to credentials received through an accepted share.
const SharedCategory = "Shared"

// EncryptedRecord is an AES-GCM sealed blob. The three parts are stored
// together and are only meaningful as a unit.
type EncryptedRecord struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
}

// Clone returns a deep copy of the record.
func (r *EncryptedRecord) Clone() *EncryptedRecord {
	if r == nil {
		return nil
	}
	return &EncryptedRecord{
		Ciphertext: append([]byte{}, r.Ciphertext...),
		Nonce:      append([]byte{}, r.Nonce...),
		Tag:        append([]byte{}, r.Tag...),
	}
}

// Credential представляет сохраненные учетные данные (логин/пароль).
// Пароль и TOTP секрет хранятся только в зашифрованном виде.
type Credential struct {
	CreatedAt   time.Time        `json:"created_at"`             // CreatedAt время создания
	UpdatedAt   time.Time        `json:"updated_at"`             // UpdatedAt время последнего изменения
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty"` // LastUsedAt время последнего раскрытия пароля или кода
	Password    *EncryptedRecord `json:"password"`               // Password зашифрованный пароль
	TOTPSecret  *EncryptedRecord `json:"totp_secret,omitempty"`  // TOTPSecret зашифрованный TOTP секрет
	ID          string           `json:"id"`                     // ID уникальный идентификатор записи (UUID)
	OwnerID     string           `json:"owner_id"`               // OwnerID идентификатор владельца
	Title       string           `json:"title"`                  // Title название (например, "GitHub")
	Username    string           `json:"username"`               // Username логин на сайте
	Website     string           `json:"website"`                // Website URL сайта
	Category    string           `json:"category"`               // Category категория
	Version     int64            `json:"version"`                // Version счетчик для optimistic concurrency
	Favorite    bool             `json:"favorite"`               // Favorite флаг избранного
	TOTPEnabled bool             `json:"totp_enabled"`           // TOTPEnabled есть ли TOTP секрет
}

// Clone создает глубокую копию записи
func (c *Credential) Clone() *Credential {
	out := *c
	out.Password = c.Password.Clone()
	out.TOTPSecret = c.TOTPSecret.Clone()
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

// Summary returns the credential without any encrypted material.
func (c *Credential) Summary() CredentialSummary {
	return CredentialSummary{
		ID:          c.ID,
		Title:       c.Title,
		Username:    c.Username,
		Website:     c.Website,
		Category:    c.Category,
		Favorite:    c.Favorite,
		TOTPEnabled: c.TOTPEnabled,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		LastUsedAt:  c.LastUsedAt,
	}
}

// CredentialSummary is the public view of a credential.
type CredentialSummary struct {
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Username    string     `json:"username"`
	Website     string     `json:"website"`
	Category    string     `json:"category"`
	Version     int64      `json:"version"`
	Favorite    bool       `json:"favorite"`
	TOTPEnabled bool       `json:"totp_enabled"`
}

// CredentialFilter narrows a credential listing. Zero value lists everything.
type CredentialFilter struct {
	Favorite *bool  // только избранные / только не избранные
	Category string // точное совпадение категории
	Search   string // подстрока в title, username или website (без учета регистра)
}
