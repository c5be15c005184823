package models

import "time"

// Account представляет пользователя хранилища
type Account struct {
	CreatedAt    time.Time        `json:"created_at"`   // время создания
	UpdatedAt    time.Time        `json:"updated_at"`   // время последнего обновления
	TOTPSecret   *EncryptedRecord `json:"-"`            // зашифрованный секрет 2FA аккаунта
	ID           string           `json:"id"`           // UUID аккаунта
	Email        string           `json:"email"`        // уникальный email, используется для входа
	Username     string           `json:"username"`     // уникальный username
	FullName     string           `json:"full_name"`    // отображаемое имя
	PasswordHash string           `json:"-"`            // argon2id хеш пароля в PHC формате
	IsAdmin      bool             `json:"is_admin"`     // администратор
	IsActive     bool             `json:"is_active"`    // отключенный аккаунт не может войти
	TOTPEnabled  bool             `json:"totp_enabled"` // включена ли 2FA на вход
}

// Session is a server-side record backing an issued access token.
type Session struct {
	IssuedAt  time.Time `json:"issued_at"`  // время выдачи
	ExpiresAt time.Time `json:"expires_at"` // время истечения
	ID        string    `json:"id"`         // идентификатор сессии (claim sid в токене)
	AccountID string    `json:"account_id"` // ID владельца сессии
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// PendingLogin is the transient "password verified, second factor outstanding"
// state. It is never persisted.
type PendingLogin struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	AccountID string
	Attempts  int // количество неверных кодов
}

// Expired reports whether the pending login can no longer be completed at now.
func (p *PendingLogin) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
