package models

import "time"

// ShareStatus is the lifecycle state of a share invite.
type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusAccepted ShareStatus = "accepted"
	ShareStatusRejected ShareStatus = "rejected"
	ShareStatusExpired  ShareStatus = "expired"
)

// ShareInvite представляет приглашение на получение копии учетных данных.
// Password и TOTPSecret запечатаны под идентичностью приглашения, а не
// под ключом отправителя или получателя.
type ShareInvite struct {
	CreatedAt      time.Time        // время создания
	ExpiresAt      time.Time        // после этого момента принять нельзя
	ResolvedAt     *time.Time       // время перехода из pending
	Password       *EncryptedRecord // пароль, запечатанный под приглашение
	TOTPSecret     *EncryptedRecord // TOTP секрет, если был включен
	Token          string           // непрозрачный токен приглашения
	CredentialID   string           // исходная запись отправителя
	SenderID       string           // ID отправителя
	SenderEmail    string           // email отправителя (для показа получателю)
	RecipientEmail string           // email получателя
	Title          string           // снимок метаданных на момент отправки
	Username       string
	Website        string
	Status         ShareStatus
}

// Expired reports whether the invite's acceptance window has passed at now.
func (i *ShareInvite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// ShareStats counts invites related to one account.
type ShareStats struct {
	Sent     int `json:"sent"`
	Received int `json:"received"`
	Pending  int `json:"pending"`
}
