package api

import "time"

// ShareRequest представляет запрос на передачу записи другому пользователю
type ShareRequest struct {
	CredentialID   string `json:"credential_id"`
	RecipientEmail string `json:"recipient_email"`
}

// ShareResponse описывает созданное приглашение
type ShareResponse struct {
	ExpiresAt      time.Time `json:"expires_at"`
	Token          string    `json:"token"`
	RecipientEmail string    `json:"recipient_email"`
}

// PendingShareResponse описывает входящее приглашение
type PendingShareResponse struct {
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Token       string    `json:"token"`
	Title       string    `json:"title"`
	Username    string    `json:"username"`
	Website     string    `json:"website"`
	SenderEmail string    `json:"sender_email"`
}
