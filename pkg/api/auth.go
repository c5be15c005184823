package api

import "time"

// RegisterRequest представляет запрос на регистрацию нового аккаунта
type RegisterRequest struct {
	Email    string `json:"email"`     // email для входа
	Username string `json:"username"`  // уникальный username
	FullName string `json:"full_name"` // отображаемое имя
	Password string `json:"password"`  // пароль в открытом виде (только по TLS)
}

// AccountResponse представляет публичные данные аккаунта
type AccountResponse struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	IsAdmin     bool      `json:"is_admin"`
	TOTPEnabled bool      `json:"totp_enabled"`
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is either a token or a 2FA challenge.
type LoginResponse struct {
	ExpiresAt      time.Time `json:"expires_at"`                 // срок токена или pending login
	AccessToken    string    `json:"access_token,omitempty"`     // выдается, если 2FA не требуется
	PendingLoginID string    `json:"pending_login_id,omitempty"` // передается в /auth/2fa/verify
	Requires2FA    bool      `json:"requires_2fa"`
}

// Verify2FARequest завершает вход с 2FA
type Verify2FARequest struct {
	PendingLoginID string `json:"pending_login_id"`
	Code           string `json:"code"`
}

// TokenResponse представляет ответ с токеном доступа
type TokenResponse struct {
	ExpiresAt   time.Time `json:"expires_at"`
	AccessToken string    `json:"access_token"`
}

// ChangePasswordRequest представляет запрос на смену пароля
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// PasswordRequest подтверждает опасное действие паролем
type PasswordRequest struct {
	Password string `json:"password"`
}

// CodeRequest содержит TOTP код
type CodeRequest struct {
	Code string `json:"code"`
}

// TOTPSetupResponse содержит новый секрет 2FA аккаунта
type TOTPSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"` // otpauth:// для QR кода
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
