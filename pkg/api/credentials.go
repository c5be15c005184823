package api

// CredentialRequest создает или обновляет запись.
// При обновлении пароль меняется, только если поле передано.
type CredentialRequest struct {
	Password   *string `json:"password,omitempty"`
	Title      string  `json:"title"`
	Username   string  `json:"username"`
	Website    string  `json:"website"`
	Category   string  `json:"category"`
	TOTPSecret string  `json:"totp_secret,omitempty"` // только при создании
	Version    int64   `json:"version,omitempty"`     // ожидаемая версия при обновлении
	Favorite   bool    `json:"favorite"`
}

// FavoriteRequest переключает флаг избранного
type FavoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// RevealResponse содержит расшифрованный пароль
type RevealResponse struct {
	Password string `json:"password"`
}

// TOTPSecretRequest задает TOTP секрет записи
type TOTPSecretRequest struct {
	Secret string `json:"secret"`
}

// TOTPCodeResponse содержит текущий код и время до его смены
type TOTPCodeResponse struct {
	Code             string `json:"code"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Interval         int    `json:"interval"`
}

// ImportRequest содержит записи для массового импорта
type ImportRequest struct {
	Credentials []CredentialRequest `json:"credentials"`
}

// ImportResponse сообщает итог импорта
type ImportResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}
