// Package validation содержит проверки пользовательского ввода.
// Все ошибки оборачивают ErrInvalid, чтобы обработчики могли вернуть 400.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid input")

// UsernamePattern определяет допустимый формат username
// Только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_)
// Длина: 3-32 символа
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

const (
	// MinUsernameLen минимальная длина username
	MinUsernameLen = 3
	// MaxUsernameLen максимальная длина username
	MaxUsernameLen = 32
	// MinPasswordLen минимальная длина пароля аккаунта
	MinPasswordLen = 12
	// MaxPasswordLen ограничивает стоимость хеширования
	MaxPasswordLen = 256
	// MaxEmailLen максимальная длина email (RFC 5321)
	MaxEmailLen = 254
	// MaxFieldLen максимальная длина текстовых полей записи
	MaxFieldLen = 512
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidateUsername проверяет, что username соответствует требованиям
// Формат: только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_)
// Длина: 3-32 символа
func ValidateUsername(username string) error {
	if username == "" {
		return invalid("username cannot be empty")
	}

	if len(username) < MinUsernameLen {
		return invalid("username must be at least %d characters long", MinUsernameLen)
	}

	if len(username) > MaxUsernameLen {
		return invalid("username must not exceed %d characters", MaxUsernameLen)
	}

	if !UsernamePattern.MatchString(username) {
		return invalid("username can only contain letters (a-z, A-Z), numbers (0-9), and underscores (_)")
	}

	return nil
}

// NormalizeEmail приводит email к каноническому виду для поиска и сравнения
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail проверяет email. Ожидает уже нормализованное значение.
func ValidateEmail(email string) error {
	if email == "" {
		return invalid("email cannot be empty")
	}

	if len(email) > MaxEmailLen {
		return invalid("email must not exceed %d characters", MaxEmailLen)
	}

	// Разрешаем только голый адрес, без "Name <addr>"
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return invalid("email %q is not a valid address", email)
	}

	return nil
}

// ValidatePassword проверяет политику паролей аккаунта:
// минимум 12 символов, строчная и заглавная буквы, цифра и спецсимвол
func ValidatePassword(password string) error {
	if password == "" {
		return invalid("password cannot be empty")
	}

	if len([]rune(password)) < MinPasswordLen {
		return invalid("password must be at least %d characters long", MinPasswordLen)
	}

	if len(password) > MaxPasswordLen {
		return invalid("password must not exceed %d bytes", MaxPasswordLen)
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}

	if !lower || !upper || !digit || !special {
		return invalid("password must contain at least one lowercase letter, one uppercase letter, one digit, and one special character")
	}

	return nil
}

// ValidateTitle проверяет название записи
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return invalid("title cannot be empty")
	}
	return ValidateField("title", title)
}

// ValidateField ограничивает длину необязательного текстового поля
func ValidateField(name, value string) error {
	if len(value) > MaxFieldLen {
		return invalid("%s must not exceed %d characters", name, MaxFieldLen)
	}
	return nil
}
