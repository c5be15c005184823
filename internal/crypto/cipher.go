package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// NonceSize - размер nonce для AES-GCM (12 bytes стандартный размер)
	NonceSize = 12
	// TagSize - размер authentication tag GCM
	TagSize = 16
	// KeySize - размер ключа AES-256
	KeySize = 32
)

// ErrAuthenticationFailed is returned when a ciphertext, nonce or tag does not
// verify under the supplied key. Tampering, truncation and a wrong key all
// collapse into this error.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Sealed is the output of an AES-256-GCM encryption split into its parts.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// Encrypt шифрует данные с использованием AES-256-GCM.
// Nonce генерируется заново при каждом вызове.
func Encrypt(plaintext, key []byte) (ciphertext, nonce, tag []byte, err error) {
	s, err := seal(plaintext, key, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return s.Ciphertext, s.Nonce, s.Tag, nil
}

// Decrypt дешифрует данные, зашифрованные с помощью Encrypt.
// Returns ErrAuthenticationFailed if the tag does not verify.
func Decrypt(ciphertext, nonce, tag, key []byte) ([]byte, error) {
	return open(&Sealed{Ciphertext: ciphertext, Nonce: nonce, Tag: tag}, key, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	// Создаем AES cipher block
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

func seal(plaintext, key, additionalData []byte) (*Sealed, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Генерируем случайный nonce
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM добавляет authentication tag в конец, отделяем его
	out := aesGCM.Seal(nil, nonce, plaintext, additionalData)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split:split],
		Nonce:      nonce,
		Tag:        out[split:],
	}, nil
}

func open(s *Sealed, key, additionalData []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(s.Nonce) != NonceSize || len(s.Tag) != TagSize {
		return nil, ErrAuthenticationFailed
	}

	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	plaintext, err := aesGCM.Open(nil, s.Nonce, buf, additionalData)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}

	return plaintext, nil
}
