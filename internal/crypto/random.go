package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomBytes returns n bytes from crypto/rand. It panics if the system
// random source fails, which only happens on a broken host.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto: failed to read random bytes: " + err.Error())
	}
	return b
}

// RandomToken returns n random bytes encoded as unpadded URL-safe base64.
func RandomToken(n int) string {
	return base64.RawURLEncoding.EncodeToString(RandomBytes(n))
}
