// Package totp implements RFC 6238 time-based one-time passwords.
//
// The engine is a pure function of (secret, time): it keeps no state, starts no
// timers and performs no I/O. Clients that display a countdown poll
// CurrentCode or compute the remaining seconds locally.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/authron/internal/crypto"
)

const (
	// DefaultInterval is the time step length.
	DefaultInterval = 30 * time.Second
	// DefaultDigits is the code length.
	DefaultDigits = 6
	// DefaultSkew is the number of adjacent steps accepted on each side of the
	// current one by Verify. One step (±30s) tolerates ordinary clock drift
	// between the server and the authenticator; accepting the next step is
	// intentional.
	DefaultSkew = 1
	// SecretSize is the length in bytes of generated secrets (160 bits).
	SecretSize = 20
	// Issuer is shown by authenticator apps next to the account name.
	Issuer = "Authron"
)

// ErrInvalidSecret is returned when a secret is not valid base32 or is too short.
var ErrInvalidSecret = errors.New("invalid TOTP secret")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Code is a generated one-time code with its validity countdown.
type Code struct {
	Code             string `json:"code"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Interval         int    `json:"interval"`
}

// Engine derives and verifies codes. The zero value is not usable; use New.
type Engine struct {
	interval time.Duration
	digits   int
	skew     int
}

// New creates an engine with the default interval, digits and the given skew.
// A negative skew is treated as zero.
func New(skew int) *Engine {
	if skew < 0 {
		skew = 0
	}
	return &Engine{
		interval: DefaultInterval,
		digits:   DefaultDigits,
		skew:     skew,
	}
}

// Interval returns the step length in whole seconds.
func (e *Engine) Interval() int {
	return int(e.interval / time.Second)
}

// CurrentCode returns the code for the step containing now and the number of
// seconds the code remains valid, which is always within (0, interval].
func (e *Engine) CurrentCode(secret string, now time.Time) (Code, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return Code{}, err
	}

	interval := int64(e.Interval())
	unix := now.Unix()
	step := floorDiv(unix, interval)

	return Code{
		Code:             e.generate(key, step),
		RemainingSeconds: int(interval - floorMod(unix, interval)),
		Interval:         int(interval),
	}, nil
}

// Verify reports whether code matches the step containing now or one of the
// skew steps on either side of it. Malformed secrets and codes never verify.
func (e *Engine) Verify(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != e.digits {
		return false
	}
	key, err := DecodeSecret(secret)
	if err != nil {
		return false
	}

	step := floorDiv(now.Unix(), int64(e.Interval()))
	matched := 0
	for offset := -e.skew; offset <= e.skew; offset++ {
		candidate := e.generate(key, step+int64(offset))
		matched |= subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
	}
	return matched == 1
}

// generate applies HOTP (RFC 4226) to a time step.
func (e *Engine) generate(key []byte, step int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(step))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// dynamic truncation
	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < e.digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", e.digits, bin%mod)
}

// NormalizeSecret strips whitespace and padding and upper-cases the secret,
// which is how authenticator apps display it.
func NormalizeSecret(secret string) string {
	secret = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, secret)
	return strings.TrimRight(strings.ToUpper(secret), "=")
}

// DecodeSecret decodes a base32 secret after normalization.
func DecodeSecret(secret string) ([]byte, error) {
	key, err := b32.DecodeString(NormalizeSecret(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	// RFC 4226 requires at least 128 bits; 80 bits is accepted because many
	// services still issue 16-character secrets.
	if len(key) < 10 {
		return nil, fmt.Errorf("%w: secret too short", ErrInvalidSecret)
	}
	return key, nil
}

// ValidateSecret reports whether secret can be used to derive codes.
func ValidateSecret(secret string) error {
	_, err := DecodeSecret(secret)
	return err
}

// GenerateSecret returns a new random base32 secret.
func GenerateSecret() string {
	return b32.EncodeToString(crypto.RandomBytes(SecretSize))
}

// ProvisioningURI builds the otpauth:// URI authenticator apps import.
func ProvisioningURI(secret, account string) string {
	label := url.PathEscape(Issuer + ":" + account)

	q := url.Values{}
	q.Set("secret", NormalizeSecret(secret))
	q.Set("issuer", Issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(DefaultDigits))
	q.Set("period", strconv.Itoa(int(DefaultInterval/time.Second)))

	return "otpauth://totp/" + label + "?" + q.Encode()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
