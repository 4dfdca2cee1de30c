package zerotrust

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpSecretBytes = 20
	qrCodeSize      = 256
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a base32 (unpadded) encoding of 20 random bytes.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

// BuildTOTPURI returns the otpauth provisioning URI understood by
// authenticator apps:
//
//	otpauth://totp/{issuer}:{email}?secret={secret}&issuer={issuer}
func BuildTOTPURI(email, secret, issuer string) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(email)
	return "otpauth://totp/" + label +
		"?secret=" + url.QueryEscape(secret) +
		"&issuer=" + url.QueryEscape(issuer)
}

// RenderQRCode encodes uri as a PNG QR code.
func RenderQRCode(uri string) ([]byte, error) {
	if uri == "" {
		return nil, errors.New("empty provisioning uri")
	}
	return qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
}

// VerifyTOTP checks a 6-digit SHA1 code against a base32 secret with a
// 30 second step and one step of drift either way. Malformed secrets or
// codes return false.
func VerifyTOTP(secret, code string, now time.Time) bool {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	ok, _ := m.Verify(secret, code, now)
	return ok
}

type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	return &totpManager{config: cfg}
}

// ProvisionURI builds the enrollment URI for account under the configured issuer.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	return BuildTOTPURI(account, secretBase32, m.config.Issuer)
}

// Verify decodes a base32 secret and checks code against it.
func (m *totpManager) Verify(secretBase32, code string, now time.Time) (bool, int64) {
	secret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		return false, 0
	}
	ok, counter, err := m.VerifyCode(secret, code, now)
	if err != nil {
		return false, 0
	}
	return ok, counter
}

func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, nil
	}

	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

// decodeTOTPSecret accepts upper or lower case, with or without padding
// and embedded spaces, as authenticator apps display it.
func decodeTOTPSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	normalized = strings.TrimRight(normalized, "=")
	if normalized == "" {
		return nil, errors.New("empty totp secret")
	}
	raw, err := totpEncoding.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty totp secret")
	}
	return raw, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	code := bin % mod
	return fmt.Sprintf("%0*d", digits, code), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
