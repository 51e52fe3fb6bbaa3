package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("invalid token format")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
)

// SignedURLSigner issues short-lived download tokens bound to a stored name
// and the user allowed to fetch it.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Grant is the payload carried by a download token.
type Grant struct {
	Name      string
	Subject   string
	ExpiresAt time.Time
}

// Generate returns a token granting subject access to name until now+ttl.
func (s *SignedURLSigner) Generate(subject, name string) (string, time.Time, error) {
	if subject == "" || name == "" {
		return "", time.Time{}, fmt.Errorf("subject and name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	encSubject := base64.RawURLEncoding.EncodeToString([]byte(subject))
	encName := base64.RawURLEncoding.EncodeToString([]byte(name))
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	signature := s.sign(encSubject, exp, encName)
	return strings.Join([]string{encSubject, exp, encName, signature}, "."), expiresAt, nil
}

// Parse validates a token and returns its grant.
func (s *SignedURLSigner) Parse(token string) (Grant, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return Grant{}, ErrTokenMalformed
	}
	encSubject, exp, encName, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(encSubject, exp, encName)), []byte(signature)) {
		return Grant{}, ErrTokenSignature
	}
	subject, err := base64.RawURLEncoding.DecodeString(encSubject)
	if err != nil {
		return Grant{}, ErrTokenMalformed
	}
	name, err := base64.RawURLEncoding.DecodeString(encName)
	if err != nil {
		return Grant{}, ErrTokenMalformed
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return Grant{}, ErrTokenMalformed
	}
	grant := Grant{Name: string(name), Subject: string(subject), ExpiresAt: time.Unix(expUnix, 0)}
	if s.now().After(grant.ExpiresAt) {
		return Grant{}, ErrTokenExpired
	}
	return grant, nil
}

func (s *SignedURLSigner) sign(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
