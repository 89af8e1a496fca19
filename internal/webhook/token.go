package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Callback URLs issued to the provider embed a signed capability proving
// this system minted the URL for a specific user. The token is an HMAC over
// (issuance timestamp, user id); it is the resolver's strategy of last
// resort and the only one that can reject outright on its own.

var (
	ErrTokenInvalid = errors.New("webhook: token signature invalid")
	ErrTokenExpired = errors.New("webhook: token expired")
)

// TokenParams are the raw query parameters carrying a token.
type TokenParams struct {
	UserID    string
	IssuedAt  string
	Signature string
}

// Present reports whether the callback URL carried a token at all.
func (p TokenParams) Present() bool {
	return p.UserID != "" || p.IssuedAt != "" || p.Signature != ""
}

// TokenSigner issues and verifies webhook capability tokens.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 || ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, clock: time.Now}
}

// Issue returns the query parameters to append to a callback URL.
func (s *TokenSigner) Issue(userID string) url.Values {
	ts := strconv.FormatInt(s.clock().UTC().Unix(), 10)
	v := url.Values{}
	v.Set("uid", userID)
	v.Set("ts", ts)
	v.Set("tok", s.sign(userID, ts))
	return v
}

// Verify checks the signature (constant time) and the freshness window.
// Any failure is terminal for the resolution attempt: the caller must
// reject, not fall through to weaker signals.
func (s *TokenSigner) Verify(p TokenParams) error {
	if p.UserID == "" || p.IssuedAt == "" || p.Signature == "" {
		return ErrTokenInvalid
	}
	want := s.sign(p.UserID, p.IssuedAt)
	if !hmac.Equal([]byte(want), []byte(p.Signature)) {
		return ErrTokenInvalid
	}
	issued, err := strconv.ParseInt(p.IssuedAt, 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}
	now := s.clock().UTC()
	at := time.Unix(issued, 0).UTC()
	if at.After(now.Add(time.Minute)) {
		// Issued in the future beyond clock skew tolerance.
		return ErrTokenInvalid
	}
	if now.Sub(at) > s.ttl {
		return ErrTokenExpired
	}
	return nil
}

func (s *TokenSigner) sign(userID, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s", ts, userID)
	return hex.EncodeToString(mac.Sum(nil))
}
