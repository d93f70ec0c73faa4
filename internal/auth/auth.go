// Package auth signs and verifies live-connection requests.
//
// A request is signed by computing hex(HMAC-SHA256(secret, "<timestamp>:<path>"))
// where timestamp is a unix time in seconds. Signatures are only valid within
// a window around the verifier's clock.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultWindow is the maximum accepted skew between the signed timestamp and now.
const DefaultWindow = 300 * time.Second

var (
	ErrMissing      = errors.New("signature or timestamp missing")
	ErrMalformed    = errors.New("malformed timestamp")
	ErrExpired      = errors.New("timestamp outside of accepted window")
	ErrBadSignature = errors.New("signature mismatch")
)

// Sign returns the signature for path at the given unix timestamp.
func Sign(secret string, ts int64, path string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d:%s", ts, path)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks signed connection requests against a shared secret.
type Verifier struct {
	secret string
	window time.Duration
	now    func() time.Time
}

type Option func(*Verifier)

// WithClock replaces the verifier's time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.window = d
		}
	}
}

func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{secret: secret, window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify accepts the request iff the timestamp is within the window and the
// signature matches. The comparison is constant time.
func (v *Verifier) Verify(signature, timestamp, path string) error {
	if signature == "" || timestamp == "" {
		return ErrMissing
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	now := v.now().Unix()
	window := int64(v.window / time.Second)
	if ts < now-window || ts > now+window {
		return ErrExpired
	}

	expected, err := hex.DecodeString(Sign(v.secret, ts, path))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(expected, got) {
		return ErrBadSignature
	}
	return nil
}
