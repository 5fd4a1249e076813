package action

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinKeySize is the minimum master secret length in bytes.
	MinKeySize = 16

	// domainAction separates action MACs from any other use of the key.
	// Version suffix enables future algorithm migration.
	domainAction = "nodemon/action/v1"

	// signingInfo is the HKDF info string for the MAC subkey.
	signingInfo = "nodemon/action-signing/v1"

	// maxClockSkew bounds how far in the future IssuedAt may lie when a
	// max age is enforced.
	maxClockSkew = time.Minute
)

// SignedAction is an encoded action bundled with its authenticator.
//
// Payload holds the canonical encoding rather than a decoded Action: the
// payload is only parsed after Verify has checked MAC over these exact bytes.
type SignedAction struct {
	Payload  []byte
	IssuedAt int64 // unix seconds
	MAC      []byte
}

// Signer issues and checks SignedActions under one derived key.
//
// Thread-safety: a Signer is immutable after NewSigner and safe for
// concurrent use.
type Signer struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithMaxAge bounds token validity. Zero (the default) means tokens never expire.
func WithMaxAge(d time.Duration) Option {
	return func(s *Signer) {
		s.maxAge = d
	}
}

// WithClock overrides the time source used for IssuedAt and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner derives the MAC key from master with HKDF-SHA256.
// master must be at least MinKeySize bytes.
func NewSigner(master []byte, opts ...Option) (*Signer, error) {
	if len(master) < MinKeySize {
		return nil, fmt.Errorf("signing key too short: %d bytes, need at least %d", len(master), MinKeySize)
	}

	kdf := hkdf.New(sha256.New, master, nil, []byte(signingInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	s := &Signer{key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxAge returns the configured token lifetime (zero means unlimited).
func (s *Signer) MaxAge() time.Duration {
	return s.maxAge
}

// Sign encodes a and authenticates it. Side-effect free; the result depends
// only on the key, the action and the clock reading.
func (s *Signer) Sign(a Action) (SignedAction, error) {
	payload, err := Encode(a)
	if err != nil {
		return SignedAction{}, fmt.Errorf("sign: %w", err)
	}
	issuedAt := s.now().Unix()
	return SignedAction{
		Payload:  payload,
		IssuedAt: issuedAt,
		MAC:      s.mac(payload, issuedAt),
	}, nil
}

// Verify checks the authenticator and returns the embedded action.
//
// The comparison is hmac.Equal over the full MAC, so timing does not reveal
// where a mismatch occurs. On mismatch the payload is not parsed at all and
// ErrInvalidSignature is returned. A valid MAC outside the max age window
// yields ErrTokenExpired.
func (s *Signer) Verify(sa SignedAction) (Action, error) {
	expected := s.mac(sa.Payload, sa.IssuedAt)
	if !hmac.Equal(expected, sa.MAC) {
		return nil, ErrInvalidSignature
	}

	if s.maxAge > 0 {
		issued := time.Unix(sa.IssuedAt, 0)
		now := s.now()
		if now.Sub(issued) > s.maxAge || issued.Sub(now) > maxClockSkew {
			return nil, ErrTokenExpired
		}
	}

	a, err := Decode(sa.Payload)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return a, nil
}

// Open parses a token and verifies it.
func (s *Signer) Open(token string) (Action, error) {
	sa, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	return s.Verify(sa)
}

// SignToken signs a and returns the token text.
func (s *Signer) SignToken(a Action) (string, error) {
	sa, err := s.Sign(a)
	if err != nil {
		return "", err
	}
	return sa.Token(), nil
}

// mac computes HMAC-SHA256 with domain separation.
// Format: domain || 0x00 || payload || 0x00 || decimal(issuedAt)
// The null separators prevent boundary ambiguity between the parts.
func (s *Signer) mac(payload []byte, issuedAt int64) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(domainAction))
	h.Write([]byte{0x00})
	h.Write(payload)
	h.Write([]byte{0x00})
	h.Write(strconv.AppendInt(nil, issuedAt, 10))
	return h.Sum(nil)
}
