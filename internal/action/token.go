package action

import (
	"fmt"
	"strconv"
	"strings"
)

// tokenSep separates token parts. It is outside the base64url alphabet.
const tokenSep = "."

// Token renders the signed action as URL-safe text:
// <base64url(payload)>.<issued-at>.<base64url(mac)>
func (sa SignedAction) Token() string {
	return ToText(sa.Payload) + tokenSep + strconv.FormatInt(sa.IssuedAt, 10) + tokenSep + ToText(sa.MAC)
}

// ParseToken splits token text into a SignedAction without verifying it.
// Any structural problem yields ErrMalformedEncoding.
func ParseToken(token string) (SignedAction, error) {
	parts := strings.Split(token, tokenSep)
	if len(parts) != 3 {
		return SignedAction{}, fmt.Errorf("parse token: %w: want 3 parts, got %d", ErrMalformedEncoding, len(parts))
	}

	payload, err := FromText(parts[0])
	if err != nil {
		return SignedAction{}, fmt.Errorf("parse token payload: %w", err)
	}

	issuedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return SignedAction{}, fmt.Errorf("parse token: %w: issued-at: %v", ErrMalformedEncoding, err)
	}

	mac, err := FromText(parts[2])
	if err != nil {
		return SignedAction{}, fmt.Errorf("parse token mac: %w", err)
	}

	return SignedAction{Payload: payload, IssuedAt: issuedAt, MAC: mac}, nil
}
