package action

import (
	"encoding/base64"
	"fmt"
)

// ToText wraps bytes in unpadded URL-safe base64, so the result can sit in
// a query parameter without further escaping.
func ToText(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// FromText reverses ToText. Padding, standard-alphabet characters and
// anything else outside the URL-safe alphabet yield ErrMalformedEncoding.
func FromText(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("from text: %w: %v", ErrMalformedEncoding, err)
	}
	return b, nil
}
