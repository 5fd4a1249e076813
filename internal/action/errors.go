package action

import "errors"

// Token failures. Callers must not tell them apart towards the end user:
// all of them mean "this link does not authorize anything".
var (
	// ErrMalformedEncoding indicates the token text is not valid transport encoding.
	ErrMalformedEncoding = errors.New("action: malformed encoding")

	// ErrMalformedPayload indicates bytes that do not decode to a known action.
	ErrMalformedPayload = errors.New("action: malformed payload")

	// ErrInvalidSignature indicates the authenticator does not match the payload.
	ErrInvalidSignature = errors.New("action: invalid signature")

	// ErrTokenExpired indicates a correctly signed token outside its validity window.
	ErrTokenExpired = errors.New("action: token expired")
)

// IsUnauthenticated reports whether err is one of the token failures above.
// Uses errors.Is to handle wrapped errors.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrMalformedEncoding) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrTokenExpired)
}
