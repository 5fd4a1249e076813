// Package action implements capability tokens for subscription changes.
//
// A user-initiated change (subscribe, unsubscribe, confirm an address) is an
// Action. Actions are encoded canonically, authenticated with HMAC-SHA256
// under a server-held key and shipped to the user inside an emailed link.
// Following the link hands the token back; Verify checks the MAC before the
// payload is ever parsed, so a forged or altered token never reaches the
// executor.
//
// Wire layout of a token:
//
//	<base64url(payload)>.<issued-at unix seconds>.<base64url(mac)>
//
// where payload is the canonical JSON produced by Encode and
//
//	mac = HMAC-SHA256(k, "nodemon/action/v1" || 0x00 || payload || 0x00 || issued-at)
//
// k is derived from the configured master secret with HKDF-SHA256, so the
// raw secret is never used as a MAC key directly.
//
// Everything in this package is pure computation. A Signer is immutable after
// NewSigner returns and may be shared between goroutines.
package action
