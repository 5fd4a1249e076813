package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"unicode/utf16"
	"unicode/utf8"
)

// Encode produces the canonical encoding of an action: a JSON object whose
// keys are sorted by UTF-16 code units (RFC 8785 order), with no
// insignificant whitespace and no HTML escaping. The same logical action
// always yields identical bytes.
//
// Returns ErrMalformedPayload if a required field is empty or not valid
// UTF-8, so that every encodable action is also decodable.
func Encode(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("encode: %w: nil action", ErrMalformedPayload)
	}
	obj := a.fields()
	for k, v := range obj {
		if v == "" {
			return nil, fmt.Errorf("encode %s: %w: %s is empty", a.Kind(), ErrMalformedPayload, k)
		}
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("encode %s: %w: %s is not valid UTF-8", a.Kind(), ErrMalformedPayload, k)
		}
	}
	obj["kind"] = string(a.Kind())
	return marshalCanonicalObject(obj)
}

// MustEncode is like Encode but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEncode(a Action) []byte {
	b, err := Encode(a)
	if err != nil {
		panic(err)
	}
	return b
}

// wireAction is the decoding target. Pointers distinguish absent keys.
type wireAction struct {
	Kind   *string `json:"kind"`
	Email  *string `json:"email"`
	NodeID *string `json:"node_id"`
}

// Decode parses a canonical encoding back into an action.
//
// Fails with ErrMalformedPayload on invalid JSON, unknown keys, an unknown
// kind, missing or empty required fields, keys that do not belong to the
// variant, trailing data, or input that is not in canonical form.
func Decode(data []byte) (Action, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireAction
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode: %w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode: %w: trailing data", ErrMalformedPayload)
	}
	if w.Kind == nil {
		return nil, fmt.Errorf("decode: %w: kind is missing", ErrMalformedPayload)
	}

	var a Action
	switch Kind(*w.Kind) {
	case KindSubscribe:
		if w.NodeID == nil || w.Email == nil {
			return nil, fmt.Errorf("decode subscribe: %w: missing field", ErrMalformedPayload)
		}
		a = Subscribe{Email: *w.Email, NodeID: *w.NodeID}
	case KindUnsubscribe:
		if w.NodeID == nil || w.Email == nil {
			return nil, fmt.Errorf("decode unsubscribe: %w: missing field", ErrMalformedPayload)
		}
		a = Unsubscribe{Email: *w.Email, NodeID: *w.NodeID}
	case KindConfirmEmail:
		if w.Email == nil {
			return nil, fmt.Errorf("decode confirm_email: %w: missing field", ErrMalformedPayload)
		}
		if w.NodeID != nil {
			return nil, fmt.Errorf("decode confirm_email: %w: unexpected node_id", ErrMalformedPayload)
		}
		a = ConfirmEmail{Email: *w.Email}
	default:
		return nil, fmt.Errorf("decode: %w: unknown kind %q", ErrMalformedPayload, *w.Kind)
	}

	// Re-encoding also rejects empty fields. Requiring byte equality gives
	// every action exactly one accepted payload.
	canonical, err := Encode(a)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, fmt.Errorf("decode: %w: not in canonical form", ErrMalformedPayload)
	}
	return a, nil
}

// marshalCanonicalObject writes a flat string-to-string object in canonical form.
func marshalCanonicalObject(obj map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonicalString(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalCanonicalString quotes s without HTML escaping.
// Strings are not normalized here; use Normalize on input instead, otherwise
// Decode(Encode(a)) would not return a for non-NFC values.
func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	// json.Encoder adds trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering.
// Go's default string comparison uses UTF-8 which produces a different order
// for characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
