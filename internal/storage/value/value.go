// Package value converts event payloads to and from the string form the
// store persists.
//
// The store holds values in a VARCHAR column. Payloads that are valid
// UTF-8 are stored as-is; arbitrary bytes are base64-encoded, with a
// flag column recording which form was used.
package value

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	kverrors "github.com/ryltsov/histkv/internal/errors"
)

// Encode converts a payload into its stored string form. It returns the
// string and whether base64 encoding was applied.
func Encode(payload []byte) (s string, b64 bool) {
	if utf8.Valid(payload) {
		return string(payload), false
	}
	return base64.StdEncoding.EncodeToString(payload), true
}

// Decode reverses Encode. Failures are wrapped as decode errors so the
// query engine can skip the affected row without aborting.
func Decode(s string, b64 bool) ([]byte, error) {
	if !b64 {
		return []byte(s), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", kverrors.ErrDecode, err)
	}
	return raw, nil
}
