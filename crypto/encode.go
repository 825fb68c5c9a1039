package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidEncoding = errors.New("invalid base64 encoding")

// B64 returns standard base64 encoding without newlines.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// DecodeB64 accepts standard or URL base64, padded or not, and ignores
// embedded whitespace (keys pasted from PEM bodies span several lines).
func DecodeB64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, ErrInvalidEncoding
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidEncoding
}
