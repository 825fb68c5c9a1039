// Package ephemeral checks that a published key-exchange public key is
// structurally usable before it is stored in a session record.
package ephemeral

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"minimal-sessions/crypto"
	"minimal-sessions/crypto/pemkey"
)

var (
	ErrMalformedKey = errors.New("malformed ephemeral key")
	ErrLowOrderKey  = errors.New("ephemeral key is a low-order point")
)

// probeScalar is clamped by X25519, so multiplying any low-order point by it
// yields the all-zero output that curve25519 rejects.
var probeScalar = [curve25519.ScalarSize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}

const p256UncompressedSize = 65

// Validate accepts base64 raw X25519 keys, base64 uncompressed P-256 points,
// and X25519/P-256 SPKI keys given as PEM or bare base64.
func Validate(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMalformedKey
	}

	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(key, "-----BEGIN") {
		if raw, err = pemkey.DER(key); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
	} else if raw, err = crypto.DecodeB64(key); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}

	switch {
	case len(raw) == crypto.X25519KeySize:
		return checkX25519(raw)
	case len(raw) == p256UncompressedSize && raw[0] == 0x04:
		if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		return nil
	}

	pub, err := pemkey.ParseExchangeKey(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if pub.Curve() == ecdh.X25519() {
		return checkX25519(pub.Bytes())
	}
	return nil
}

func checkX25519(point []byte) error {
	if _, err := curve25519.X25519(probeScalar[:], point); err != nil {
		return fmt.Errorf("%w: %v", ErrLowOrderKey, err)
	}
	return nil
}
