package pemkey

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"minimal-sessions/crypto"
)

const pemBlockType = "PUBLIC KEY"

var (
	ErrInvalidPEM     = errors.New("invalid PEM public key")
	ErrUnsupportedKey = errors.New("unsupported public key type")
)

// DER returns the SPKI DER bytes of a public key given either as a PEM block
// or as the bare base64 body of one.
func DER(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-----BEGIN") {
		block, _ := pem.Decode([]byte(key))
		if block == nil {
			return nil, ErrInvalidPEM
		}
		return block.Bytes, nil
	}
	der, err := crypto.DecodeB64(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return der, nil
}

// Wrap turns a bare base64 SPKI body into a PEM document. Full PEM input is
// returned unchanged.
func Wrap(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-----BEGIN") {
		return key
	}
	return "-----BEGIN " + pemBlockType + "-----\n" + key + "\n-----END " + pemBlockType + "-----"
}

// Encode renders a DER SPKI as a PEM document.
func Encode(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der}))
}

// ParseSigningKey parses a long-term signing key. Only P-256 ECDSA and
// Ed25519 keys are accepted.
func ParseSigningKey(key string) (any, error) {
	der, err := DER(key)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		return k, nil
	case ed25519.PublicKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// ParseExchangeKey parses an SPKI-encoded key-exchange key (X25519 or P-256).
func ParseExchangeKey(der []byte) (*ecdh.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	switch k := pub.(type) {
	case *ecdh.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		return k.ECDH()
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}
