package client

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"

	"minimal-sessions/crypto"
	"minimal-sessions/crypto/pemkey"
	"minimal-sessions/crypto/signer_ecdsa"
)

var ErrUnsupportedSigningKey = errors.New("signing key must be P-256 ECDSA or Ed25519")

// Signer holds the user's long-term private signing key.
type Signer struct {
	ecdsaKey   *ecdsa.PrivateKey
	ed25519Key ed25519.PrivateKey
}

// ParseSigner reads a PKCS#8 private key given as PEM or bare base64.
func ParseSigner(encoded string) (*Signer, error) {
	der, err := pemkey.DER(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, ErrUnsupportedSigningKey
		}
		return &Signer{ecdsaKey: k}, nil
	case ed25519.PrivateKey:
		return &Signer{ed25519Key: k}, nil
	default:
		return nil, ErrUnsupportedSigningKey
	}
}

func NewECDSASigner(key *ecdsa.PrivateKey) *Signer { return &Signer{ecdsaKey: key} }

// PublicKey returns the base64 SPKI of the signing key, as published with PUT /keys.
func (s *Signer) PublicKey() (string, error) {
	var pub any
	if s.ecdsaKey != nil {
		pub = &s.ecdsaKey.PublicKey
	} else {
		pub = s.ed25519Key.Public()
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return crypto.B64(der), nil
}

func (s *Signer) Sign(msg []byte) ([]byte, error) {
	if s.ecdsaKey != nil {
		return signer_ecdsa.Sign(s.ecdsaKey, msg)
	}
	return ed25519.Sign(s.ed25519Key, msg), nil
}

// Handshake is a fresh ephemeral X25519 key with its proof of possession.
type Handshake struct {
	PublicKey string
	Signature string
	private   *ecdh.PrivateKey
}

func (h *Handshake) PrivateKey() *ecdh.PrivateKey { return h.private }

// NewHandshake generates an ephemeral key and signs its base64 form.
func (s *Signer) NewHandshake() (*Handshake, error) {
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	pub := crypto.B64(eph.PublicKey().Bytes())
	sig, err := s.Sign([]byte(pub))
	if err != nil {
		return nil, fmt.Errorf("failed to sign ephemeral key: %w", err)
	}
	return &Handshake{PublicKey: pub, Signature: crypto.B64(sig), private: eph}, nil
}
