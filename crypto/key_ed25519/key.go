package key_ed25519

import (
	"crypto/ed25519"
	"errors"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/suites"
)

// PublicKey is a 32-byte compressed edwards25519 point.
type PublicKey []byte

var (
	Suite = suites.MustFind("Ed25519") // Use the edwards25519-curve

	ErrInvalidKeySize = errors.New("invalid ed25519 public key size")
)

// FromStd converts a standard library key without copying.
func FromStd(pub ed25519.PublicKey) PublicKey {
	return PublicKey(pub)
}

func (pubB PublicKey) ToPoint() (kyber.Point, error) {
	if len(pubB) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeySize
	}
	pubK := Suite.Point()
	if err := pubK.UnmarshalBinary(pubB); err != nil {
		return nil, err
	}
	return pubK, nil
}
