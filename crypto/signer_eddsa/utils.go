package signer_eddsa

import (
	"go.dedis.ch/kyber/v4/sign/eddsa"
	"minimal-sessions/crypto/key_ed25519"
)

// Verify checks an RFC 8032 Ed25519 signature.
func Verify(pubKey key_ed25519.PublicKey, msg, sig []byte) error {
	pubPoint, err := pubKey.ToPoint()
	if err != nil {
		return err
	}
	return eddsa.Verify(pubPoint, msg, sig)
}
