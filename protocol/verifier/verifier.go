// Package verifier checks proof-of-possession signatures over ephemeral keys.
//
// The signer signs its own freshly generated ephemeral key with its own
// long-term key. Verification answers only "was this key produced by the
// holder of that long-term key"; it says nothing about the peer.
package verifier

import (
	"crypto/ecdsa"
	"crypto/ed25519"

	"minimal-sessions/crypto"
	"minimal-sessions/crypto/key_ed25519"
	"minimal-sessions/crypto/pemkey"
	"minimal-sessions/crypto/signer_ecdsa"
	"minimal-sessions/crypto/signer_eddsa"
)

// Verifier is stateless; the zero value is ready to use.
type Verifier struct{}

func New() *Verifier { return &Verifier{} }

// Verify reports whether signature is a valid signature over message by
// signerPublicKey (PEM or bare base64 SPKI). Any failure, including a panic
// inside a parser, yields false.
func (v *Verifier) Verify(message, signature []byte, signerPublicKey string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	pub, err := pemkey.ParseSigningKey(signerPublicKey)
	if err != nil {
		return false
	}
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return signer_ecdsa.Verify(k, message, signature) == nil
	case ed25519.PublicKey:
		return signer_eddsa.Verify(key_ed25519.FromStd(k), message, signature) == nil
	}
	return false
}

// VerifyBase64 is Verify for a base64-encoded signature.
func (v *Verifier) VerifyBase64(message []byte, signature, signerPublicKey string) bool {
	sig, err := crypto.DecodeB64(signature)
	if err != nil {
		return false
	}
	return v.Verify(message, sig, signerPublicKey)
}
