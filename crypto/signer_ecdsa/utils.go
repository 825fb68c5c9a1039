package signer_ecdsa

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"math/big"

	"minimal-sessions/crypto"
)

var ErrInvalidSignature = errors.New("invalid ecdsa signature")

func digest(msg []byte) []byte {
	h := crypto.DefaultHashFunc()
	h.Write(msg)
	return h.Sum(nil)
}

// Sign returns an ASN.1 DER signature over SHA-256(msg).
func Sign(privKey *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, privKey, digest(msg))
}

// SignRaw returns the IEEE P1363 (r||s) form WebCrypto produces.
func SignRaw(privKey *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, privKey, digest(msg))
	if err != nil {
		return nil, err
	}
	sig := make([]byte, crypto.RawECDSASignatureSize)
	r.FillBytes(sig[:crypto.P256CoordinateSize])
	s.FillBytes(sig[crypto.P256CoordinateSize:])
	return sig, nil
}

// Verify accepts both DER and raw r||s signatures over SHA-256(msg).
func Verify(pubKey *ecdsa.PublicKey, msg, sig []byte) error {
	if pubKey == nil {
		return ErrInvalidSignature
	}
	d := digest(msg)
	if ecdsa.VerifyASN1(pubKey, d, sig) {
		return nil
	}
	if len(sig) == crypto.RawECDSASignatureSize {
		r := new(big.Int).SetBytes(sig[:crypto.P256CoordinateSize])
		s := new(big.Int).SetBytes(sig[crypto.P256CoordinateSize:])
		if ecdsa.Verify(pubKey, d, r, s) {
			return nil
		}
	}
	return ErrInvalidSignature
}
