package crypto

import "crypto/sha256"

var (
	DefaultHashFunc = sha256.New
)

const (
	// P256CoordinateSize is the byte length of one P-256 field element.
	P256CoordinateSize = 32
	// RawECDSASignatureSize is the length of an IEEE P1363 (r||s) P-256 signature.
	RawECDSASignatureSize = 2 * P256CoordinateSize
	X25519KeySize         = 32
	Ed25519SignatureSize  = 64
)
