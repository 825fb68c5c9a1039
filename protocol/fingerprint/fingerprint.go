package fingerprint

import (
	"crypto/sha512"
	"encoding/binary"
	"strconv"
	"strings"

	"minimal-sessions/crypto/pemkey"
)

const (
	iterations = 5200
	digits     = 30
	chunkSize  = 5
)

// Fingerprint impl mimics what Signal app actually does
func Fingerprint(pubKey []byte, userIdentifier []byte) (*[digits]int, error) {
	digest := append(append([]byte{}, pubKey...), userIdentifier...)
	hash := sha512.New()
	for i := 0; i < iterations; i++ {
		_, err := hash.Write(digest)
		if err != nil {
			return nil, err
		}
		digest = hash.Sum(nil)
		hash.Reset()
	}

	var result [digits]byte
	copy(result[:], digest[:digits])

	var finalResult [digits]int
	for i := 0; i < digits/chunkSize; i++ {
		chunk := result[i*chunkSize : (i+1)*chunkSize]
		num := binary.BigEndian.Uint64(append([]byte{0, 0, 0}, chunk...)) % 100000
		for j := chunkSize - 1; j >= 0; j-- {
			finalResult[i*chunkSize+j] = int(num % 10)
			num /= 10
		}
	}

	return &finalResult, nil
}

// ForSigningKey renders the fingerprint of a PEM/base64 signing key bound to
// its owner as six space-separated groups of five digits.
func ForSigningKey(signingKey, userID string) (string, error) {
	der, err := pemkey.DER(signingKey)
	if err != nil {
		return "", err
	}
	fp, err := Fingerprint(der, []byte(userID))
	if err != nil {
		return "", err
	}
	return Format(fp), nil
}

func Format(fp *[digits]int) string {
	var b strings.Builder
	for i, d := range fp {
		if i > 0 && i%chunkSize == 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(d))
	}
	return b.String()
}
