package fingerprint

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"strings"
	"testing"

	"minimal-sessions/crypto/pemkey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	fp1, err := Fingerprint(key, []byte("alice"))
	require.NoError(t, err)
	fp2, err := Fingerprint(key, []byte("alice"))
	require.NoError(t, err)
	fp3, err := Fingerprint(key, []byte("bob"))
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
	for _, d := range fp1 {
		assert.True(t, d >= 0 && d <= 9)
	}
}

func TestForSigningKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	s, err := ForSigningKey(pemkey.Encode(der), "alice")
	require.NoError(t, err)
	groups := strings.Split(s, " ")
	assert.Len(t, groups, 6)
	for _, g := range groups {
		assert.Len(t, g, 5)
	}

	_, err = ForSigningKey("-----BEGIN PUBLIC KEY-----", "alice")
	assert.Error(t, err)
}
