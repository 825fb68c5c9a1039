package key_ed25519

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPoint(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	point, err := FromStd(pub).ToPoint()
	require.NoError(t, err)

	// Round trip keeps the standard encoding.
	raw, err := point.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), raw)

	_, err = PublicKey(pub[:31]).ToPoint()
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
