package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	plaintext := []byte("overlay payload")
	sealed, err := c.Seal(plaintext)
	require.NoError(t, err)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, opened))
}

func TestSealAddsExactly28BytesOverhead(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	plaintext := []byte("some payload of arbitrary length")
	sealed, err := c.Seal(plaintext)
	require.NoError(t, err)
	assert.Equal(t, len(plaintext)+28, len(sealed))
	assert.Equal(t, 28, Overhead)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = c.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsShortInput(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)
	_, err = c.Open(make([]byte, 10))
	assert.Error(t, err)
}

func TestTwoSealsOfSamePlaintextDifferByNonce(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)

	a, err := c.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}
