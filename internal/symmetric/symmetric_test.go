package symmetric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCTREncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	var counter [8]byte
	counter[7] = 1
	iv := CounterIV(counter)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct, err := CTREncrypt(key, iv[:], plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ct)

	pt, err := CTRDecrypt(key, iv[:], ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestCTRRejectsBadKeySize(t *testing.T) {
	_, err := CTREncrypt(make([]byte, 10), make([]byte, 16), []byte("x"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestMACsAreDeterministicAndKeySensitive(t *testing.T) {
	msg := []byte("authenticate me")
	k1 := []byte("key-one-key-one-")
	k2 := []byte("key-two-key-two-")

	assert.Equal(t, MAC20(k1, msg), MAC20(k1, msg))
	assert.NotEqual(t, MAC20(k1, msg), MAC20(k2, msg))
	assert.NotEqual(t, MAC32(k1, msg), MAC32(k2, msg))
	assert.NotEqual(t, MAC64(k1, msg), MAC64(k2, msg))
}

func TestHashesAreDeterministic(t *testing.T) {
	data := []byte("hash me")
	assert.Equal(t, Hash1(data), Hash1(data))
	assert.Equal(t, Hash256(data), Hash256(data))
}

func TestKDFv4OutputLengthAndDomainSeparation(t *testing.T) {
	out1 := KDFv4(0x01, []byte("input"), 32)
	out2 := KDFv4(0x02, []byte("input"), 32)
	assert.Len(t, out1, 32)
	assert.NotEqual(t, out1, out2)
}
