package dsa

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Small domain parameters keep this test fast; the math is identical for any
// valid (L, N) pair.
func testParams(t *testing.T) *Parameters {
	params, err := GenerateParameters(nil, 128, 64)
	require.NoError(t, err)
	return params
}

func TestSignVerifyRoundTrip(t *testing.T) {
	params := testParams(t)
	priv, err := GenerateKey(params, nil)
	require.NoError(t, err)

	digest := sha1.Sum([]byte("message to authenticate"))
	r, s, err := Sign(nil, priv, digest[:])
	require.NoError(t, err)

	assert.True(t, Verify(&priv.PublicKey, digest[:], r, s))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	params := testParams(t)
	priv, err := GenerateKey(params, nil)
	require.NoError(t, err)

	digest := sha1.Sum([]byte("original"))
	r, s, err := Sign(nil, priv, digest[:])
	require.NoError(t, err)

	tampered := sha1.Sum([]byte("tampered"))
	assert.False(t, Verify(&priv.PublicKey, tampered[:], r, s))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	params := testParams(t)
	priv1, err := GenerateKey(params, nil)
	require.NoError(t, err)
	priv2, err := GenerateKey(params, nil)
	require.NoError(t, err)

	digest := sha1.Sum([]byte("message"))
	r, s, err := Sign(nil, priv1, digest[:])
	require.NoError(t, err)

	assert.False(t, Verify(&priv2.PublicKey, digest[:], r, s))
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	params := testParams(t)
	priv, err := GenerateKey(params, nil)
	require.NoError(t, err)

	encoded := priv.PublicKey.Bytes()
	var decoded PublicKey
	require.NoError(t, decoded.FromBytes(encoded))
	assert.Equal(t, priv.PublicKey.Y, decoded.Y)
	assert.Equal(t, priv.PublicKey.P, decoded.P)
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	params := testParams(t)
	priv, err := GenerateKey(params, nil)
	require.NoError(t, err)

	encoded := priv.Bytes()
	var decoded PrivateKey
	require.NoError(t, decoded.FromBytes(encoded))
	assert.Equal(t, priv.X, decoded.X)
}

func TestFingerprintDeterministicAndKeySensitive(t *testing.T) {
	params := testParams(t)
	priv1, err := GenerateKey(params, nil)
	require.NoError(t, err)
	priv2, err := GenerateKey(params, nil)
	require.NoError(t, err)

	fp1a := Fingerprint(&priv1.PublicKey)
	fp1b := Fingerprint(&priv1.PublicKey)
	fp2 := Fingerprint(&priv2.PublicKey)

	assert.Equal(t, fp1a, fp1b)
	assert.NotEqual(t, fp1a, fp2)
	assert.Len(t, fp1a, 20)
}
