package ed448kex

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairProducesFullSizeKeys(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	assert.Len(t, kp.Public, PublicKeySize)
	assert.Len(t, kp.Private, PrivateKeySize)
}

func TestGenerateKeyPairDefaultsToCryptoRand(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	assert.Len(t, kp.Public, PublicKeySize)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	sig := kp.Sign([]byte("dake transcript"))
	assert.Len(t, sig, SignatureSize)
	assert.True(t, Verify(kp.Public, []byte("dake transcript"), sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	sig := kp.Sign([]byte("dake transcript"))
	assert.False(t, Verify(kp.Public, []byte("different transcript"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	other, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	sig := kp.Sign([]byte("dake transcript"))
	assert.False(t, Verify(other.Public, []byte("dake transcript"), sig))
}

func TestDecodePublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	decoded, err := DecodePublicKey([]byte(kp.Public))
	require.NoError(t, err)
	assert.Equal(t, kp.Public, decoded)
}

func TestDecodePublicKeyRejectsWrongLength(t *testing.T) {
	_, err := DecodePublicKey(make([]byte, PublicKeySize-1))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestProveCheckProofRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	digest := []byte("transcript digest")
	sigma := Prove(kp, digest)
	assert.True(t, CheckProof(kp.Public, digest, sigma))
}

func TestCheckProofRejectsWrongSigner(t *testing.T) {
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	other, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	digest := []byte("transcript digest")
	sigma := Prove(kp, digest)
	assert.False(t, CheckProof(other.Public, digest, sigma))
}
