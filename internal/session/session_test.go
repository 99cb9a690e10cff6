package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/otr3/internal/dhgroup"
	"github.com/katzenpost/otr3/internal/symmetric"
	"github.com/katzenpost/otr3/internal/wire"
)

func newPairedStates(t *testing.T) (*EncryptedState, *EncryptedState) {
	x, err := dhgroup.GenerateExponent(nil)
	require.NoError(t, err)
	y, err := dhgroup.GenerateExponent(nil)
	require.NoError(t, err)
	gx := dhgroup.PublicValue(x)
	gy := dhgroup.PublicValue(y)
	shared := dhgroup.SharedSecret(x, gy)

	alice, err := NewEncryptedState(x, gy, shared)
	require.NoError(t, err)
	bob, err := NewEncryptedState(y, gx, shared)
	require.NoError(t, err)
	return alice, bob
}

func TestTLVEncodeDecodeRoundTrip(t *testing.T) {
	tlvs := []TLV{
		{Type: TLVPadding, Value: []byte{0, 0, 0}},
		{Type: TLVSMP1, Value: []byte("smp-payload")},
	}
	decoded, err := DecodeTLVs(EncodeTLVs(tlvs))
	require.NoError(t, err)
	assert.Equal(t, tlvs, decoded)
}

func TestDecodeTLVsEmpty(t *testing.T) {
	decoded, err := DecodeTLVs(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, bob := newPairedStates(t)

	msg, err := alice.Encrypt([]byte("hello bob"), nil, 0)
	require.NoError(t, err)

	plaintext, tlvs, err := bob.Decrypt(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello bob"), plaintext)
	assert.Empty(t, tlvs)
}

func TestDecryptRejectsReplayedCounter(t *testing.T) {
	alice, bob := newPairedStates(t)

	msg, err := alice.Encrypt([]byte("first"), nil, 0)
	require.NoError(t, err)

	_, _, err = bob.Decrypt(msg)
	require.NoError(t, err)

	_, _, err = bob.Decrypt(msg)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestDecryptRejectsBadMAC(t *testing.T) {
	alice, bob := newPairedStates(t)

	msg, err := alice.Encrypt([]byte("tamper me"), nil, 0)
	require.NoError(t, err)
	msg.MAC[0] ^= 0xff

	_, _, err = bob.Decrypt(msg)
	assert.ErrorIs(t, err, ErrMAC)
}

func TestEncryptDecryptMultipleMessagesBothDirections(t *testing.T) {
	alice, bob := newPairedStates(t)

	for i := 0; i < 3; i++ {
		msg, err := alice.Encrypt([]byte("from alice"), nil, 0)
		require.NoError(t, err)
		_, _, err = bob.Decrypt(msg)
		require.NoError(t, err)

		reply, err := bob.Encrypt([]byte("from bob"), nil, 0)
		require.NoError(t, err)
		_, _, err = alice.Decrypt(reply)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(alice.pairs), 4)
	assert.LessOrEqual(t, len(bob.pairs), 4)
}

func TestDecryptBindsUnacknowledgedLocalKeyAndRotates(t *testing.T) {
	_, bob := newPairedStates(t)

	// Bob's keyid-2 pair starts unbound (remoteKeyID 0). A peer who has
	// somehow learned of it addresses a message there with a fresh
	// SenderKeyID of their own; Decrypt should bind the pair rather than
	// reject it as having no matching key.
	bobUnbound := bob.findUnbound(2)
	require.NotNil(t, bobUnbound)
	require.Nil(t, bobUnbound.remotePublic)

	peerX, err := dhgroup.GenerateExponent(nil)
	require.NoError(t, err)
	peerPub := dhgroup.PublicValue(peerX)
	raw := dhgroup.SharedSecret(peerX, bobUnbound.localPublic)
	_, aesRecv, _, macRecv := deriveSubKeys(raw)

	var counter [8]byte
	putUint64(counter[:], 1)
	iv := symmetric.CounterIV(counter)
	enc, err := symmetric.CTREncrypt(aesRecv[:], iv[:], []byte("hi\x00"))
	require.NoError(t, err)
	prefix := wire.NewWriter().Byte(0).Int(7).Int(2).MPI(peerPub).Fixed(counter[:]).Data(enc).Bytes()
	mac := symmetric.MAC20(macRecv[:], prefix)

	msg := &wire.DataMessage{
		SenderKeyID: 7, RecipientKeyID: 2,
		NextDH: peerPub, Counter: counter, EncMessage: enc, MAC: mac,
	}

	plaintext, _, err := bob.Decrypt(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), plaintext)

	bound := bob.find(2, 7)
	require.NotNil(t, bound)
	assert.NotNil(t, bound.remotePublic)
	assert.Len(t, bob.pairs, 3)
}

func TestExtraSymmetricKeyDeterministic(t *testing.T) {
	alice, _ := newPairedStates(t)
	k1 := alice.ExtraSymmetricKey()
	k2 := alice.ExtraSymmetricKey()
	assert.Equal(t, k1, k2)
}
