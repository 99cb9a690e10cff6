// Package ed448kex adapts circl's Ed448 implementation to the key and
// signature shapes OTRv4's DAKE needs: Ed448 signing keypairs (long-term
// or ephemeral) and the signing/verification primitive used in place of the
// Auth-R/Auth-I ring signature. It has no ECDH (key agreement) operation.
//
// spec.md scopes OTRv4 support as partial (outline only); this package
// implements genuine Ed448 sign/verify but substitutes a single-signer
// EdDSA signature for the full three-key ring signature the real DAKE
// uses, documented as an open-question decision in DESIGN.md.
package ed448kex

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/katzenpost/circl/sign/ed448"
)

// ErrInvalidKey signals a key of the wrong length.
var ErrInvalidKey = errors.New("ed448kex: invalid key length")

// PublicKeySize, PrivateKeySize, and SignatureSize mirror circl's Ed448
// sizes, re-exported so callers outside this package need not import circl
// directly.
const (
	PublicKeySize  = ed448.PublicKeySize
	PrivateKeySize = ed448.PrivateKeySize
	SignatureSize  = ed448.SignatureSize
)

// KeyPair is a long-term or ephemeral Ed448 identity key.
type KeyPair struct {
	Public  ed448.PublicKey
	Private ed448.PrivateKey
}

// GenerateKeyPair draws a fresh Ed448 keypair from rng (crypto/rand.Reader
// if nil).
func GenerateKeyPair(rng io.Reader) (*KeyPair, error) {
	if rng == nil {
		rng = rand.Reader
	}
	pub, priv, err := ed448.GenerateKey(rng)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Sign produces a detached Ed448 signature over message under an empty
// context string, matching the context-less usage the client profile and
// DAKE transcript signatures need.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed448.Sign(kp.Private, message, "")
}

// Verify checks a detached Ed448 signature produced by Sign.
func Verify(pub ed448.PublicKey, message, sig []byte) bool {
	return ed448.Verify(pub, message, sig, "")
}

// DecodePublicKey parses a fixed-width Ed448 public key, the wire encoding
// used by the Identity/Auth-R messages' point fields.
func DecodePublicKey(b []byte) (ed448.PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, ErrInvalidKey
	}
	pk := make(ed448.PublicKey, PublicKeySize)
	copy(pk, b)
	return pk, nil
}

// Sigma is the (simplified, single-signer) transcript signature carried in
// the Auth-R and Auth-I messages: one Ed448 signature per participant
// rather than the three-key ring signature of the full OTRv4 DAKE.
type Sigma struct {
	Signature [SignatureSize]byte
}

// Prove signs the DAKE transcript digest with the prover's long-term key.
func Prove(kp *KeyPair, transcriptDigest []byte) Sigma {
	var s Sigma
	copy(s.Signature[:], kp.Sign(transcriptDigest))
	return s
}

// CheckProof verifies a Sigma against the purported signer's public key
// and the same transcript digest the prover signed.
func CheckProof(pub ed448.PublicKey, transcriptDigest []byte, s Sigma) bool {
	return Verify(pub, transcriptDigest, s.Signature[:])
}
