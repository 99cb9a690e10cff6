// Package dhgroup implements the fixed 1536-bit MODP group OTRv2/v3 uses
// for Diffie-Hellman key agreement (the group named in spec.md §4.3/§6).
//
// The primitive crypto library is out of scope per spec.md §1; this
// package is the minimal concrete adapter the AKE and SMP state
// machines call, built directly on math/big since none of the example
// repositories in this module's retrieval pack ship a big-number type
// with constant-time modexp for an arbitrary prime-order subgroup (see
// DESIGN.md).
package dhgroup

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
)

// ErrOutOfRange signals a received group element outside [2, p-2], the
// mandatory DH-key validation of spec.md §4.3.
var ErrOutOfRange = errors.New("dhgroup: value out of range")

// P is the 1536-bit OTR prime (RFC 3526 MODP group 5).
var P = mustParse(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E08" +
		"8A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B" +
		"302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9" +
		"A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE6" +
		"49286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8" +
		"FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA237327FFFFFFFFFFFFFFFF")

// Q is the order of the subgroup generated by G: (P-1)/2.
var Q = new(big.Int).Rsh(new(big.Int).Sub(P, big.NewInt(1)), 1)

// G is the generator, 2.
var G = big.NewInt(2)

// two and pMinus2 are precomputed range-check bounds.
var two = big.NewInt(2)
var pMinus2 = new(big.Int).Sub(P, two)

func mustParse(hexDigits string) *big.Int {
	v, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		panic("dhgroup: invalid embedded prime")
	}
	return v
}

// GenerateExponent returns a random exponent in [2, q-1], suitable for a
// DH private key or an SMP working scalar, reading from rng.
func GenerateExponent(rng io.Reader) (*big.Int, error) {
	if rng == nil {
		rng = rand.Reader
	}
	// Sample in [0, q-3] then shift to [2, q-1] to avoid the degenerate
	// small values 0 and 1.
	max := new(big.Int).Sub(Q, two)
	n, err := rand.Int(rng, max)
	if err != nil {
		return nil, err
	}
	return n.Add(n, two), nil
}

// PublicValue computes g^x mod p.
func PublicValue(x *big.Int) *big.Int {
	return new(big.Int).Exp(G, x, P)
}

// SharedSecret computes peerPublic^x mod p, the shared DH secret s.
func SharedSecret(x, peerPublic *big.Int) *big.Int {
	return new(big.Int).Exp(peerPublic, x, P)
}

// CheckPublicValue validates a received DH public value y against the
// mandatory range 2 <= y <= p-2 (spec.md §4.3/§8).
func CheckPublicValue(y *big.Int) error {
	if y == nil || y.Cmp(two) < 0 || y.Cmp(pMinus2) > 0 {
		return ErrOutOfRange
	}
	return nil
}

// CheckGroupElement validates a received group element g against
// 2 <= g <= p-2, the SMP proof-input check of spec.md §4.4.
func CheckGroupElement(g *big.Int) error {
	return CheckPublicValue(g)
}

// CheckScalar validates a received scalar x against 1 <= x < q, the SMP
// scalar check of spec.md §4.4.
func CheckScalar(x *big.Int) error {
	one := big.NewInt(1)
	if x == nil || x.Cmp(one) < 0 || x.Cmp(Q) >= 0 {
		return ErrOutOfRange
	}
	return nil
}
