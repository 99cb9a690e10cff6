// Package dsa implements DSA key generation, signing, and verification on
// math/big. OTRv2/v3's long-term authentication key is a DSA key (spec.md
// §3/§4.3's m_a signature step); the standard library dropped crypto/dsa
// after Go 1.15, so this module carries its own small adapter rather than
// depend on an unmaintained out-of-tree fork (see DESIGN.md).
//
// The interfaces mirror the Scheme/PrivateKey/PublicKey shape this module's
// other key types use, sized to DSA's domain parameters (P, Q, G) instead of
// a fixed-size key.
package dsa

import (
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"io"
	"math/big"
)

// ErrInvalidSignature signals a signature that does not verify.
var ErrInvalidSignature = errors.New("dsa: invalid signature")

// ErrInvalidParameters signals serialized key data passed to FromBytes that
// is truncated or whose length prefixes run past its end. The parameter
// values themselves are not checked.
var ErrInvalidParameters = errors.New("dsa: invalid domain parameters")

// Parameters is a DSA domain parameter set (P, Q, G), shared between a
// PrivateKey and its PublicKey.
type Parameters struct {
	P, Q, G *big.Int
}

// PublicKey is a DSA public key: domain parameters plus Y = g^x mod p.
type PublicKey struct {
	Parameters
	Y *big.Int
}

// PrivateKey is a DSA private key: the public key plus the secret X.
type PrivateKey struct {
	PublicKey
	X *big.Int
}

// L1024 and N160 are the (L, N) bit-length pair historically used for OTR
// long-term authentication keys.
const (
	L1024 = 1024
	N160  = 160
)

// GenerateParameters produces a fresh (P, Q, G) domain parameter set of the
// given bit sizes using the Shawe-Taylor-style trial construction: find a
// prime Q of size n bits, then search for P = 2*k*Q + 1 of size l bits, with
// k a random prime, that is also prime, then pick a generator G of the
// order-Q subgroup.
func GenerateParameters(rng io.Reader, l, n int) (*Parameters, error) {
	if rng == nil {
		rng = rand.Reader
	}
	for {
		q, err := rand.Prime(rng, n)
		if err != nil {
			return nil, err
		}
		p, ok := findP(rng, q, l)
		if !ok {
			continue
		}
		g, err := findGenerator(rng, p, q)
		if err != nil {
			return nil, err
		}
		return &Parameters{P: p, Q: q, G: g}, nil
	}
}

func findP(rng io.Reader, q *big.Int, l int) (*big.Int, bool) {
	one := big.NewInt(1)
	two := big.NewInt(2)
	for attempt := 0; attempt < 4096; attempt++ {
		k, err := rand.Prime(rng, l-q.BitLen())
		if err != nil {
			return nil, false
		}
		p := new(big.Int).Mul(k, q)
		p.Mul(p, two)
		p.Add(p, one)
		if p.BitLen() != l {
			continue
		}
		if p.ProbablyPrime(32) {
			return p, true
		}
	}
	return nil, false
}

func findGenerator(rng io.Reader, p, q *big.Int) (*big.Int, error) {
	one := big.NewInt(1)
	e := new(big.Int).Sub(p, one)
	e.Div(e, q)
	pMinus2 := new(big.Int).Sub(p, big.NewInt(2))
	for {
		h, err := rand.Int(rng, pMinus2)
		if err != nil {
			return nil, err
		}
		h.Add(h, big.NewInt(2))
		g := new(big.Int).Exp(h, e, p)
		if g.Cmp(one) != 0 {
			return g, nil
		}
	}
}

// GenerateKey derives a fresh X in [1, q-1] and its public Y = g^x mod p.
func GenerateKey(params *Parameters, rng io.Reader) (*PrivateKey, error) {
	if rng == nil {
		rng = rand.Reader
	}
	qMinus1 := new(big.Int).Sub(params.Q, big.NewInt(1))
	x, err := rand.Int(rng, qMinus1)
	if err != nil {
		return nil, err
	}
	x.Add(x, big.NewInt(1))
	y := new(big.Int).Exp(params.G, x, params.P)
	return &PrivateKey{
		PublicKey: PublicKey{Parameters: *params, Y: y},
		X:         x,
	}, nil
}

// Sign computes a DSA signature (r, s) over a hash already truncated or
// reduced to at most Q's bit length; a longer hash is truncated to Q's byte
// length (the AKE passes its 32-byte HMAC-SHA256 transcript MAC, per
// spec.md §4.3's m_a construction).
func Sign(rng io.Reader, priv *PrivateKey, hash []byte) (r, s *big.Int, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	n := (priv.Q.BitLen() + 7) / 8
	if len(hash) > n {
		hash = hash[:n]
	}
	z := new(big.Int).SetBytes(hash)

	qMinus1 := new(big.Int).Sub(priv.Q, big.NewInt(1))
	for {
		k, err := rand.Int(rng, qMinus1)
		if err != nil {
			return nil, nil, err
		}
		k.Add(k, big.NewInt(1))

		r = new(big.Int).Exp(priv.G, k, priv.P)
		r.Mod(r, priv.Q)
		if r.Sign() == 0 {
			continue
		}

		kInv := new(big.Int).ModInverse(k, priv.Q)
		if kInv == nil {
			continue
		}
		s = new(big.Int).Mul(priv.X, r)
		s.Add(s, z)
		s.Mul(s, kInv)
		s.Mod(s, priv.Q)
		if s.Sign() == 0 {
			continue
		}
		return r, s, nil
	}
}

// Verify checks a DSA signature (r, s) against a public key and hash.
func Verify(pub *PublicKey, hash []byte, r, s *big.Int) bool {
	if r.Sign() <= 0 || r.Cmp(pub.Q) >= 0 {
		return false
	}
	if s.Sign() <= 0 || s.Cmp(pub.Q) >= 0 {
		return false
	}

	n := (pub.Q.BitLen() + 7) / 8
	if len(hash) > n {
		hash = hash[:n]
	}
	z := new(big.Int).SetBytes(hash)

	w := new(big.Int).ModInverse(s, pub.Q)
	if w == nil {
		return false
	}
	u1 := new(big.Int).Mul(z, w)
	u1.Mod(u1, pub.Q)
	u2 := new(big.Int).Mul(r, w)
	u2.Mod(u2, pub.Q)

	v1 := new(big.Int).Exp(pub.G, u1, pub.P)
	v2 := new(big.Int).Exp(pub.Y, u2, pub.P)
	v := new(big.Int).Mul(v1, v2)
	v.Mod(v, pub.P)
	v.Mod(v, pub.Q)

	return v.Cmp(r) == 0
}

// Bytes serializes the private key as the three domain-parameter MPIs, Y
// and X, for storage; FromBytes is its inverse.
func (priv *PrivateKey) Bytes() []byte {
	return marshalInts(priv.P, priv.Q, priv.G, priv.Y, priv.X)
}

// FromBytes loads a private key previously serialized with Bytes.
func (priv *PrivateKey) FromBytes(data []byte) error {
	vals, err := unmarshalInts(data, 5)
	if err != nil {
		return err
	}
	priv.P, priv.Q, priv.G, priv.Y, priv.X = vals[0], vals[1], vals[2], vals[3], vals[4]
	return nil
}

// Bytes serializes the public key as the three domain-parameter MPIs
// followed by Y.
func (pub *PublicKey) Bytes() []byte {
	return marshalInts(pub.P, pub.Q, pub.G, pub.Y)
}

// FromBytes loads a public key previously serialized with Bytes.
func (pub *PublicKey) FromBytes(data []byte) error {
	vals, err := unmarshalInts(data, 4)
	if err != nil {
		return err
	}
	pub.P, pub.Q, pub.G, pub.Y = vals[0], vals[1], vals[2], vals[3]
	return nil
}

// Fingerprint returns the SHA-1 hash of the concatenated big-endian
// magnitudes of P, Q, G and Y (no length prefixes), the 20-byte identifier SMP mixes into its shared secret and
// that hosts display for out-of-band verification (spec.md §4.4/§4.7).
func Fingerprint(pub *PublicKey) []byte {
	h := sha1.New()
	for _, v := range []*big.Int{pub.P, pub.Q, pub.G, pub.Y} {
		h.Write(v.Bytes())
	}
	return h.Sum(nil)
}

func marshalInts(vs ...*big.Int) []byte {
	var out []byte
	for _, v := range vs {
		b := v.Bytes()
		var lenBuf [4]byte
		lenBuf[0] = byte(len(b) >> 24)
		lenBuf[1] = byte(len(b) >> 16)
		lenBuf[2] = byte(len(b) >> 8)
		lenBuf[3] = byte(len(b))
		out = append(out, lenBuf[:]...)
		out = append(out, b...)
	}
	return out
}

func unmarshalInts(data []byte, count int) ([]*big.Int, error) {
	out := make([]*big.Int, 0, count)
	pos := 0
	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return nil, ErrInvalidParameters
		}
		n := int(data[pos])<<24 | int(data[pos+1])<<16 | int(data[pos+2])<<8 | int(data[pos+3])
		pos += 4
		if n < 0 || pos+n > len(data) {
			return nil, ErrInvalidParameters
		}
		out = append(out, new(big.Int).SetBytes(data[pos:pos+n]))
		pos += n
	}
	return out, nil
}
