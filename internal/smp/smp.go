// Package smp implements the v3 Socialist Millionaires Protocol (spec
// component C4): a zero-knowledge equality test over a shared secret,
// carried out over the 1536-bit OTR prime-order subgroup, used for
// out-of-band identity verification once a session is ENCRYPTED.
package smp

import (
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"github.com/katzenpost/otr3/internal/dhgroup"
	"github.com/katzenpost/otr3/internal/secret"
	"github.com/katzenpost/otr3/internal/wire"
)

// ErrMalformed signals an SMP TLV whose MPI count or encoding doesn't
// match the expected message shape.
var ErrMalformed = errors.New("smp: malformed message")

func encodeMPIs(vs ...*big.Int) []byte {
	w := wire.NewWriter().Int(uint32(len(vs)))
	for _, v := range vs {
		w.MPI(v)
	}
	return w.Bytes()
}

func decodeMPIs(b []byte, n int) ([]*big.Int, error) {
	r := wire.NewReader(b)
	count, err := r.Int()
	if err != nil || int(count) != n {
		return nil, ErrMalformed
	}
	out := make([]*big.Int, n)
	for i := range out {
		v, err := r.MPI()
		if err != nil {
			return nil, ErrMalformed
		}
		out[i] = v
	}
	return out, nil
}

// Encode renders SMP1 as the MPI sequence g2a, g3a, c2, d2, c3, d3.
func (m *Message1) Encode() []byte { return encodeMPIs(m.G2a, m.G3a, m.C2, m.D2, m.C3, m.D3) }

// DecodeMessage1 parses an SMP1 TLV value.
func DecodeMessage1(b []byte) (*Message1, error) {
	vs, err := decodeMPIs(b, 6)
	if err != nil {
		return nil, err
	}
	return &Message1{G2a: vs[0], G3a: vs[1], C2: vs[2], D2: vs[3], C3: vs[4], D3: vs[5]}, nil
}

// Encode renders SMP2 as the MPI sequence g2b, g3b, c2, d2, c3, d3, pb,
// qb, cp, d5, d6.
func (m *Message2) Encode() []byte {
	return encodeMPIs(m.G2b, m.G3b, m.C2, m.D2, m.C3, m.D3, m.Pb, m.Qb, m.Cp, m.D5, m.D6)
}

// DecodeMessage2 parses an SMP2 TLV value.
func DecodeMessage2(b []byte) (*Message2, error) {
	vs, err := decodeMPIs(b, 11)
	if err != nil {
		return nil, err
	}
	return &Message2{
		G2b: vs[0], G3b: vs[1], C2: vs[2], D2: vs[3], C3: vs[4], D3: vs[5],
		Pb: vs[6], Qb: vs[7], Cp: vs[8], D5: vs[9], D6: vs[10],
	}, nil
}

// Encode renders SMP3 as the MPI sequence pa, qa, cp, d7, d8, ra, cr, d9.
func (m *Message3) Encode() []byte {
	return encodeMPIs(m.Pa, m.Qa, m.Cp, m.D7, m.D8, m.Ra, m.Cr, m.D9)
}

// DecodeMessage3 parses an SMP3 TLV value.
func DecodeMessage3(b []byte) (*Message3, error) {
	vs, err := decodeMPIs(b, 8)
	if err != nil {
		return nil, err
	}
	return &Message3{Pa: vs[0], Qa: vs[1], Cp: vs[2], D7: vs[3], D8: vs[4], Ra: vs[5], Cr: vs[6], D9: vs[7]}, nil
}

// Encode renders SMP4 as the MPI sequence rb, cr, d9.
func (m *Message4) Encode() []byte { return encodeMPIs(m.Rb, m.Cr, m.D9) }

// DecodeMessage4 parses an SMP4 TLV value.
func DecodeMessage4(b []byte) (*Message4, error) {
	vs, err := decodeMPIs(b, 3)
	if err != nil {
		return nil, err
	}
	return &Message4{Rb: vs[0], Cr: vs[1], D9: vs[2]}, nil
}

// Status is the terminal outcome of an SMP run.
type Status int

const (
	StatusInProgress Status = iota
	StatusSucceeded
	StatusFailed
	StatusCheated
)

// ErrAbort signals a malformed or out-of-order message. ReceiveMessage1..4
// reset the engine to Expect1 before returning it; Start and Answer return
// it without changing state. No abort TLV (type 6) is sent for it:
// Conversation reports the failure through Host.SMPError only.
var ErrAbort = errors.New("smp: aborted")

// Role distinguishes the protocol initiator from the responder; the g2/g3
// exponent roles and which party computes Rab differ by role.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// step identifies which Schnorr-like proof a c/d pair belongs to, used as
// SHA-256's version-byte domain separator. The eight proofs share seven
// values: the SMP3 Ra proof and the SMP4 Rb proof both use step4r.
type step byte

const (
	step1g2 step = 1
	step1g3 step = 2
	step2g2 step = 3
	step2g3 step = 4
	step2p  step = 5
	step3p  step = 6
	step4r  step = 7
)

// Engine drives one side of one SMP run. Working values are secret.Int so
// exponents are zeroed on completion or abort.
type Engine struct {
	rng  io.Reader
	role Role

	state state

	x2, x3 *secret.Int
	b3     *secret.Int // responder's third exponent
	g2, g3 *big.Int    // mutually computed shared bases, g2=G^(x2*y2), g3=G^(x3*y3)

	pa, qa, pb, qb *big.Int
	qab            *big.Int // (Qa * Qb^-1 mod p), the base Ra/Rb are raised over
	secretHash     *big.Int

	Status Status
}

type state int

const (
	stateExpect1 state = iota
	stateExpect1Answered
	stateExpect2
	stateExpect3
	stateExpect4
)

// New returns an Engine ready to start (as initiator) or receive (as
// responder) the first SMP message.
func New(role Role, rng io.Reader) *Engine {
	return &Engine{rng: rng, role: role, state: stateExpect1, Status: StatusInProgress}
}

// Message1 is SMP1: the initiator's two Schnorr proofs of knowledge of
// x2, x3.
type Message1 struct {
	G2a, G3a     *big.Int
	C2, D2       *big.Int
	C3, D3       *big.Int
}

// Message2 is SMP2: the responder's two Schnorr proofs plus the
// two-coordinate proof that Pb/Qb is well-formed.
type Message2 struct {
	G2b, G3b *big.Int
	C2, D2   *big.Int
	C3, D3   *big.Int
	Pb, Qb   *big.Int
	Cp, D5, D6 *big.Int
}

// Message3 is SMP3: the initiator's Pa/Qa plus the coordinate proof, and
// Ra (used by the responder to compute Rab).
type Message3 struct {
	Pa, Qa     *big.Int
	Cp, D7, D8 *big.Int
	Ra         *big.Int
	Cr, D9     *big.Int
}

// Message4 is SMP4: the responder's Rb, completing the comparison on the
// initiator's side.
type Message4 struct {
	Rb     *big.Int
	Cr, D9 *big.Int
}

func hashStep(s step, ts ...*big.Int) *big.Int {
	h := sha256.New()
	h.Write([]byte{byte(s)})
	for _, t := range ts {
		h.Write(t.Bytes())
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// proveExponent builds a Schnorr proof (c, d) of knowledge of x such that
// pub = base^x, with randomizer drawn fresh from rng. The step1/step2
// proofs fix base to the group generator; the step4r proofs fix base to
// qab = Qa * Qb^-1 mod p, per spec.md §4.4.
func proveExponent(rng io.Reader, s step, base, x *big.Int) (c, d, r *big.Int, err error) {
	r, err = dhgroup.GenerateExponent(rng)
	if err != nil {
		return nil, nil, nil, err
	}
	t := new(big.Int).Exp(base, r, dhgroup.P)
	c = new(big.Int).Mod(hashStep(s, t), dhgroup.Q)
	d = new(big.Int).Mul(c, x)
	d.Sub(r, d)
	d.Mod(d, dhgroup.Q)
	return c, d, r, nil
}

// checkScalars validates a batch of received c/d proof scalars against
// 1 <= x < q (spec.md §4.4), returning the first failure.
func checkScalars(xs ...*big.Int) error {
	for _, x := range xs {
		if err := dhgroup.CheckScalar(x); err != nil {
			return err
		}
	}
	return nil
}

func checkExponentProof(s step, base, pub *big.Int, c, d *big.Int) bool {
	t1 := new(big.Int).Exp(base, d, dhgroup.P)
	t2 := new(big.Int).Exp(pub, c, dhgroup.P)
	t1.Mul(t1, t2)
	t1.Mod(t1, dhgroup.P)
	want := new(big.Int).Mod(hashStep(s, t1), dhgroup.Q)
	return want.Cmp(c) == 0
}

// HashSecret mixes the application secret with a protocol tag derived
// from both fingerprints and the session SSID, so SMP never operates on
// the raw passphrase (spec.md §4.4).
func HashSecret(version byte, initiatorFingerprint, responderFingerprint, ssid, secretInput []byte) *big.Int {
	h := sha256.New()
	h.Write([]byte{version})
	h.Write(initiatorFingerprint)
	h.Write(responderFingerprint)
	h.Write(ssid)
	h.Write(secretInput)
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Start (initiator, Expect1) produces SMP1 from the hashed secret.
func (e *Engine) Start(secretHash *big.Int) (*Message1, error) {
	if e.state != stateExpect1 || e.role != RoleInitiator {
		return nil, ErrAbort
	}
	x2, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	x3, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	e.x2, e.x3 = secret.NewInt(x2), secret.NewInt(x3)
	e.secretHash = secretHash

	g2a := dhgroup.PublicValue(x2)
	g3a := dhgroup.PublicValue(x3)
	c2, d2, _, err := proveExponent(e.rng, step1g2, dhgroup.G, x2)
	if err != nil {
		return nil, err
	}
	c3, d3, _, err := proveExponent(e.rng, step1g3, dhgroup.G, x3)
	if err != nil {
		return nil, err
	}

	e.state = stateExpect2
	return &Message1{G2a: g2a, G3a: g3a, C2: c2, D2: d2, C3: c3, D3: d3}, nil
}

// ReceiveMessage1 (responder, Expect1) validates SMP1 and stores the
// initiator's g2a/g3a pending the local secret via Answer.
func (e *Engine) ReceiveMessage1(m *Message1) error {
	if e.state != stateExpect1 || e.role != RoleResponder {
		e.abort()
		return ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.G2a); err != nil {
		e.abort()
		return ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.G3a); err != nil {
		e.abort()
		return ErrAbort
	}
	if err := checkScalars(m.C2, m.D2, m.C3, m.D3); err != nil {
		e.abort()
		return ErrAbort
	}
	if !checkExponentProof(step1g2, dhgroup.G, m.G2a, m.C2, m.D2) {
		e.abort()
		return ErrAbort
	}
	if !checkExponentProof(step1g3, dhgroup.G, m.G3a, m.C3, m.D3) {
		e.abort()
		return ErrAbort
	}
	e.state = stateExpect1Answered
	return nil
}

// Answer (responder, Expect1Answered) produces SMP2 from the local
// secret.
func (e *Engine) Answer(g2a, g3a *big.Int, secretHash *big.Int) (*Message2, error) {
	if e.state != stateExpect1Answered || e.role != RoleResponder {
		return nil, ErrAbort
	}
	x2, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	b3, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	e.secretHash = secretHash

	g2b := dhgroup.PublicValue(x2)
	g3b := dhgroup.PublicValue(b3)
	c2, d2, _, err := proveExponent(e.rng, step2g2, dhgroup.G, x2)
	if err != nil {
		return nil, err
	}
	c3, d3, _, err := proveExponent(e.rng, step2g3, dhgroup.G, b3)
	if err != nil {
		return nil, err
	}

	g2 := new(big.Int).Exp(g2a, x2, dhgroup.P)
	g3 := new(big.Int).Exp(g3a, b3, dhgroup.P)
	e.g2, e.g3 = g2, g3

	r, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	pb := new(big.Int).Exp(g3, r, dhgroup.P)
	qb1 := new(big.Int).Exp(dhgroup.G, r, dhgroup.P)
	qb2 := new(big.Int).Exp(g2, secretHash, dhgroup.P)
	qb := new(big.Int).Mul(qb1, qb2)
	qb.Mod(qb, dhgroup.P)
	e.pb, e.qb = pb, qb

	r6, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	t1 := new(big.Int).Exp(g3, r6, dhgroup.P)
	r7, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	t2a := new(big.Int).Exp(dhgroup.G, r6, dhgroup.P)
	t2b := new(big.Int).Exp(g2, r7, dhgroup.P)
	t2 := new(big.Int).Mul(t2a, t2b)
	t2.Mod(t2, dhgroup.P)

	cp := new(big.Int).Mod(hashStep(step2p, t1, t2), dhgroup.Q)
	d5 := new(big.Int).Mul(cp, r)
	d5.Sub(r6, d5)
	d5.Mod(d5, dhgroup.Q)
	d6 := new(big.Int).Mul(cp, secretHash)
	d6.Sub(r7, d6)
	d6.Mod(d6, dhgroup.Q)

	e.b3 = secret.NewInt(b3)
	e.state = stateExpect3
	return &Message2{G2b: g2b, G3b: g3b, C2: c2, D2: d2, C3: c3, D3: d3, Pb: pb, Qb: qb, Cp: cp, D5: d5, D6: d6}, nil
}

// ReceiveMessage2 (initiator, Expect2) validates SMP2, computes Pa/Qa and
// the matching coordinate proof, and produces SMP3.
func (e *Engine) ReceiveMessage2(m *Message2) (*Message3, error) {
	if e.state != stateExpect2 || e.role != RoleInitiator {
		e.abort()
		return nil, ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.G2b); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.G3b); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := checkScalars(m.C2, m.D2, m.C3, m.D3); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if !checkExponentProof(step2g2, dhgroup.G, m.G2b, m.C2, m.D2) {
		e.abort()
		return nil, ErrAbort
	}
	if !checkExponentProof(step2g3, dhgroup.G, m.G3b, m.C3, m.D3) {
		e.abort()
		return nil, ErrAbort
	}

	g2 := new(big.Int).Exp(m.G2b, e.x2.Value(), dhgroup.P)
	g3 := new(big.Int).Exp(m.G3b, e.x3.Value(), dhgroup.P)
	e.g2, e.g3 = g2, g3

	if err := dhgroup.CheckGroupElement(m.Pb); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.Qb); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := checkScalars(m.Cp, m.D5, m.D6); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if !checkCoordinateProof(step2p, g3, m.Pb, g2, m.Qb, m.Cp, m.D5, m.D6) {
		e.abort()
		return nil, ErrAbort
	}
	e.pb, e.qb = m.Pb, m.Qb

	r4, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	pa := new(big.Int).Exp(g3, r4, dhgroup.P)
	qa1 := new(big.Int).Exp(dhgroup.G, r4, dhgroup.P)
	qa2 := new(big.Int).Exp(g2, e.secretHash, dhgroup.P)
	qa := new(big.Int).Mul(qa1, qa2)
	qa.Mod(qa, dhgroup.P)
	e.pa, e.qa = pa, qa

	r5, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	r6, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	t1p := new(big.Int).Exp(g3, r5, dhgroup.P)
	t2p := new(big.Int).Mul(new(big.Int).Exp(dhgroup.G, r5, dhgroup.P), new(big.Int).Exp(g2, r6, dhgroup.P))
	t2p.Mod(t2p, dhgroup.P)
	cp := new(big.Int).Mod(hashStep(step3p, t1p, t2p), dhgroup.Q)
	d7 := new(big.Int).Mul(cp, r4)
	d7.Sub(r5, d7)
	d7.Mod(d7, dhgroup.Q)
	d8 := new(big.Int).Mul(cp, e.secretHash)
	d8.Sub(r6, d8)
	d8.Mod(d8, dhgroup.Q)

	qab := new(big.Int).ModInverse(e.qb, dhgroup.P)
	qab.Mul(qab, e.qa)
	qab.Mod(qab, dhgroup.P)
	e.qab = qab

	a3 := e.x3.Value()
	ra := new(big.Int).Exp(qab, a3, dhgroup.P)
	cr, d9, _, err := proveExponent(e.rng, step4r, qab, a3)
	if err != nil {
		return nil, err
	}

	e.state = stateExpect4
	return &Message3{Pa: pa, Qa: qa, Cp: cp, D7: d7, D8: d8, Ra: ra, Cr: cr, D9: d9}, nil
}

// ReceiveMessage3 (responder, Expect3) validates SMP3, computes Rb and
// the final comparison, and produces SMP4.
func (e *Engine) ReceiveMessage3(m *Message3) (*Message4, error) {
	if e.state != stateExpect3 || e.role != RoleResponder {
		e.abort()
		return nil, ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.Pa); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.Qa); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := checkScalars(m.Cp, m.D7, m.D8); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if !checkCoordinateProof(step3p, e.g3, m.Pa, e.g2, m.Qa, m.Cp, m.D7, m.D8) {
		e.abort()
		return nil, ErrAbort
	}
	e.pa, e.qa = m.Pa, m.Qa

	qab := new(big.Int).ModInverse(e.qb, dhgroup.P)
	qab.Mul(qab, e.qa)
	qab.Mod(qab, dhgroup.P)
	e.qab = qab

	if err := dhgroup.CheckGroupElement(m.Ra); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if err := checkScalars(m.Cr, m.D9); err != nil {
		e.abort()
		return nil, ErrAbort
	}
	if !checkExponentProof(step4r, qab, m.Ra, m.Cr, m.D9) {
		e.abort()
		return nil, ErrAbort
	}

	b3 := e.b3.Value()
	rb := new(big.Int).Exp(qab, b3, dhgroup.P)
	cr, d9, _, err := proveExponent(e.rng, step4r, qab, b3)
	if err != nil {
		return nil, err
	}

	rab := new(big.Int).Exp(m.Ra, b3, dhgroup.P)
	papb := new(big.Int).ModInverse(e.pb, dhgroup.P)
	papb.Mul(papb, e.pa)
	papb.Mod(papb, dhgroup.P)
	if rab.Cmp(papb) == 0 {
		e.Status = StatusSucceeded
	} else {
		e.Status = StatusFailed
	}
	e.state = stateExpect1

	return &Message4{Rb: rb, Cr: cr, D9: d9}, nil
}

// ReceiveMessage4 (initiator, Expect4) checks Rb and completes the
// comparison on the initiator's side.
func (e *Engine) ReceiveMessage4(m *Message4) error {
	if e.state != stateExpect4 || e.role != RoleInitiator {
		e.abort()
		return ErrAbort
	}
	if err := dhgroup.CheckGroupElement(m.Rb); err != nil {
		e.abort()
		return ErrAbort
	}
	if err := checkScalars(m.Cr, m.D9); err != nil {
		e.abort()
		return ErrAbort
	}
	if !checkExponentProof(step4r, e.qab, m.Rb, m.Cr, m.D9) {
		e.abort()
		return ErrAbort
	}
	rab := new(big.Int).Exp(m.Rb, e.x3.Value(), dhgroup.P)
	papb := new(big.Int).ModInverse(e.pb, dhgroup.P)
	papb.Mul(papb, e.pa)
	papb.Mod(papb, dhgroup.P)
	if rab.Cmp(papb) == 0 {
		e.Status = StatusSucceeded
	} else {
		e.Status = StatusFailed
	}
	e.state = stateExpect1
	return nil
}

// Abort resets the engine to Expect1, as required when an abort TLV
// (type 6) is received in any non-initial state.
func (e *Engine) Abort() { e.abort() }

func (e *Engine) abort() {
	if e.x2 != nil {
		e.x2.Destroy()
	}
	if e.x3 != nil {
		e.x3.Destroy()
	}
	if e.b3 != nil {
		e.b3.Destroy()
	}
	e.state = stateExpect1
	if e.Status == StatusInProgress {
		e.Status = StatusCheated
	}
}

// checkCoordinateProof verifies the two-exponent proof that p = g3^r and
// q = g1^r * g2^s for some (r, s), used by the Pb/Qb (step 2) and Pa/Qa
// (step 3) messages.
func checkCoordinateProof(s step, g3, p, g2, q, c, d1, d2 *big.Int) bool {
	t1 := new(big.Int).Exp(g3, d1, dhgroup.P)
	t1.Mul(t1, new(big.Int).Exp(p, c, dhgroup.P))
	t1.Mod(t1, dhgroup.P)

	t2 := new(big.Int).Exp(dhgroup.G, d1, dhgroup.P)
	t2.Mul(t2, new(big.Int).Exp(g2, d2, dhgroup.P))
	t2.Mul(t2, new(big.Int).Exp(q, c, dhgroup.P))
	t2.Mod(t2, dhgroup.P)

	want := new(big.Int).Mod(hashStep(s, t1, t2), dhgroup.Q)
	return want.Cmp(c) == 0
}
