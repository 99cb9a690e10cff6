// Package ake implements the OTRv2/v3 interactive signature authenticated
// key exchange (spec component C3): the DH-Commit/DH-Key/Reveal-Signature/
// Signature state machine that produces a shared secret and an
// authenticated peer long-term key. The v4 DAKE (Identity/Auth-R/Auth-I)
// lives alongside it as a parallel, partial transition set.
package ake

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"github.com/katzenpost/otr3/internal/dhgroup"
	"github.com/katzenpost/otr3/internal/dsa"
	"github.com/katzenpost/otr3/internal/ed448kex"
	"github.com/katzenpost/otr3/internal/secret"
	"github.com/katzenpost/otr3/internal/symmetric"
	"github.com/katzenpost/otr3/internal/wire"
)

// Errors surfaced by the AKE engine. Per spec.md §4.3, most failures are
// silent drops that preserve state; these are returned only where the
// engine must tell the caller a structural reset occurred.
var (
	ErrRangeCheck    = errors.New("ake: dh public value failed range check")
	ErrSignature     = errors.New("ake: signature verification failed")
	ErrMAC           = errors.New("ake: mac verification failed")
	ErrUnexpected    = errors.New("ake: message not expected in current state")
	ErrUnknownVersion = errors.New("ake: unsupported protocol version")
)

// State is implemented by each of the four AKE auth-state variants of
// spec.md §3.
type State interface {
	isAuthState()
}

// StateNone is the initial/resting state: no AKE in progress.
type StateNone struct{}

func (StateNone) isAuthState() {}

// StateAwaitingDHKey holds what we sent in our own DH-Commit, waiting for
// the peer's DH-Key.
type StateAwaitingDHKey struct {
	R                [16]byte // AES key used to encrypt our gx
	LocalX           *secret.Int
	LocalDHHash      [32]byte // SHA-256(gx)
	LocalDHEncrypted []byte
	Version          uint16
}

func (*StateAwaitingDHKey) isAuthState() {}

// StateAwaitingRevealSig holds the peer's committed (still-encrypted) gx,
// waiting for Reveal-Signature to unlock it.
type StateAwaitingRevealSig struct {
	RemoteDHHash      [32]byte
	RemoteDHEncrypted []byte
	LocalX            *secret.Int
	LocalY            *big.Int
	Version           uint16
}

func (*StateAwaitingRevealSig) isAuthState() {}

// StateAwaitingSig holds the derived shared secret and sub-keys, waiting
// for the peer's Signature message to complete authentication.
type StateAwaitingSig struct {
	RemoteDH *big.Int
	Shared   *secret.Int
	SSID     [8]byte
	C, Cp    [16]byte
	M1, M2   [32]byte
	M1p, M2p [32]byte
	Version  uint16
	LocalX   *secret.Int
	KeyID    uint32
}

func (*StateAwaitingSig) isAuthState() {}

// Result is returned once the AKE completes successfully: the shared
// secret and the authenticated peer long-term public key, plus the raw
// DH values the session layer needs to seed its first key pair and
// advertise the next one (spec.md §4.5).
type Result struct {
	SSID       [8]byte
	Shared     *secret.Int
	PeerPublic *dsa.PublicKey
	Version    uint16
	LocalX     *secret.Int
	RemoteDH   *big.Int
}

// Engine drives one sub-session's AKE state machine. It is not safe for
// concurrent use; callers serialize access per sub-session (spec.md §5).
type Engine struct {
	rng       io.Reader
	LocalKey  *dsa.PrivateKey
	LocalKeyID uint32
	State     State
}

// New returns an Engine in StateNone, using rng for exponent and key
// generation (crypto/rand.Reader if nil).
func New(localKey *dsa.PrivateKey, rng io.Reader) *Engine {
	return &Engine{rng: rng, LocalKey: localKey, LocalKeyID: 1, State: StateNone{}}
}

// StartAKE begins a fresh exchange, returning the DH-Commit message to
// send. Valid from any state: restarting an in-progress AKE is allowed
// per spec.md §5 (no built-in timeout; a new DH-Commit restarts it).
func (e *Engine) StartAKE(version uint16, sender, receiver uint32) (*wire.DHCommitMessage, error) {
	x, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	gx := dhgroup.PublicValue(x)

	var r [16]byte
	if _, err := io.ReadFull(randReader(e.rng), r[:]); err != nil {
		return nil, err
	}
	gxBytes := wire.NewWriter().MPI(gx).Bytes()
	encGx, err := symmetric.CTREncrypt(r[:], zeroIV(), gxBytes)
	if err != nil {
		return nil, err
	}
	hashGx := sha256.Sum256(gxBytes)

	e.State = &StateAwaitingDHKey{
		R:                r,
		LocalX:           secret.NewInt(x),
		LocalDHHash:      hashGx,
		LocalDHEncrypted: encGx,
		Version:          version,
	}

	msg := &wire.DHCommitMessage{
		Header:      wire.Header{Version: version, Type: wire.MsgDHCommit, Sender: sender, Receiver: receiver},
		EncryptedGx: encGx,
		HashGx:      hashGx[:],
	}
	return msg, nil
}

// HandleDHCommit processes an inbound DH-Commit per the state table's
// first column. reply is nil when the message is dropped.
func (e *Engine) HandleDHCommit(m *wire.DHCommitMessage) (reply wire.Message, err error) {
	switch st := e.State.(type) {
	case StateNone, nil:
		return e.replyDHKeyAndAwaitRevealSig(m)

	case *StateAwaitingDHKey:
		var theirHash [32]byte
		copy(theirHash[:], m.HashGx)
		ourHash := new(big.Int).SetBytes(st.LocalDHHash[:])
		theirs := new(big.Int).SetBytes(theirHash[:])
		if ourHash.Cmp(theirs) < 0 {
			// Our hash is lower: yield, accept theirs as if we were in None.
			return e.replyDHKeyAndAwaitRevealSig(m)
		}
		// Our hash is higher: resend our own DH-Commit unchanged.
		return &wire.DHCommitMessage{
			Header:      wire.Header{Version: st.Version, Type: wire.MsgDHCommit},
			EncryptedGx: st.LocalDHEncrypted,
			HashGx:      st.LocalDHHash[:],
		}, nil

	case *StateAwaitingRevealSig:
		var theirHash [32]byte
		copy(theirHash[:], m.HashGx)
		e.State = &StateAwaitingRevealSig{
			RemoteDHHash:      theirHash,
			RemoteDHEncrypted: m.EncryptedGx,
			LocalX:            st.LocalX,
			LocalY:            st.LocalY,
			Version:           st.Version,
		}
		return &wire.DHKeyMessage{
			Header: wire.Header{Version: st.Version, Type: wire.MsgDHKey},
			Gy:     st.LocalY,
		}, nil

	case *StateAwaitingSig:
		x, err := dhgroup.GenerateExponent(e.rng)
		if err != nil {
			return nil, err
		}
		gy := dhgroup.PublicValue(x)
		var theirHash [32]byte
		copy(theirHash[:], m.HashGx)
		e.State = &StateAwaitingRevealSig{
			RemoteDHHash:      theirHash,
			RemoteDHEncrypted: m.EncryptedGx,
			LocalX:            secret.NewInt(x),
			LocalY:            gy,
			Version:           st.Version,
		}
		return &wire.DHKeyMessage{
			Header: wire.Header{Version: st.Version, Type: wire.MsgDHKey},
			Gy:     gy,
		}, nil
	}
	return nil, ErrUnexpected
}

func (e *Engine) replyDHKeyAndAwaitRevealSig(m *wire.DHCommitMessage) (wire.Message, error) {
	y, err := dhgroup.GenerateExponent(e.rng)
	if err != nil {
		return nil, err
	}
	gy := dhgroup.PublicValue(y)
	var theirHash [32]byte
	copy(theirHash[:], m.HashGx)
	e.State = &StateAwaitingRevealSig{
		RemoteDHHash:      theirHash,
		RemoteDHEncrypted: m.EncryptedGx,
		LocalX:            secret.NewInt(y),
		LocalY:            gy,
		Version:           m.Version,
	}
	return &wire.DHKeyMessage{
		Header: wire.Header{Version: m.Version, Type: wire.MsgDHKey},
		Gy:     gy,
	}, nil
}

// HandleDHKey processes an inbound DH-Key. Only meaningful from
// AwaitingDHKey (and, for a duplicate, AwaitingSig).
func (e *Engine) HandleDHKey(m *wire.DHKeyMessage) (reply wire.Message, err error) {
	switch st := e.State.(type) {
	case *StateAwaitingDHKey:
		if err := dhgroup.CheckPublicValue(m.Gy); err != nil {
			return nil, nil // silently dropped, state preserved
		}
		shared := dhgroup.SharedSecret(st.LocalX.Value(), m.Gy)
		ssid, c, cp, m1, m2, m1p, m2p := deriveKeys(shared)

		sigMsg, err := e.buildRevealSignature(st, m.Gy, shared, c, m1, m2)
		if err != nil {
			return nil, err
		}

		e.State = &StateAwaitingSig{
			RemoteDH: m.Gy,
			Shared:   secret.NewInt(shared),
			SSID:     ssid,
			C:        c, Cp: cp,
			M1: m1, M2: m2, M1p: m1p, M2p: m2p,
			Version: st.Version,
			LocalX:  st.LocalX,
			KeyID:   e.LocalKeyID,
		}
		return sigMsg, nil

	case *StateAwaitingSig:
		// Duplicate DH-Key: resend our Reveal-Signature if gy matches.
		if st.RemoteDH != nil && st.RemoteDH.Cmp(m.Gy) == 0 {
			return e.buildRevealSignature(&StateAwaitingDHKey{LocalX: st.LocalX, Version: st.Version}, m.Gy, st.Shared.Value(), st.C, st.M1, st.M2)
		}
		return nil, nil
	}
	return nil, nil
}

func (e *Engine) buildRevealSignature(st *StateAwaitingDHKey, gy *big.Int, shared *big.Int, c [16]byte, m1, m2 [32]byte) (*wire.RevealSignatureMessage, error) {
	gx := dhgroup.PublicValue(st.LocalX.Value())
	sigX, err := e.signTranscript(gx, gy, m1)
	if err != nil {
		return nil, err
	}
	encX, err := symmetric.CTREncrypt(c[:], zeroIV(), sigX)
	if err != nil {
		return nil, err
	}
	macX := truncatedMAC20(m2, wire.NewWriter().Data(encX).Bytes())

	return &wire.RevealSignatureMessage{
		Header:    wire.Header{Version: st.Version, Type: wire.MsgRevealSig},
		RevealedR: st.R[:],
		EncX:      encX,
		MACX:      macX,
	}, nil
}

func (e *Engine) signTranscript(gx, gy *big.Int, macKey [32]byte) ([]byte, error) {
	transcript := wire.NewWriter().MPI(gx).MPI(gy).DSAPublicKey(
		e.LocalKey.P, e.LocalKey.Q, e.LocalKey.G, e.LocalKey.Y).Int(e.LocalKeyID).Bytes()
	mb := symmetric.MAC32(macKey[:], transcript)
	r, s, err := dsa.Sign(e.rng, e.LocalKey, mb[:])
	if err != nil {
		return nil, err
	}
	sigBytes := wire.NewWriter().MPI(r).MPI(s).Bytes()
	return wire.NewWriter().DSAPublicKey(e.LocalKey.P, e.LocalKey.Q, e.LocalKey.G, e.LocalKey.Y).
		Int(e.LocalKeyID).Data(sigBytes).Bytes(), nil
}

// HandleRevealSignature processes the Reveal-Signature message: decrypts
// the peer's committed gx, verifies its hash and MACs, then verifies the
// inner DSA signature. On success the sub-session becomes ENCRYPTED.
func (e *Engine) HandleRevealSignature(m *wire.RevealSignatureMessage) (reply *wire.SignatureMessage, result *Result, err error) {
	st, ok := e.State.(*StateAwaitingRevealSig)
	if !ok {
		return nil, nil, nil
	}

	revealedGxBytes, err := symmetric.CTRDecrypt(m.RevealedR, zeroIV(), st.RemoteDHEncrypted)
	if err != nil {
		return nil, nil, nil
	}
	if sha256.Sum256(revealedGxBytes) != st.RemoteDHHash {
		return nil, nil, nil // hash mismatch: drop, preserve state
	}
	gx := wire.NewReader(revealedGxBytes)
	remoteGx, err := gx.MPI()
	if err != nil {
		return nil, nil, nil
	}
	if err := dhgroup.CheckPublicValue(remoteGx); err != nil {
		return nil, nil, nil
	}

	shared := dhgroup.SharedSecret(st.LocalX.Value(), remoteGx)
	ssid, c, cp, m1, m2, m1p, m2p := deriveKeys(shared)

	wantMAC := truncatedMAC20(m2, wire.NewWriter().Data(m.EncX).Bytes())
	if wantMAC != m.MACX {
		return nil, nil, nil
	}
	sigXBytes, err := symmetric.CTRDecrypt(c[:], zeroIV(), m.EncX)
	if err != nil {
		return nil, nil, nil
	}
	peerKey, peerKeyID, peerSigBytes, err := decodeSignatureX(sigXBytes)
	if err != nil {
		return nil, nil, nil
	}
	transcript := wire.NewWriter().MPI(remoteGx).MPI(st.LocalY).DSAPublicKey(
		peerKey.P, peerKey.Q, peerKey.G, peerKey.Y).Int(peerKeyID).Bytes()
	mb := symmetric.MAC32(m1[:], transcript)
	sr := wire.NewReader(peerSigBytes)
	rr, err1 := sr.MPI()
	ss, err2 := sr.MPI()
	if err1 != nil || err2 != nil || !dsa.Verify(peerKey, mb[:], rr, ss) {
		return nil, nil, nil
	}

	mySigBytes, err := e.signTranscript(remoteGx, st.LocalY, m1p)
	if err != nil {
		return nil, nil, err
	}
	myEncX, err := symmetric.CTREncrypt(cp[:], zeroIV(), mySigBytes)
	if err != nil {
		return nil, nil, err
	}
	myMAC := truncatedMAC20(m2p, wire.NewWriter().Data(myEncX).Bytes())

	e.State = StateNone{}
	return &wire.SignatureMessage{
			Header: wire.Header{Version: st.Version, Type: wire.MsgSignature},
			EncX:   myEncX,
			MACX:   myMAC,
		}, &Result{
			SSID:       ssid,
			Shared:     secret.NewInt(shared),
			PeerPublic: peerKey,
			Version:    st.Version,
			LocalX:     st.LocalX,
			RemoteDH:   remoteGx,
		}, nil
}

// HandleSignature processes the final Signature message: verifies the
// peer's inner DSA signature and, on success, completes the AKE.
func (e *Engine) HandleSignature(m *wire.SignatureMessage) (*Result, error) {
	st, ok := e.State.(*StateAwaitingSig)
	if !ok {
		return nil, nil
	}
	wantMAC := truncatedMAC20(st.M2p, wire.NewWriter().Data(m.EncX).Bytes())
	if wantMAC != m.MACX {
		return nil, nil
	}
	sigXBytes, err := symmetric.CTRDecrypt(st.Cp[:], zeroIV(), m.EncX)
	if err != nil {
		return nil, nil
	}
	peerKey, peerKeyID, peerSigBytes, err := decodeSignatureX(sigXBytes)
	if err != nil {
		return nil, nil
	}
	gx := dhgroup.PublicValue(st.LocalX.Value())
	transcript := wire.NewWriter().MPI(gx).MPI(st.RemoteDH).DSAPublicKey(
		peerKey.P, peerKey.Q, peerKey.G, peerKey.Y).Int(peerKeyID).Bytes()
	mb := symmetric.MAC32(st.M1p[:], transcript)
	sr := wire.NewReader(peerSigBytes)
	rr, err1 := sr.MPI()
	ss, err2 := sr.MPI()
	if err1 != nil || err2 != nil || !dsa.Verify(peerKey, mb[:], rr, ss) {
		return nil, nil
	}

	result := &Result{
		SSID:       st.SSID,
		Shared:     st.Shared,
		PeerPublic: peerKey,
		Version:    st.Version,
		LocalX:     st.LocalX,
		RemoteDH:   st.RemoteDH,
	}
	e.State = StateNone{}
	return result, nil
}

// deriveKeys implements spec.md §4.3's h2-based key schedule over the
// shared secret s.
func deriveKeys(s *big.Int) (ssid [8]byte, c, cp [16]byte, m1, m2, m1p, m2p [32]byte) {
	secbytes := wire.NewWriter().MPI(s).Bytes()
	h2 := func(b byte) [32]byte {
		return sha256.Sum256(append([]byte{b}, secbytes...))
	}
	h0 := h2(0x00)
	copy(ssid[:], h0[:8])
	h1 := h2(0x01)
	copy(c[:], h1[:16])
	copy(cp[:], h1[16:])
	m1 = h2(0x02)
	m2 = h2(0x03)
	m1p = h2(0x04)
	m2p = h2(0x05)
	return
}

func decodeSignatureX(b []byte) (*dsa.PublicKey, uint32, []byte, error) {
	r := wire.NewReader(b)
	p, q, g, y, err := r.DSAPublicKey()
	if err != nil {
		return nil, 0, nil, err
	}
	keyID, err := r.Int()
	if err != nil {
		return nil, 0, nil, err
	}
	sig, err := r.Data()
	if err != nil {
		return nil, 0, nil, err
	}
	return &dsa.PublicKey{Parameters: dsa.Parameters{P: p, Q: q, G: g}, Y: y}, keyID, sig, nil
}

func truncatedMAC20(key [32]byte, message []byte) [20]byte {
	full := symmetric.MAC32(key[:], message)
	var out [20]byte
	copy(out[:], full[:20])
	return out
}

func zeroIV() []byte { return make([]byte, 16) }

func randReader(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}

// v4DAKE holds the partial OTRv4 DAKE support: Identity/Auth-R/Auth-I
// transitions consuming an Ed448 ephemeral key and a client profile,
// mixing an ECDH secret in place of (and, eventually, alongside) the
// DH-3072 secret the full DAKE also derives (see DESIGN.md).
type v4DAKE struct {
	localEd   *ed448kex.KeyPair
	transcript []byte
}
