package otr

// Policy controls which protocol versions a Conversation will speak and
// how aggressively it tries to move a plaintext exchange into an
// encrypted one. There is no persisted configuration; the host supplies
// a Policy value per session via Host.GetSessionPolicy.
type Policy struct {
	AllowV2 bool
	AllowV3 bool
	AllowV4 bool

	// RequireEncryption reports every inbound plaintext message through
	// Host.UnencryptedMessageReceived (the text is still returned to the
	// caller), and makes Send return a StateError, sending nothing, while
	// the outbound sub-session is not ENCRYPTED.
	RequireEncryption bool

	// SendWhitespaceTag appends a whitespace tag advertising supported
	// versions to outbound plaintext while no sub-session is encrypted.
	SendWhitespaceTag bool

	// WhitespaceStartAKE starts an AKE upon receiving a whitespace-tagged
	// plaintext message advertising a mutually supported version.
	WhitespaceStartAKE bool

	// ErrorStartAKE starts an AKE upon receiving an OTR error message.
	ErrorStartAKE bool
}

// Versions returns the protocol versions this policy allows, highest
// first, for use in a query tag or a DH-Commit's proposed version.
func (p Policy) Versions() []int {
	var vs []int
	if p.AllowV4 {
		vs = append(vs, 4)
	}
	if p.AllowV3 {
		vs = append(vs, 3)
	}
	if p.AllowV2 {
		vs = append(vs, 2)
	}
	return vs
}

// Allows reports whether the policy permits the given protocol version.
func (p Policy) Allows(version int) bool {
	switch version {
	case 2:
		return p.AllowV2
	case 3:
		return p.AllowV3
	case 4:
		return p.AllowV4
	default:
		return false
	}
}

// best returns the highest version both this policy and the peer's
// advertised set agree on, or 0 if there is no overlap.
func (p Policy) best(peerVersions []int) int {
	best := 0
	for _, v := range peerVersions {
		if p.Allows(v) && v > best {
			best = v
		}
	}
	return best
}
