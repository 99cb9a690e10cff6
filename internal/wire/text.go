package wire

import (
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
)

// WhitespaceBase is the 16-byte tag prefix that precedes the per-version
// whitespace tags in a tagged plaintext message.
const WhitespaceBase = "\x20\x09\x20\x20\x09\x09\x09\x09\x20\x09\x20\x09\x20\x09\x20\x20"

// Per-version 8-character whitespace tags, appended to WhitespaceBase.
const (
	WhitespaceTagV2 = "  \t\t  \t "
	WhitespaceTagV3 = "  \t\t  \t\t"
	WhitespaceTagV4 = "  \t\t \t  "
)

// FrameKind discriminates the text framings recognized on a single line.
type FrameKind int

const (
	// FramePlaintext is ordinary, non-OTR text (possibly whitespace-tagged).
	FramePlaintext FrameKind = iota
	// FrameQuery is a "?OTRv...?" query message.
	FrameQuery
	// FrameError is a "?OTR Error:..." message.
	FrameError
	// FrameFragment is one piece of a fragmented encoded message.
	FrameFragment
	// FrameEncoded is a complete "?OTR:....." base64 encoded message.
	FrameEncoded
)

// TextFrame is the result of classifying one line of inbound text.
type TextFrame struct {
	Kind FrameKind

	// FramePlaintext
	Text     string
	Versions []int // whitespace-tagged versions advertised, if any

	// FrameQuery
	QueryVersions []int

	// FrameError
	ErrorText string

	// FrameFragment
	Fragment FragmentHeader

	// FrameEncoded
	Encoded []byte // decoded binary payload
}

// FragmentHeader is the common shape of a "?OTR[,|]...,k,n,piece," header,
// independent of version. Identifier is 0 for v2 (no identifier field).
type FragmentHeader struct {
	Version    int
	Identifier uint32
	Sender     uint32
	Receiver   uint32
	K, N       int
	Piece      string
}

// ClassifyText inspects a single line of inbound text and determines
// which OTR text framing, if any, applies.
func ClassifyText(line string) (*TextFrame, error) {
	switch {
	case strings.HasPrefix(line, "?OTR Error:"):
		return &TextFrame{Kind: FrameError, ErrorText: strings.TrimPrefix(line, "?OTR Error:")}, nil
	case strings.HasPrefix(line, "?OTR:"):
		body := strings.TrimSuffix(strings.TrimPrefix(line, "?OTR:"), ".")
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, ErrMalformed
		}
		return &TextFrame{Kind: FrameEncoded, Encoded: raw}, nil
	case strings.HasPrefix(line, "?OTR?"), strings.HasPrefix(line, "?OTRv"),
		strings.HasPrefix(line, "?OTR,"), strings.HasPrefix(line, "?OTR|"):
		return classifyQueryOrFragment(line)
	default:
		return classifyPlaintext(line), nil
	}
}

func classifyPlaintext(line string) *TextFrame {
	f := &TextFrame{Kind: FramePlaintext, Text: line}
	idx := strings.Index(line, WhitespaceBase)
	if idx < 0 {
		return f
	}
	rest := line[idx+len(WhitespaceBase):]
	f.Text = line[:idx]
	var versions []int
	for len(rest) >= 8 {
		switch rest[:8] {
		case WhitespaceTagV2:
			versions = append(versions, 2)
		case WhitespaceTagV3:
			versions = append(versions, 3)
		case WhitespaceTagV4:
			versions = append(versions, 4)
		default:
			rest = rest[8:]
			continue
		}
		rest = rest[8:]
	}
	sort.Ints(versions)
	f.Versions = versions
	return f
}

// classifyQueryOrFragment distinguishes "?OTRv23?" query tags from
// "?OTR,k,n,piece," / "?OTR|s|r,k,n,piece," / "?OTR|id|s|r,k,n,piece,"
// fragment headers, both of which begin with "?OTR".
func classifyQueryOrFragment(line string) (*TextFrame, error) {
	if strings.HasPrefix(line, "?OTR?") {
		// Lone v1 query: unsupported, report as a query with no versions.
		return &TextFrame{Kind: FrameQuery, QueryVersions: nil}, nil
	}
	if strings.HasPrefix(line, "?OTRv") {
		rest := line[len("?OTRv"):]
		qEnd := strings.Index(rest, "?")
		if qEnd < 0 {
			return nil, ErrMalformed
		}
		digits := rest[:qEnd]
		var versions []int
		for _, c := range digits {
			if c < '0' || c > '9' {
				return nil, ErrMalformed
			}
			versions = append(versions, int(c-'0'))
		}
		return &TextFrame{Kind: FrameQuery, QueryVersions: versions}, nil
	}
	return parseFragmentHeader(line)
}

// parseFragmentHeader parses the three fragment header shapes from
// spec.md §3/§6. The body after the header (up to but excluding the
// trailing comma) is returned verbatim in Piece.
func parseFragmentHeader(line string) (*TextFrame, error) {
	if !strings.HasPrefix(line, "?OTR") {
		return nil, ErrMalformed
	}
	rest := line[len("?OTR"):]
	h := FragmentHeader{}
	switch {
	case strings.HasPrefix(rest, "|"):
		// v3: |sender|receiver,k,n,piece,
		// v4: |identifier|sender|receiver,k,n,piece,
		parts := strings.SplitN(rest[1:], ",", 4)
		if len(parts) != 4 {
			return nil, ErrMalformed
		}
		idParts := strings.Split(parts[0], "|")
		switch len(idParts) {
		case 2:
			h.Version = 3
			s, err1 := parseHexU32(idParts[0])
			r, err2 := parseHexU32(idParts[1])
			if err1 != nil || err2 != nil {
				return nil, ErrMalformed
			}
			h.Sender, h.Receiver = s, r
		case 3:
			h.Version = 4
			id, err0 := parseHexU32(idParts[0])
			s, err1 := parseHexU32(idParts[1])
			r, err2 := parseHexU32(idParts[2])
			if err0 != nil || err1 != nil || err2 != nil {
				return nil, ErrMalformed
			}
			h.Identifier, h.Sender, h.Receiver = id, s, r
		default:
			return nil, ErrMalformed
		}
		k, errK := strconv.Atoi(parts[1])
		n, errN := strconv.Atoi(parts[2])
		if errK != nil || errN != nil {
			return nil, ErrMalformed
		}
		h.K, h.N = k, n
		h.Piece = strings.TrimSuffix(parts[3], ",")
		return &TextFrame{Kind: FrameFragment, Fragment: h}, nil
	case strings.HasPrefix(rest, ","):
		// v2: ,k,n,piece,
		parts := strings.SplitN(rest[1:], ",", 3)
		if len(parts) != 3 {
			return nil, ErrMalformed
		}
		h.Version = 2
		k, errK := strconv.Atoi(parts[0])
		n, errN := strconv.Atoi(parts[1])
		if errK != nil || errN != nil {
			return nil, ErrMalformed
		}
		h.K, h.N = k, n
		h.Piece = strings.TrimSuffix(parts[2], ",")
		return &TextFrame{Kind: FrameFragment, Fragment: h}, nil
	default:
		return nil, ErrMalformed
	}
}

func parseHexU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// EncodeQuery renders the query tag advertising the given versions, e.g.
// "?OTRv23?" for versions {2,3}.
func EncodeQuery(versions []int) string {
	var b strings.Builder
	b.WriteString("?OTRv")
	for _, v := range versions {
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteString("?")
	return b.String()
}

// EncodeWhitespaceTag appends the base tag and the requested per-version
// tags to plaintext, per the text framing table in spec.md §6.
func EncodeWhitespaceTag(plaintext string, versions []int) string {
	var b strings.Builder
	b.WriteString(plaintext)
	b.WriteString(WhitespaceBase)
	for _, v := range versions {
		switch v {
		case 2:
			b.WriteString(WhitespaceTagV2)
		case 3:
			b.WriteString(WhitespaceTagV3)
		case 4:
			b.WriteString(WhitespaceTagV4)
		}
	}
	return b.String()
}

// EncodeError renders the error framing for text.
func EncodeError(text string) string {
	return "?OTR Error:" + text
}

// EncodeEncoded base64-wraps a binary encoded message for text transport.
func EncodeEncoded(raw []byte) string {
	return "?OTR:" + base64.StdEncoding.EncodeToString(raw) + "."
}
