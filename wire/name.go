package wire

import (
	"strings"
)

// MaxNameLength is the maximum encoded length of a name, including length
// prefixes and the terminating zero octet.
//
// See https://tools.ietf.org/html/rfc1035#section-3.1.
const MaxNameLength = 255

// MaxLabelLength is the maximum length of a single label.
const MaxLabelLength = 63

// Label is a single, non-empty DNS label: a length-prefixed byte string on
// the wire. It may contain any byte, including a literal dot (as DNS-SD
// instance names can); Name.String writes such a dot unescaped.
type Label string

// Validate returns an error if l is not a legal label.
func (l Label) Validate() error {
	if len(l) == 0 {
		return ErrMalformedName
	}
	if len(l) > MaxLabelLength {
		return ErrMalformedName
	}
	return nil
}

// EqualFold returns true if l and other are equal under ASCII
// case-insensitive comparison, as required when comparing DNS names.
func (l Label) EqualFold(other Label) bool {
	return strings.EqualFold(string(l), string(other))
}

// Name is an ordered sequence of labels, read left-to-right as the DNS wire
// form would present them (most-specific label first). It does not carry a
// trailing root label; "local" is simply the last element of the slice for
// names rooted at ".local".
type Name []Label

// MustParseName parses a dot-separated textual name. It panics on error; it
// is intended for static names known at compile time (domain suffixes,
// well-known service prefixes), not for untrusted input.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseName parses a dot-separated textual name into its labels. A single
// trailing dot (fully-qualified form) is tolerated and stripped; embedded
// escaping of dots within a label (as used for DNS-SD instance names) is not
// handled here and is the responsibility of the dnssd package.
func ParseName(s string) (Name, error) {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ".")
	n := make(Name, len(parts))
	for i, p := range parts {
		l := Label(p)
		if err := l.Validate(); err != nil {
			return nil, err
		}
		n[i] = l
	}

	if n.EncodedLen() > MaxNameLength {
		return nil, ErrMalformedName
	}

	return n, nil
}

// EncodedLen returns the number of bytes this name occupies on the wire when
// written without any compression (one length octet per label plus the
// terminating zero octet).
func (n Name) EncodedLen() int {
	total := 1 // terminator
	for _, l := range n {
		total += 1 + len(l)
	}
	return total
}

// Equal returns true if n and other have the same labels, compared
// case-insensitively as required by DNS name comparison rules.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if !n[i].EqualFold(other[i]) {
			return false
		}
	}
	return true
}

// HasSuffix returns true if n ends with the labels of suffix.
func (n Name) HasSuffix(suffix Name) bool {
	if len(suffix) > len(n) {
		return false
	}
	offset := len(n) - len(suffix)
	return n[offset:].Equal(suffix)
}

// Join returns a new name with prefix's labels followed by n's labels. It
// does not mutate n.
func (n Name) Join(prefix Name) Name {
	out := make(Name, 0, len(prefix)+len(n))
	out = append(out, prefix...)
	out = append(out, n...)
	return out
}

// String returns the dotted textual form of n, with a trailing dot as is
// conventional for fully-qualified DNS names.
func (n Name) String() string {
	if len(n) == 0 {
		return "."
	}

	var b strings.Builder
	for _, l := range n {
		b.WriteString(string(l))
		b.WriteByte('.')
	}
	return b.String()
}

// key returns a canonical, case-folded representation of n suitable for use
// as a map key in the writer's compression dictionary.
func (n Name) key() string {
	return strings.ToLower(n.String())
}
