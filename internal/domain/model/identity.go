package model

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIdentityLength bounds the username-like identity shared by every subsystem.
const MaxIdentityLength = 64

// ValidateIdentity reports whether id is a well-formed user identity.
func ValidateIdentity(id string) error {
	if strings.TrimSpace(id) == "" {
		return Invalid("identity", "is empty")
	}
	if utf8.RuneCountInString(id) > MaxIdentityLength {
		return Invalid("identity", "is too long")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return Invalid("identity", "contains whitespace")
	}
	return nil
}

// Pair is the canonical (sorted) participant pair of a direct conversation.
// Its Key is stable regardless of argument order.
type Pair struct {
	A string `json:"a" bson:"a"`
	B string `json:"b" bson:"b"`
}

// NewPair validates both identities and orders them.
func NewPair(x, y string) (Pair, error) {
	if err := ValidateIdentity(x); err != nil {
		return Pair{}, err
	}
	if err := ValidateIdentity(y); err != nil {
		return Pair{}, err
	}
	if x == y {
		return Pair{}, Invalid("participants", "must be two different users")
	}
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}, nil
}

// Key is the lookup key used for the atomic conversation upsert.
func (p Pair) Key() string { return p.A + ":" + p.B }

// Has reports whether id is one of the participants.
func (p Pair) Has(id string) bool { return id == p.A || id == p.B }

// Other returns the counterpart of me. It returns "" if me is not a participant.
func (p Pair) Other(me string) string {
	switch me {
	case p.A:
		return p.B
	case p.B:
		return p.A
	default:
		return ""
	}
}

// Members returns both identities in canonical order.
func (p Pair) Members() []string { return []string{p.A, p.B} }
