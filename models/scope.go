package models

import (
	"fmt"
	"strings"

	"github.com/dickdavis/token-authority-sub001/errors"
)

// ScopeSet is an ordered set of OAuth scope tokens. Order is preserved for
// string round-trips; membership and subset checks use set semantics.
type ScopeSet struct {
	tokens []string
}

// ParseScopes parses a space-delimited scope string per RFC 6749 section 3.3.
// Duplicate tokens collapse to their first occurrence. Tokens containing
// characters outside the scope-token character class are rejected.
func ParseScopes(s string) (ScopeSet, error) {
	fields := strings.Fields(s)
	out := ScopeSet{tokens: make([]string, 0, len(fields))}
	seen := make(map[string]struct{}, len(fields))
	for _, tok := range fields {
		if !validScopeToken(tok) {
			return ScopeSet{}, fmt.Errorf("%w: malformed scope token %q", errors.ErrInvalidScope, tok)
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out.tokens = append(out.tokens, tok)
	}
	return out, nil
}

// NewScopeSet builds a ScopeSet from individual tokens, validating each.
func NewScopeSet(tokens ...string) (ScopeSet, error) {
	return ParseScopes(strings.Join(tokens, " "))
}

// validScopeToken reports whether tok matches the RFC 6749 scope-token
// character class: %x21 / %x23-5B / %x5D-7E (printable ASCII minus space,
// double quote, and backslash).
func validScopeToken(tok string) bool {
	if tok == "" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the set has no tokens.
func (s ScopeSet) IsEmpty() bool { return len(s.tokens) == 0 }

// Len returns the number of distinct tokens.
func (s ScopeSet) Len() int { return len(s.tokens) }

// Tokens returns the tokens in their original order.
func (s ScopeSet) Tokens() []string {
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// Contains reports set membership.
func (s ScopeSet) Contains(tok string) bool {
	for _, t := range s.tokens {
		if t == tok {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every token of s is a member of other.
func (s ScopeSet) SubsetOf(other ScopeSet) bool {
	for _, t := range s.tokens {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// String serializes the set back to a space-delimited scope string.
func (s ScopeSet) String() string { return strings.Join(s.tokens, " ") }
