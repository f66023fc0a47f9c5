package models

import (
	"fmt"
	"net/url"

	"github.com/dickdavis/token-authority-sub001/errors"
)

// ResourceSet is an ordered set of RFC 8707 resource indicator URIs.
type ResourceSet struct {
	uris []string
}

// ParseResources validates raw resource indicators. Each must be an absolute
// http(s) URI with a host and no fragment. Duplicates collapse to their first
// occurrence; comparison is by exact string match, no normalization.
func ParseResources(raw []string) (ResourceSet, error) {
	out := ResourceSet{uris: make([]string, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if err := validateResourceURI(r); err != nil {
			return ResourceSet{}, err
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out.uris = append(out.uris, r)
	}
	return out, nil
}

func validateResourceURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty resource indicator", errors.ErrInvalidTarget)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed resource indicator %q", errors.ErrInvalidTarget, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: resource indicator %q must use http or https", errors.ErrInvalidTarget, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: resource indicator %q has no host", errors.ErrInvalidTarget, raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%w: resource indicator %q must not contain a fragment", errors.ErrInvalidTarget, raw)
	}
	return nil
}

// IsEmpty reports whether the set has no URIs.
func (r ResourceSet) IsEmpty() bool { return len(r.uris) == 0 }

// Len returns the number of distinct URIs.
func (r ResourceSet) Len() int { return len(r.uris) }

// URIs returns the indicators in their original order.
func (r ResourceSet) URIs() []string {
	out := make([]string, len(r.uris))
	copy(out, r.uris)
	return out
}

// Contains reports set membership by exact string match.
func (r ResourceSet) Contains(uri string) bool {
	for _, u := range r.uris {
		if u == uri {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every URI of r is a member of other.
func (r ResourceSet) SubsetOf(other ResourceSet) bool {
	for _, u := range r.uris {
		if !other.Contains(u) {
			return false
		}
	}
	return true
}
