package credential

import (
	"sort"
	"strings"
)

// ScopeSeparator joins individual scopes into the persisted "target" form.
const ScopeSeparator = " "

// ScopeSet is a case-insensitive set of OAuth2 scopes. Members are stored
// lower-cased; the zero value is not usable, construct with NewScopeSet or
// ParseTarget.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from individual scope strings. Scopes are
// lower-cased and trimmed; empty entries are dropped.
func NewScopeSet(scopes ...string) ScopeSet {
	s := make(ScopeSet, len(scopes))
	for _, sc := range scopes {
		sc = strings.ToLower(strings.TrimSpace(sc))
		if sc == "" {
			continue
		}
		s[sc] = struct{}{}
	}
	return s
}

// ParseTarget splits a space-joined target string into a set.
func ParseTarget(target string) ScopeSet {
	return NewScopeSet(strings.Split(target, ScopeSeparator)...)
}

// Contains reports whether scope is in the set, ignoring case.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// IsSubsetOf reports whether every scope in s is present in other. An empty
// set is a subset of everything.
func (s ScopeSet) IsSubsetOf(other ScopeSet) bool {
	for sc := range s {
		if _, ok := other[sc]; !ok {
			return false
		}
	}
	return true
}

// Intersects reports whether the two sets share at least one scope.
func (s ScopeSet) Intersects(other ScopeSet) bool {
	for sc := range s {
		if _, ok := other[sc]; ok {
			return true
		}
	}
	return false
}

// Union returns a new set containing the members of both sets.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	u := make(ScopeSet, len(s)+len(other))
	for sc := range s {
		u[sc] = struct{}{}
	}
	for sc := range other {
		u[sc] = struct{}{}
	}
	return u
}

// Without returns a new set holding the members of s not present in other.
func (s ScopeSet) Without(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s))
	for sc := range s {
		if _, ok := other[sc]; !ok {
			out[sc] = struct{}{}
		}
	}
	return out
}

// Slice returns the members sorted, for deterministic output.
func (s ScopeSet) Slice() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// Target returns the space-joined sorted form used in cache keys and the
// persisted target field.
func (s ScopeSet) Target() string {
	return strings.Join(s.Slice(), ScopeSeparator)
}
