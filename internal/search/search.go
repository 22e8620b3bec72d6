// Package search implements the free-text district filter used by GET /home.
//
// A term matches a district when the district name or state contains the
// term, or starts with it, compared case-insensitively. The prefix test is
// subsumed by the substring test; both are kept so SQL and Go renditions
// issue the same predicate.
package search

import (
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Term is a normalized search term. The zero value means "no filter".
type Term struct {
	raw    string
	folded string
}

// NewTerm trims s and prepares it for matching.
func NewTerm(s string) Term {
	s = strings.TrimSpace(s)
	return Term{raw: s, folded: folder.String(s)}
}

// Empty reports whether the term applies no filtering.
func (t Term) Empty() bool {
	return t.raw == ""
}

// String returns the trimmed term.
func (t Term) String() string {
	return t.raw
}

// Match reports whether a district with the given name and state matches.
// An empty term matches everything.
func (t Term) Match(name, state string) bool {
	if t.Empty() {
		return true
	}
	n, s := folder.String(name), folder.String(state)
	return strings.Contains(n, t.folded) ||
		strings.Contains(s, t.folded) ||
		strings.HasPrefix(n, t.folded) ||
		strings.HasPrefix(s, t.folded)
}

// LikePatterns returns the substring and prefix LIKE patterns for the term,
// with LIKE metacharacters escaped using backslash.
func (t Term) LikePatterns() (contains, prefix string) {
	esc := escapeLike(t.raw)
	return "%" + esc + "%", esc + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
