package taxonomy

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// CleanName trims name and collapses inner whitespace.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NameKey is the case-insensitive identity of a name within a tenant and
// kind. Width variants and repeated asterisks in masked card numbers
// compare equal; nothing else is fuzzy.
func NameKey(name string) string {
	s := norm.NFKC.String(CleanName(name))
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	prevStar := false
	for _, r := range s {
		if r == '*' {
			if prevStar {
				continue
			}
			prevStar = true
		} else {
			prevStar = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
