package utils

import (
	"math/rand"
	"strings"
	"unicode"
)

// CalculateLogicalName derives a normalized, collision-resistant key from a
// display game name. Clients address games by this key, so it must be a pure
// function of the name: lower-cased, everything except ascii letters, digits
// and underscores stripped, and digit runs spelled as lowercase roman
// numerals so "Final Fantasy 7" and "Final Fantasy VII" collapse to the same
// key.
func CalculateLogicalName(gameName string) string {
	var b strings.Builder
	var digits strings.Builder

	flushDigits := func() {
		if digits.Len() == 0 {
			return
		}
		b.WriteString(romanize(digits.String()))
		digits.Reset()
	}

	for _, r := range strings.ToLower(gameName) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '_' || (r >= 'a' && r <= 'z'):
			flushDigits()
			b.WriteRune(r)
		default:
			// Everything else (spaces, punctuation, non-ascii) is dropped.
			flushDigits()
		}
	}
	flushDigits()
	return b.String()
}

var romanDigits = [3][10]string{
	{"", "i", "ii", "iii", "iv", "v", "vi", "vii", "viii", "ix"},
	{"", "x", "xx", "xxx", "xl", "l", "lx", "lxx", "lxxx", "xc"},
	{"", "c", "cc", "ccc", "cd", "d", "dc", "dcc", "dccc", "cm"},
}

// romanize converts a run of digits to lowercase roman numerals. Runs that
// fall outside 1-999 (zero, or years like "2030") are kept as-is.
func romanize(digits string) string {
	if len(digits) > 3 {
		return digits
	}
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return digits
	}
	return romanDigits[2][n/100%10] + romanDigits[1][n/10%10] + romanDigits[0][n%10]
}

// RandomIntInRange returns a uniform random integer in [min, max] inclusive.
func RandomIntInRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + rand.Intn(max-min+1)
}

// IsPrintableName reports whether a user-supplied name contains only
// printable characters and at least one non-space.
func IsPrintableName(name string) bool {
	hasVisible := false
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
		if !unicode.IsSpace(r) {
			hasVisible = true
		}
	}
	return hasVisible
}
