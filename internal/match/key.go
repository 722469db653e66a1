package match

import (
	"strings"
)

// Normalize canonicalizes an address fragment: uppercase, non-alphanumerics
// stripped (whitespace excepted), runs of whitespace collapsed to one space.
// "123  Main St." and "123 MAIN ST" normalize identically.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// PropertyKey derives the stable identity of a property from its street
// address and postal code. The same physical listing produces the same key
// across snapshot reloads, spreadsheet feeds, and MLS refreshes, which is
// what match dedup and price-drop detection hang off.
func PropertyKey(street, zip string) string {
	return Normalize(street) + "|" + Normalize(zip)
}
