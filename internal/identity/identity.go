// Package identity derives stable entry keys for observed documents and the
// filesystem-safe relative paths their local copies live under.
package identity

import (
	"crypto/sha1" // #nosec G505 -- identity digest, not a security boundary
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const keySeparator = "\x1f"

// MakeEntryKey hashes the trimmed, NFC-normalised tuple into a 40 character
// hex key. Any change to any field yields a different key.
func MakeEntryKey(url, title, categoryTop, categorySub string) string {
	fields := []string{url, title, categoryTop, categorySub}
	for i, f := range fields {
		fields[i] = norm.NFC.String(strings.TrimSpace(f))
	}
	sum := sha1.Sum([]byte(strings.Join(fields, keySeparator))) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// CategoryPath joins top and sub with a slash, omitting an empty sub.
func CategoryPath(top, sub string) string {
	top = strings.TrimSpace(top)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return top
	}
	if top == "" {
		return sub
	}
	return top + "/" + sub
}
