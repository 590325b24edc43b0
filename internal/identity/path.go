package identity

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	// DocumentsDir is the root of the local document tree.
	DocumentsDir = "documents"
	// DefaultTopDir replaces a top category that sanitises to nothing.
	DefaultTopDir = "Allgemein"

	genericExtension = ".bin"
	fallbackStem     = "document"
	maxStemRunes     = 200
	reservedChars    = `/\:*?"<>|`
)

// SanitizePathSegment turns value into a single safe path segment. Control
// characters are dropped, separators and reserved characters become "_",
// whitespace is collapsed and trailing dots and spaces are trimmed. An empty
// result yields fallback.
func SanitizePathSegment(value, fallback string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(value) {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r), r == utf8.RuneError:
			continue
		case strings.ContainsRune(reservedChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.TrimRight(out, ". ")
	if out == "" {
		return fallback
	}
	return out
}

// GuessFilename prefers the last path component of rawURL and falls back to
// the title plus a generic extension.
func GuessFilename(rawURL, title string) string {
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && !strings.HasSuffix(u.Path, "/") {
		if last := path.Base(u.Path); last != "." && last != "/" {
			if name := SanitizePathSegment(last, ""); name != "" {
				return capStem(name)
			}
		}
	}
	name := SanitizePathSegment(title, fallbackStem)
	return capStem(name + genericExtension)
}

func capStem(name string) string {
	stem, ext := splitExt(name)
	if utf8.RuneCountInString(stem) <= maxStemRunes {
		return name
	}
	runes := []rune(stem)
	stem = strings.TrimRight(string(runes[:maxStemRunes]), ". ")
	if stem == "" {
		stem = fallbackStem
	}
	return stem + ext
}

// splitExt treats only short, space-free suffixes as extensions.
func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || len(ext) > 10 || strings.ContainsAny(ext, " ") {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// PathSet tracks claimed local paths. Comparison ignores case so the tree
// stays unique on case-insensitive filesystems.
type PathSet struct {
	folder cases.Caser
	used   map[string]string
}

// NewPathSet returns a set pre-seeded with paths.
func NewPathSet(paths ...string) *PathSet {
	s := &PathSet{folder: cases.Fold(), used: make(map[string]string)}
	for _, p := range paths {
		s.Claim(p)
	}
	return s
}

// Has reports whether p, or a case variant of it, is already claimed.
func (s *PathSet) Has(p string) bool {
	_, ok := s.used[s.key(p)]
	return ok
}

// Claim records p. It returns false if p was already claimed.
func (s *PathSet) Claim(p string) bool {
	k := s.key(p)
	if _, ok := s.used[k]; ok {
		return false
	}
	s.used[k] = p
	return true
}

// Len returns the number of claimed paths.
func (s *PathSet) Len() int {
	return len(s.used)
}

func (s *PathSet) key(p string) string {
	return s.folder.String(norm.NFC.String(p))
}

// BuildLocalPath composes documents/<top>/[<sub>/]<filename> for a document,
// appending _2, _3, ... before the extension until the path is unclaimed.
// The chosen path and filename are returned and recorded in used.
func BuildLocalPath(rawURL, title, categoryTop, categorySub string, used *PathSet) (string, string) {
	dir := path.Join(DocumentsDir, SanitizePathSegment(categoryTop, DefaultTopDir))
	if sub := SanitizePathSegment(categorySub, ""); sub != "" {
		dir = path.Join(dir, sub)
	}
	filename := GuessFilename(rawURL, title)
	candidate := path.Join(dir, filename)
	if used == nil {
		return candidate, filename
	}
	stem, ext := splitExt(filename)
	for n := 2; !used.Claim(candidate); n++ {
		filename = stem + "_" + strconv.Itoa(n) + ext
		candidate = path.Join(dir, filename)
	}
	return candidate, filename
}
