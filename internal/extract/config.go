package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Config controls how pages of the documents site are interpreted.
type Config struct {
	// DocumentsPageURL identifies the listing page. Links back to it that
	// carry a query string are returned as follow links.
	DocumentsPageURL string

	TabSelector         string
	HeadingSelector     string
	DescriptionSelector string

	DocumentExtensions    []string
	NonDocumentExtensions []string
	// RepositorySegments are path segments (for example "fileadmin") under
	// which extension-less links are still treated as documents.
	RepositorySegments []string

	// ExcludedKeywords exclude a tab whose label contains any of them.
	ExcludedKeywords []string
	// ExcludedTabIDs exclude a tab by its own id or its pane id.
	ExcludedTabIDs []string
	// AnnouncementMarker excludes everything below a heading starting with it.
	AnnouncementMarker string
	// ExcludedURLKeywords drop any link whose URL contains one of them.
	ExcludedURLKeywords []string

	DefaultCategory string

	MinDescriptionRunes int
	MaxDescriptionRunes int
}

// DefaultConfig returns the settings used for the university documents page.
func DefaultConfig() Config {
	return Config{
		TabSelector:         `[role="tab"], .nav-tabs a, .nav-tabs button`,
		HeadingSelector:     "h2, h3, h4, h5, h6",
		DescriptionSelector: ".description, .download-description, .ce-uploads-description",
		DocumentExtensions: []string{
			"pdf", "doc", "docx", "dotx", "docm", "xls", "xlsx", "xlsm",
			"ppt", "pptx", "pptm", "odt", "ods", "odp", "rtf", "msg",
			"zip", "rar", "7z", "txt", "csv", "png", "jpg", "jpeg", "gif",
			"eps", "tif", "tiff",
		},
		NonDocumentExtensions: []string{"html", "htm", "php", "asp", "aspx", "jsp", "js", "css"},
		RepositorySegments:    []string{"fileadmin"},
		ExcludedKeywords:      []string{"amtliche bekanntmachungen", "amtliche"},
		ExcludedTabIDs:        []string{"amtliche-bekanntmachungen"},
		AnnouncementMarker:    "amtliche",
		ExcludedURLKeywords:   []string{"amtliche"},
		DefaultCategory:       "Dokumente",
		MinDescriptionRunes:   3,
		MaxDescriptionRunes:   500,
	}
}

// Validate checks selectors and bounds.
func (c Config) Validate() error {
	for name, sel := range map[string]string{
		"tab selector":         c.TabSelector,
		"heading selector":     c.HeadingSelector,
		"description selector": c.DescriptionSelector,
	} {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("parse %s %q: %w", name, sel, err)
		}
	}
	if len(c.DocumentExtensions) == 0 {
		return errors.New("at least one document extension is required")
	}
	if strings.TrimSpace(c.DefaultCategory) == "" {
		return errors.New("default category is required")
	}
	if c.MinDescriptionRunes < 0 || c.MaxDescriptionRunes < c.MinDescriptionRunes {
		return fmt.Errorf("invalid description bounds %d..%d", c.MinDescriptionRunes, c.MaxDescriptionRunes)
	}
	return nil
}

func extensionSet(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
