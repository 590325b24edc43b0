// Package extract parses the documents page into source documents. Each
// navigation tab contributes the top category, the nearest preceding heading
// inside its pane the sub category.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

var skippedSchemes = []string{"mailto:", "tel:", "javascript:", "vbscript:", "data:"}

// Extractor implements crawler.Extractor with goquery.
type Extractor struct {
	cfg         Config
	docsPage    *url.URL
	docExts     map[string]struct{}
	nonDocExts  map[string]struct{}
	excludedIDs map[string]struct{}
	logger      *zap.Logger
}

var _ crawler.Extractor = (*Extractor)(nil)

// New validates cfg and builds an Extractor.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("extract config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		cfg:         cfg,
		docExts:     extensionSet(cfg.DocumentExtensions),
		nonDocExts:  extensionSet(cfg.NonDocumentExtensions),
		excludedIDs: make(map[string]struct{}, len(cfg.ExcludedTabIDs)),
		logger:      logger.Named("extract"),
	}
	for _, id := range cfg.ExcludedTabIDs {
		if id = strings.TrimSpace(id); id != "" {
			e.excludedIDs[fold(id)] = struct{}{}
		}
	}
	if cfg.DocumentsPageURL != "" {
		u, err := url.Parse(cfg.DocumentsPageURL)
		if err != nil {
			return nil, fmt.Errorf("parse documents page url: %w", err)
		}
		e.docsPage = u
	}
	return e, nil
}

// pane is the content area behind one tab.
type pane struct {
	label    string
	id       string
	sel      *goquery.Selection
	excluded bool
}

// walkState carries the category context while a pane is walked in
// document order.
type walkState struct {
	top         string
	sub         string
	subExcluded bool
}

type collector struct {
	order []string
	docs  map[string]crawler.SourceDocument
}

func (c *collector) add(doc crawler.SourceDocument) {
	if _, seen := c.docs[doc.EntryKey]; !seen {
		c.order = append(c.order, doc.EntryKey)
	}
	c.docs[doc.EntryKey] = doc
}

// Extract parses page and returns its documents and follow links.
func (e *Extractor) Extract(page crawler.Page) (crawler.Extraction, error) {
	base, err := url.Parse(page.BaseURL())
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("parse html: %w", err)
	}
	docsPage := e.docsPage
	if docsPage == nil {
		docsPage = base
	}

	found := &collector{docs: make(map[string]crawler.SourceDocument)}
	for _, p := range e.panes(doc) {
		if p.excluded {
			e.logger.Debug("tab excluded", zap.String("tab", p.label), zap.String("pane_id", p.id))
			continue
		}
		e.walkPane(p, base, docsPage, found)
	}

	out := crawler.Extraction{
		Documents:  make([]crawler.SourceDocument, 0, len(found.order)),
		FollowURLs: e.followLinks(doc, base, docsPage),
	}
	for _, key := range found.order {
		out.Documents = append(out.Documents, found.docs[key])
	}
	return out, nil
}

func (e *Extractor) panes(doc *goquery.Document) []pane {
	tabs := doc.Find(e.cfg.TabSelector)
	if tabs.Length() == 0 {
		return []pane{e.wholePage(doc)}
	}

	var out []pane
	seen := make(map[string]struct{})
	tabs.Each(func(_ int, tab *goquery.Selection) {
		target := paneID(tab)
		if target == "" {
			return
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		content := doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			id, _ := s.Attr("id")
			return id == target
		}).First()
		if content.Length() == 0 {
			e.logger.Debug("tab without pane", zap.String("pane_id", target))
			return
		}
		label := collapse(tab.Text())
		if label == "" {
			label = e.cfg.DefaultCategory
		}
		tabID, _ := tab.Attr("id")
		out = append(out, pane{
			label:    label,
			id:       target,
			sel:      content,
			excluded: e.tabExcluded(label, tabID, target),
		})
	})
	if len(out) == 0 {
		e.logger.Warn("tabs found but no pane resolved; reading whole page", zap.Int("tabs", tabs.Length()))
		return []pane{e.wholePage(doc)}
	}
	return out
}

func (e *Extractor) wholePage(doc *goquery.Document) pane {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return pane{label: e.cfg.DefaultCategory, sel: root}
}

func paneID(tab *goquery.Selection) string {
	for _, attr := range []string{"aria-controls", "data-bs-target", "data-target", "href"} {
		v, ok := tab.Attr(attr)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if attr == "aria-controls" && v != "" {
			return v
		}
		if strings.HasPrefix(v, "#") && len(v) > 1 {
			return v[1:]
		}
	}
	return ""
}

func (e *Extractor) tabExcluded(label string, ids ...string) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := e.excludedIDs[fold(id)]; ok {
			return true
		}
	}
	return containsAnyFold(label, e.cfg.ExcludedKeywords)
}

func (e *Extractor) walkPane(p pane, base, docsPage *url.URL, found *collector) {
	state := walkState{top: p.label}
	p.sel.Find(e.cfg.HeadingSelector + ", a").Each(func(_ int, el *goquery.Selection) {
		if !el.Is("a") {
			text := collapse(el.Text())
			if text == "" {
				return
			}
			state.sub = text
			state.subExcluded = e.cfg.AnnouncementMarker != "" &&
				strings.HasPrefix(fold(text), fold(e.cfg.AnnouncementMarker))
			return
		}
		if state.subExcluded {
			return
		}
		target, ok := resolveLink(el, base)
		if !ok || crawler.SamePage(target, docsPage) {
			return
		}
		rawURL := target.String()
		if containsAnyFold(rawURL, e.cfg.ExcludedURLKeywords) || !e.isDocument(target) {
			return
		}
		title := linkTitle(el)
		if title == "" {
			title = identity.GuessFilename(rawURL, "")
		}
		found.add(crawler.SourceDocument{
			EntryKey:    identity.MakeEntryKey(rawURL, title, state.top, state.sub),
			URL:         rawURL,
			Title:       title,
			Description: e.description(el),
			CategoryTop: state.top,
			CategorySub: state.sub,
		})
	})
}

// followLinks collects links back to the documents page that add a query,
// such as pagination.
func (e *Extractor) followLinks(doc *goquery.Document, base, docsPage *url.URL) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		target, ok := resolveLink(a, base)
		if !ok || target.RawQuery == "" || !crawler.SamePage(target, docsPage) {
			return
		}
		s := target.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	})
	return out
}

func (e *Extractor) isDocument(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext != "" {
		if _, ok := e.nonDocExts[ext]; ok {
			return false
		}
		if _, ok := e.docExts[ext]; ok {
			return true
		}
	}
	lowerPath := strings.ToLower(u.Path)
	for _, seg := range e.cfg.RepositorySegments {
		seg = strings.Trim(strings.ToLower(seg), "/")
		if seg != "" && strings.Contains(lowerPath, "/"+seg+"/") {
			return true
		}
	}
	return false
}

// description tries the marker inside the list item, then a marker sibling
// right after the link, then the trailing text of the enclosing block.
func (e *Extractor) description(a *goquery.Selection) string {
	if li := a.Closest("li"); li.Length() > 0 {
		if text := collapse(li.Find(e.cfg.DescriptionSelector).First().Text()); text != "" {
			return text
		}
	}
	if next := a.Next(); next.Length() > 0 && next.Is(e.cfg.DescriptionSelector) {
		if text := collapse(next.Text()); text != "" {
			return text
		}
	}
	linkText := collapse(a.Text())
	if linkText == "" {
		return ""
	}
	block := a.Closest("p, li, dd, td, div")
	if block.Length() == 0 {
		return ""
	}
	blockText := collapse(block.Text())
	idx := strings.Index(blockText, linkText)
	if idx < 0 {
		return ""
	}
	trailing := strings.TrimLeft(blockText[idx+len(linkText):], " -–—:|,;")
	n := utf8.RuneCountInString(trailing)
	if n < e.cfg.MinDescriptionRunes || n > e.cfg.MaxDescriptionRunes {
		return ""
	}
	return trailing
}

func resolveLink(a *goquery.Selection, base *url.URL) (*url.URL, bool) {
	href, ok := a.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs, true
}

func linkTitle(a *goquery.Selection) string {
	if title, ok := a.Attr("title"); ok {
		if title = collapse(title); title != "" {
			return title
		}
	}
	return collapse(a.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func containsAnyFold(s string, needles []string) bool {
	haystack := fold(s)
	for _, n := range needles {
		if n = strings.TrimSpace(n); n != "" && strings.Contains(haystack, fold(n)) {
			return true
		}
	}
	return false
}
