// Package crawler holds the domain types shared by the mirror (source
// documents, persisted entries, snapshots), the collaborator interfaces the
// sync engine depends on, and the breadth-first SiteCrawler that walks the
// documents page and its paginated variants.
package crawler
