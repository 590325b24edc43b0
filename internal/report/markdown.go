// Package report renders the outcome of a sync run as Markdown.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/docmirror/internal/app"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Write renders s as Markdown to w.
func Write(w io.Writer, s app.Summary) error {
	return NewMarkdownWriter(w).Write(s)
}

// MarkdownWriter writes run summaries in Markdown format.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to w.
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: w}
}

// Write renders s.
func (w *MarkdownWriter) Write(s app.Summary) error {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeCounts(md, s)
	w.writeCategories(md, s)
	w.writeFailures(md, s)
	w.writeMissing(md, s)
	w.writeRemovals(md, s)

	if err := md.Build(); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	return nil
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s app.Summary) {
	md.H1("Document Mirror Sync Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + s.RunID + "`"},
			{"Source", s.Source},
			{"Snapshot", "`" + s.SnapshotPath + "`"},
			{"Started", s.StartedAt.Format(timeLayout)},
			{"Finished", s.FinishedAt.Format(timeLayout)},
			{"Duration", s.Duration().String()},
			{"Status", statusText(s)},
		},
	})
	md.PlainText("")

	switch {
	case len(s.Failures) > 0:
		md.Warningf("%d document(s) could not be downloaded. They are retried on the next run.", len(s.Failures))
	case len(s.Missing) > 0:
		md.Warningf("%d crawled document(s) are missing from the snapshot.", len(s.Missing))
	case s.New+s.Updated+s.Removed() == 0:
		md.Tip("The mirror was already up to date.")
	default:
		md.Note("All documents were synchronised.")
	}
	md.PlainText("")
}

func statusText(s app.Summary) string {
	if s.OK() {
		return "✅ Complete"
	}
	return "⚠️ Incomplete"
}

func (w *MarkdownWriter) writeCounts(md *markdown.Markdown, s app.Summary) {
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Pages visited", strconv.Itoa(s.PagesVisited)},
			{"Pages failed", strconv.Itoa(s.PagesFailed)},
			{"Documents found", strconv.Itoa(s.Found)},
			{"New", strconv.Itoa(s.New)},
			{"Updated", strconv.Itoa(s.Updated)},
			{"Unchanged", strconv.Itoa(s.Unchanged)},
			{"Failed", strconv.Itoa(len(s.Failures))},
			{"Removed", strconv.Itoa(s.Removed())},
			{"**In snapshot**", "**" + strconv.Itoa(s.Documents) + "**"},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeCategories(md *markdown.Markdown, s app.Summary) {
	md.H2("Categories")
	md.PlainText("")
	if len(s.Categories) == 0 {
		md.PlainText("No documents in the snapshot.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(s.Categories))
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Documents per category"),
		piechart.WithShowData(true),
	)
	for _, c := range s.Categories {
		name := c.Category
		if name == "" {
			name = "-"
		}
		rows = append(rows, []string{name, strconv.Itoa(c.Count)})
		chart.LabelAndIntValue(name, uint64(c.Count)) // #nosec G115 -- counts are never negative
	}
	md.Table(markdown.TableSet{Header: []string{"Category", "Documents"}, Rows: rows})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, s app.Summary) {
	if len(s.Failures) == 0 {
		return
	}
	md.H2("Failed Downloads")
	md.PlainText("")
	rows := make([][]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		reason := "-"
		if f.Err != nil {
			reason = truncate(f.Err.Error(), 80)
		}
		rows = append(rows, []string{f.Title, f.URL, reason})
	}
	md.Table(markdown.TableSet{Header: []string{"Title", "URL", "Error"}, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeMissing(md *markdown.Markdown, s app.Summary) {
	if len(s.Missing) == 0 {
		return
	}
	md.H2("Missing From Snapshot")
	md.PlainText("")
	items := make([]string, 0, len(s.Missing))
	for _, m := range s.Missing {
		items = append(items, fmt.Sprintf("`%s` %s (%s)", shortKey(m.EntryKey), m.Title, m.URL))
	}
	md.BulletList(items...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeRemovals(md *markdown.Markdown, s app.Summary) {
	if len(s.Removals) == 0 {
		return
	}
	md.H2("Removed Entries")
	md.PlainText("")
	rows := make([][]string, 0, len(s.Removals))
	for _, r := range s.Removals {
		path := r.LocalPath
		if path == "" {
			path = "-"
		}
		rows = append(rows, []string{r.Title, "`" + path + "`", string(r.Outcome)})
	}
	md.Table(markdown.TableSet{Header: []string{"Title", "Local path", "Outcome"}, Rows: rows})
	md.PlainText("")
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
