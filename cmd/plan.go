package cmd

import (
	"fmt"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/planner"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Crawl and show what a sync would do, without downloading",
		Long: `Crawls the documents page and classifies every document against the
snapshot (new, updated with reasons, unchanged). Known documents are probed
with HEAD requests; nothing is downloaded and nothing is written.`,
		Args: cobra.NoArgs,
		RunE: runPlanCommand,
	}
}

func runPlanCommand(cmd *cobra.Command, _ []string) error {
	env, err := environmentFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	p, err := buildPipeline(ctx, env.cfg, env.logger, false)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer p.Close()

	prior := p.snapshots.Load(ctx).Index()
	result, err := p.crawler.Crawl(ctx, env.cfg.Site.StartURL)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	counts := map[planner.Action]int{}
	var rows [][]string
	for _, doc := range result.Documents {
		var before *crawler.Entry
		if entry, known := prior[doc.EntryKey]; known {
			before = &entry
		}
		d := p.planner.Decide(ctx, doc, before)
		counts[d.Action]++
		if d.Action == planner.ActionUnchanged {
			continue
		}
		reasons := "-"
		if len(d.Reasons) > 0 {
			reasons = fmt.Sprint(d.Reasons)
		}
		rows = append(rows, []string{string(d.Action), doc.Title, doc.URL, reasons})
	}
	vanished := 0
	for key := range prior {
		if !result.Expected(key) {
			vanished++
		}
	}

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	md.H2("Sync plan")
	md.PlainTextf("%d pages, %d documents: %d new, %d updated, %d unchanged, %d to remove",
		result.PagesVisited, len(result.Documents),
		counts[planner.ActionNew], counts[planner.ActionUpdate], counts[planner.ActionUnchanged], vanished)
	if len(rows) > 0 {
		md.PlainText("")
		md.Table(markdown.TableSet{Header: []string{"Action", "Title", "URL", "Reasons"}, Rows: rows})
	}
	if err := md.Build(); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
