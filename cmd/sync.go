package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync of the mirror",
		Long: `Crawls the documents page, downloads new and changed documents, removes
entries whose links disappeared and replaces the snapshot. Configured sinks
(report, git, GCS, Postgres, Pub/Sub, Pushgateway) run after the snapshot
is saved. The command fails when a download failed or a crawled document
is missing from the snapshot.`,
		Args: cobra.NoArgs,
		RunE: runSyncCommand,
	}
}

func runSyncCommand(cmd *cobra.Command, _ []string) error {
	env, err := environmentFrom(cmd.Context())
	if err != nil {
		return err
	}
	p, err := buildPipeline(cmd.Context(), env.cfg, env.logger, true)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer p.Close()

	summary, err := p.runner.Run(cmd.Context())
	if summary.RunID != "" {
		fmt.Fprintf(cmd.OutOrStdout(),
			"run %s: %d documents, %d new, %d updated, %d unchanged, %d failed, %d removed\n",
			summary.RunID, summary.Documents, summary.New, summary.Updated, summary.Unchanged,
			len(summary.Failures), summary.Removed())
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
