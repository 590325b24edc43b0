package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/docmirror/internal/app"
	"github.com/JakeFAU/docmirror/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current snapshot: size, age and documents per category",
		Args:  cobra.NoArgs,
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	env, err := environmentFrom(cmd.Context())
	if err != nil {
		return err
	}
	snapshots, err := store.New(env.cfg.MetadataPath(), env.logger)
	if err != nil {
		return err
	}
	snap, err := snapshots.Read(cmd.Context())
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(cmd.OutOrStdout(), "no snapshot at %s yet; run `docmirror sync` first\n", snapshots.Path())
		return nil
	}
	if err != nil {
		return err
	}

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	md.H2("Mirror status")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Snapshot", snapshots.Path()},
			{"Source", snap.Source},
			{"Updated", snap.UpdatedAt.Format(time.RFC3339)},
			{"Documents", strconv.Itoa(len(snap.Documents))},
		},
	})
	md.PlainText("")
	rows := [][]string{}
	for _, c := range app.CountCategories(snap.Documents) {
		rows = append(rows, []string{c.Category, strconv.Itoa(c.Count)})
	}
	if len(rows) > 0 {
		md.Table(markdown.TableSet{Header: []string{"Category", "Documents"}, Rows: rows})
	}
	if err := md.Build(); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
