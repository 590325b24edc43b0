package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/app"
	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/hash/sha256"
	"github.com/JakeFAU/docmirror/internal/storage/local"
	"github.com/JakeFAU/docmirror/internal/store"
)

// errVerifyFailed marks a verify run that found discrepancies.
var errVerifyFailed = errors.New("mirror does not match snapshot")

func newVerifyCmd() *cobra.Command {
	var checkHash bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every snapshot entry has a matching local file",
		Long: `Checks every entry of the snapshot: the local file must exist and match
the recorded content length. With --hash the SHA-256 of every file is
recomputed. Exits non-zero when anything does not match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerifyCommand(cmd, checkHash)
		},
	}
	cmd.Flags().BoolVar(&checkHash, "hash", false, "also recompute SHA-256 digests")
	return cmd
}

func runVerifyCommand(cmd *cobra.Command, checkHash bool) error {
	env, err := environmentFrom(cmd.Context())
	if err != nil {
		return err
	}
	snapshots, err := store.New(env.cfg.MetadataPath(), env.logger)
	if err != nil {
		return err
	}
	snap, err := snapshots.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	files, err := local.New(local.Config{BaseDir: env.cfg.Storage.DataDir})
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	var hasher crawler.Hasher
	if checkHash {
		hasher = sha256.New()
	}

	found, err := app.Verify(cmd.Context(), snap, files, hasher)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, d := range found {
		env.logger.Warn("discrepancy",
			zap.String("entry_key", d.EntryKey),
			zap.String("local_path", d.LocalPath),
			zap.String("problem", d.Problem),
			zap.String("detail", d.Detail),
		)
		fmt.Fprintf(out, "%s\t%s\t%s\n", d.Problem, d.LocalPath, d.Detail)
	}
	fmt.Fprintf(out, "%d of %d entries verified\n", len(snap.Documents)-len(found), len(snap.Documents))
	if len(found) > 0 {
		return fmt.Errorf("%w: %d discrepancies", errVerifyFailed, len(found))
	}
	return nil
}
