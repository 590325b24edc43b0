package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docmirror/internal/metrics"
	"github.com/JakeFAU/docmirror/internal/server"
	"github.com/JakeFAU/docmirror/internal/store"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP view of the mirror",
		Long: `Serves the snapshot (/api/documents, /api/categories), the downloaded
files (/data/documents/...), health probes and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := environmentFrom(cmd.Context())
			if err != nil {
				return err
			}
			if port <= 0 {
				port = env.cfg.Server.Port
			}
			snapshots, err := store.New(env.cfg.MetadataPath(), env.logger)
			if err != nil {
				return err
			}
			metrics.Init()
			srv, err := server.New(server.Options{
				Snapshots: snapshots,
				DataDir:   env.cfg.Storage.DataDir,
				Logger:    env.logger,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context(), fmt.Sprintf(":%d", port))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (defaults to server.port)")
	return cmd
}
