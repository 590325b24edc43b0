// Package cmd defines and implements the CLI commands for the docmirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/config"
	"github.com/JakeFAU/docmirror/internal/logging"
	"github.com/JakeFAU/docmirror/internal/telemetry"
)

// environment is what every subcommand runs against.
type environment struct {
	cfg    config.Config
	logger *zap.Logger
	tracer *sdktrace.TracerProvider
}

type envKeyType struct{}

var envKey envKeyType

func environmentFrom(ctx context.Context) (*environment, error) {
	env, ok := ctx.Value(envKey).(*environment)
	if !ok || env == nil {
		return nil, errors.New("command environment not initialised")
	}
	return env, nil
}

// newRootCmd creates the root command with its persistent flags and every
// subcommand. Each call uses a fresh Viper so tests do not share state.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "docmirror",
		Short: "Mirror the documents of a university website",
		Long: `docmirror crawls a documents page, downloads every linked file that is
new or changed, removes files whose links disappeared and keeps a JSON
snapshot of the mirror. Run it from a scheduler; a run that loses documents
exits non-zero.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logger are built once here and handed to the subcommand
		// through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			tp, err := telemetry.InitTracerProvider(cmd.Context(), "docmirror", logger)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &environment{cfg: cfg, logger: logger, tracer: tp}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if env, err := environmentFrom(cmd.Context()); err == nil {
				if err := env.tracer.Shutdown(context.Background()); err != nil {
					env.logger.Warn("tracer shutdown failed", zap.Error(err))
				}
				_ = env.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML); environment variables use the DOCMIRROR_ prefix")
	flags.String("data-dir", "", "directory holding the documents tree, snapshot and report")
	flags.Bool("dev", false, "human-readable development logging")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	for key, flag := range map[string]string{
		"storage.data_dir":    "data-dir",
		"logging.development": "dev",
		"logging.level":       "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	cmd.AddCommand(
		newSyncCmd(),
		newPlanCmd(),
		newStatusCmd(),
		newVerifyCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point. Any command error is fatal, which gives
// the scheduler a non-zero exit status.
func Execute() {
	if logger, err := logging.New(false); err == nil {
		zap.ReplaceGlobals(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	exitOnError(zap.L(), err)
}

// exitOnError logs err at fatal level, which exits the process.
func exitOnError(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
