package cli

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tomorrow/api/internal/config"
	"tomorrow/api/internal/logging"
)

// RootOptions holds state shared by every subcommand.
type RootOptions struct {
	Config config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewRootCommand builds the tomorrow command tree. Without a subcommand it
// runs the HTTP server.
func NewRootCommand(cfg config.Config) *cobra.Command {
	opts := &RootOptions{Config: cfg}

	serve := NewServeCommand(opts)
	cmd := &cobra.Command{
		Use:           "tomorrow",
		Short:         "Tomorrow church community backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.Out = cmd.OutOrStdout()
			opts.Logger = logging.NewWithWriter(cmd.ErrOrStderr(), opts.Config.LogLevel, opts.Config.LogFormat)
		},
		RunE: serve.RunE,
	}

	cmd.PersistentFlags().StringVar(&opts.Config.DataFile, "data-file", cfg.DataFile, "local document file")
	cmd.PersistentFlags().StringVar(&opts.Config.RemoteDriver, "remote", cfg.RemoteDriver, "remote document store (github|git|s3|postgres|none)")
	cmd.PersistentFlags().StringVar(&opts.Config.LogLevel, "log-level", cfg.LogLevel, "log level")

	cmd.AddCommand(serve)
	cmd.AddCommand(NewDocCommand(opts))
	return cmd
}
