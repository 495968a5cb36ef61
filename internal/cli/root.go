// Package cli provides the command-line interface for videobot.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"video-search-bot/internal/bootstrap"
	"video-search-bot/internal/config"
	"video-search-bot/internal/logging"
)

// CLI holds the loaded configuration and the wired application for subcommands.
type CLI struct {
	Config *config.Manager
	App    *bootstrap.App
	Log    zerolog.Logger

	out io.Writer
	in  io.Reader
}

type rootFlags struct {
	configFile string
	envFile    string
	logLevel   string
	verbose    bool
}

// Execute runs videobot and releases the application afterwards, also when
// the command fails.
func Execute(ctx context.Context, version string) error {
	cmd, c := newRootCmd(version)
	return run(ctx, cmd, c)
}

func run(ctx context.Context, cmd *cobra.Command, c *CLI) error {
	err := cmd.ExecuteContext(ctx)
	if closeErr := c.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// newRootCmd creates the root command and the CLI state its subcommands share.
func newRootCmd(version string) (*cobra.Command, *CLI) {
	c := &CLI{out: os.Stdout, in: os.Stdin}
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "videobot",
		Short:         "Search bilibili and download merged videos",
		Long:          `Search bilibili by keyword, pick a result and receive the downloaded video, or run the download API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.init(cmd, flags)
		},
	}
	rootCmd.SetOut(c.out)
	rootCmd.SetIn(c.in)

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default: user config dir or ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", ".env file with VIDEOBOT_* overrides")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "capture muxer output and log at debug level")

	rootCmd.AddCommand(
		newSearchCmd(c),
		newDownloadCmd(c),
		newDoctorCmd(c),
		newHistoryCmd(c),
		newServeCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "videobot %s\n", version)
			},
		},
	)
	return rootCmd, c
}

// init loads configuration, builds the logger and wires the application.
func (c *CLI) init(cmd *cobra.Command, flags *rootFlags) error {
	mgr, err := config.NewManager(config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
	if err != nil {
		return err
	}
	if err := mgr.Load(); err != nil {
		return err
	}
	cfg := mgr.Get()

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.verbose {
		cfg.Muxer.Verbose = true
		if flags.logLevel == "" {
			cfg.Logging.Level = "debug"
		}
	}

	c.Log = logging.NewFromConfigValues(cfg.Logging.Level, cfg.Logging.Format)
	c.Config = mgr
	if used := mgr.ConfigFileUsed(); used != "" {
		c.Log.Debug().Str("file", used).Msg("configuration loaded")
	}

	app, err := bootstrap.New(cmd.Context(), cfg, c.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	c.App = app
	cmd.SetContext(logging.WithContext(cmd.Context(), c.Log))
	return nil
}

// Close releases the application resources.
func (c *CLI) Close() error {
	if c.App == nil {
		return nil
	}
	err := c.App.Close()
	c.App = nil
	return err
}
