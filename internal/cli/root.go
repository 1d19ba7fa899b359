// Package cli implements the compute command-line interface.
package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/workforce-ai/compute/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute points ledger for paid AI features",
	Long: `compute tracks the points balance that pays for AI features
(writing, slides, papers, image and video generation, speech).

Run 'compute serve' for the HTTP API used by UI panels, or use the
one-shot commands to inspect and adjust an account from a terminal.
Configuration is read from ~/.compute/config.toml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default ~/.compute/config.toml)")
	pf.String("data-dir", "", "Directory holding compute.db (overrides [storage].data_dir)")
	pf.StringP("user", "u", "", "Account identity (default [ledger].default_identity)")
	pf.Bool("ephemeral", false, "Keep accounts in memory only")
	pf.Bool("json", false, "Print results as JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the config file and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (daemon.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = daemon.DefaultConfigPath()
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return daemon.Config{}, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	return cfg, nil
}

// identity returns --user or the configured default identity.
func identity(cmd *cobra.Command, cfg daemon.Config) string {
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		return u
	}
	return cfg.Ledger.DefaultIdentity
}

// newLogger builds the process logger from [log].
func newLogger(cfg daemon.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
