// Package cmd implements the rem node commands: init, run, stats,
// export, import, remote, version.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/config"
	"github.com/remembrance-run/remembrance-core/internal/logging"
)

var (
	flagVerbose bool
	flagRoot    string
)

var rootCmd = &cobra.Command{
	Use:   "rem",
	Short: "Remembrance Oracle — a local-first library of proven code patterns",
	Long: `rem manages a remembrance node: a local-first, self-managing library
of proven code patterns with coherency scoring, lifecycle healing, and
peer federation.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "data root directory (default ~/.remembrance)")
}

// newLogger builds the process logger from the global flags.
func newLogger() (*zap.Logger, error) {
	return logging.New(flagVerbose)
}

// resolveRoot returns the data root, preferring --root over the config
// default.
func resolveRoot() (string, error) {
	if flagRoot != "" {
		return flagRoot, nil
	}
	cfg := config.Default()
	root, err := cfg.RootDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve data root: %w", err)
	}
	return root, nil
}

// loadConfig reads the node config from the resolved data root.
func loadConfig() (*config.Config, string, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", err
	}
	return cfg, root, nil
}
