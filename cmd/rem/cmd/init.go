package cmd

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/remembrance-run/remembrance-core/internal/config"
	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/seed"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

var initNonInteractive bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the remembrance data root",
	Long: `Create the data root, write the default configuration, open the
pattern store, and seed the starter library.

The one-time community sharing question is asked interactively; pass
--non-interactive to keep sharing disabled.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "skip prompts, use defaults")
}

func runInit(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	if !initNonInteractive && term.IsTerminal(int(os.Stdin.Fd())) {
		consent := cfg.Community.ShareEnabled
		prompt := &survey.Confirm{
			Message: "Share high-coherency patterns with the community?",
			Default: consent,
		}
		if err := survey.AskOne(prompt, &consent); err != nil {
			return fmt.Errorf("init canceled: %w", err)
		}
		cfg.Community.ShareEnabled = consent
	}

	if err := config.Save(root, cfg); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", config.PathIn(root))

	st, err := store.Open(root, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Seed.Auto {
		eval, err := coherency.NewEvaluator(
			cfg.Coherency.Weights,
			coherency.NewCovenant(cfg.Covenant.Strict),
			nil,
			logger,
		)
		if err != nil {
			return err
		}
		result, err := seed.Apply(cmd.Context(), st, eval, logger)
		if err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}
		fmt.Printf("Seeded %d starter patterns (%d already present, %d rejected)\n",
			result.Seeded, result.Skipped, result.Rejected)
	}

	logger.Info("node initialized", zap.String("root", root))
	fmt.Printf("Remembrance node ready at %s\n", root)
	return nil
}
