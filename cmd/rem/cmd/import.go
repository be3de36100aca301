package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remembrance-run/remembrance-core/internal/portable"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import patterns from a portable JSON bundle",
	Long: `Import folds a bundle into the local store under the merge rules;
importing the same bundle twice changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, root, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(root, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	bundle, err := portable.ReadFile(args[0])
	if err != nil {
		return err
	}
	report, err := portable.Import(st, bundle)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d patterns (%d merged, %d rejected)\n",
		report.Imported, report.Merged, report.Rejected)
	return nil
}
