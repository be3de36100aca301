package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
	"github.com/remembrance-run/remembrance-core/internal/portable"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

var (
	exportLanguage     string
	exportTag          string
	exportMinCoherency float64
	exportLimit        int
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export patterns to a portable JSON bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportLanguage, "language", "", "only this language")
	exportCmd.Flags().StringVar(&exportTag, "tag", "", "only patterns carrying this tag")
	exportCmd.Flags().Float64Var(&exportMinCoherency, "min-coherency", 0, "coherency floor")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "cap the bundle size")
}

func runExport(cmd *cobra.Command, args []string) error {
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

	opts := portable.ExportOptions{
		Tag:          exportTag,
		MinCoherency: exportMinCoherency,
		Limit:        exportLimit,
	}
	if exportLanguage != "" {
		opts.Language = pattern.ParseLanguage(exportLanguage)
	}

	bundle, err := portable.Export(st, opts)
	if err != nil {
		return err
	}
	if err := portable.WriteFile(args[0], bundle); err != nil {
		return err
	}
	fmt.Printf("Exported %d patterns to %s\n", len(bundle.Patterns), args[0])
	return nil
}
