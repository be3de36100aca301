package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remembrance-run/remembrance-core/internal/stats"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show library statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit JSON instead of text")
}

func runStats(cmd *cobra.Command, args []string) error {
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

	sum, err := stats.Collect(st)
	if err != nil {
		return err
	}

	if statsJSON {
		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(sum.Render())
	return nil
}
