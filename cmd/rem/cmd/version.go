package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version info, set by ldflags during release builds.
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show rem version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Println(Version)
			return nil
		}
		fmt.Printf("rem %s\n", Version)
		fmt.Printf("  commit:  %s\n", Commit)
		fmt.Printf("  built:   %s\n", BuildDate)
		fmt.Printf("  go:      %s\n", runtime.Version())
		fmt.Printf("  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionShort, "short", "s", false, "show version only")
}
