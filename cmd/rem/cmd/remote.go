package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remembrance-run/remembrance-core/internal/federation"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage federation remotes",
}

var remoteAddToken string

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Register a remote node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		rem, err := reg.Add(args[0], args[1], remoteAddToken)
		if err != nil {
			return err
		}
		fmt.Printf("Added remote %s (%s)\n", rem.Name, rem.URL)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name-or-url>",
	Short: "Remove a remote node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		if err := reg.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed remote %s\n", args[0])
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		remotes := reg.List()
		if len(remotes) == 0 {
			fmt.Println("No remotes registered.")
			return nil
		}
		for _, rem := range remotes {
			fmt.Printf("%-20s %s\n", rem.Name, rem.URL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteListCmd)
	remoteAddCmd.Flags().StringVar(&remoteAddToken, "token", "", "bearer token for this remote")
}

func openRegistry() (*federation.Registry, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	return federation.LoadRegistry(root)
}
