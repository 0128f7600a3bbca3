// Package commands implements the spesalog CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root CLI command with all subcommands
// registered.
func NewRootCommand() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "spesalog",
		Short: "Bank export ingestion and expense categorization",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "spesalog.yaml", "configuration file")

	rootCmd.AddCommand(newIngestCommand(&cfgPath))
	rootCmd.AddCommand(newProcessCommand(&cfgPath))
	rootCmd.AddCommand(newResumeCommand(&cfgPath))
	rootCmd.AddCommand(newStatusCommand(&cfgPath))
	rootCmd.AddCommand(newStructureCommand(&cfgPath))
	rootCmd.AddCommand(newRuleCommand(&cfgPath))
	rootCmd.AddCommand(newInitConfigCommand())

	return rootCmd
}
