package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the hotplugd command tree.
func NewRootCommand(version, commit, date string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "hotplugd",
		Short: "Remote plugin loader with a sandboxed JavaScript runtime",
		Long: `hotplugd retrieves small JavaScript payloads from configured remote sources
and runs each one in a fresh sandbox with a fixed capability set and a hard
time limit, without restarting the host process.

Configuration is read from a YAML file and HOTPLUG_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newCheckCommand(&configPath))
	rootCmd.AddCommand(newSourcesCommand(&configPath))

	return rootCmd
}
