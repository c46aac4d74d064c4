package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goatkit/hotplug/internal/config"
	"github.com/goatkit/hotplug/internal/plugin"
)

func newSourcesCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured plugin sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !cfg.Plugins.Enabled {
				fmt.Fprintln(out, "plugin system disabled")
			}
			enabled := len(plugin.EnabledSources(cfg.Plugins.Sources))
			fmt.Fprintf(out, "%d source(s), %d enabled\n", len(cfg.Plugins.Sources), enabled)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMETHOD\tENABLED\tDESCRIPTION")
			for _, s := range cfg.Plugins.Sources {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Name, s.Method, s.Enabled, s.Description)
			}
			return tw.Flush()
		},
	}
}
