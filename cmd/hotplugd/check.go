package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goatkit/hotplug/internal/config"
	"github.com/goatkit/hotplug/internal/plugin"
)

func newCheckCommand(configPath *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the plugin pipeline once and print the result",
		Long: `check fetches every enabled source, runs the payloads it finds and prints
the load result. Retries follow plugins.retry. The command exits non-zero
when the run fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q (want json or yaml)", output)
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			p := newPipeline(cfg, installLogger(cmd.ErrOrStderr(), cfg.Log))

			res, err := p.retry.Run(cmd.Context())
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), output, res)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func writeResult(w io.Writer, format string, res *plugin.LoadResult) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
}
