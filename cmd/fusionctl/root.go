package main

import (
	"github.com/spf13/cobra"

	"github.com/okian/fusion/internal/config"
)

type rootOptions struct {
	configFile string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fusionctl",
		Short: "Run competency assessments and manage source weights",
		Long: `fusionctl assembles the assessment pipeline from the service configuration
(defaults, an optional YAML file, then FUSION_* environment variables) and runs
it locally.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (default $"+config.EnvConfig+")")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print JSON instead of text")

	cmd.AddCommand(newAssessCmd(opts), newWeightsCmd(opts))
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	if o.configFile != "" {
		return config.LoadFile(cmd.Context(), o.configFile)
	}
	return config.Load(cmd.Context())
}
