package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gaborage/webqueue/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Loads defaults, config.yaml, config.<env>.yaml and WEBQUEUE_* environment
variables, validates the result and prints it as YAML.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(file)
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "config", "c", "", "Config file (default: ./config.yaml when present)")

	return cmd
}

func loadConfig(file string) (*config.Config, error) {
	var opts []config.Option
	if file != "" {
		opts = append(opts, config.WithFile(file))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
