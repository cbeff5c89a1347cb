package commands

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"offpay/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the effective configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := cfg
			if shown.Backend.Token != "" {
				shown.Backend.Token = "********"
			}
			b, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	var path string
	write := &cobra.Command{
		Use:   "write",
		Short: "Write the effective configuration to offpay.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = cfg.Path()
			}
			if err := config.WriteFile(&cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	write.Flags().StringVar(&path, "path", "", "destination (default <home>/offpay.yaml)")

	cmd.AddCommand(show, write)
	return cmd
}
