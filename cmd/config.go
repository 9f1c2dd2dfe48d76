package cmd

import (
	"fmt"
	"io"

	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/config"
	"github.com/grovetools/layoutsync/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect layoutsync configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration",
		Long: `Print the merged configuration.

The global config (<config dir>/layoutsync.yml) is merged with the
nearest layoutsync.yml, layoutsync.yaml or layoutsync.toml found from the
working directory upwards, then defaults are applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.Render(cmd, cfg, func(w io.Writer) error {
				for _, src := range cfg.Sources {
					fmt.Fprintf(w, "# Source: %s\n", src)
				}
				if len(cfg.Sources) == 0 {
					fmt.Fprintln(w, "# Source: defaults")
				}
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				_, err = w.Write(data)
				return err
			})
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for layoutsync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the schema and semantic rules.

Without a file argument the discovered configuration is validated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if len(args) == 1 {
				cfg, err = config.Load(args[0])
				if err == nil {
					cfg.Sources = []string{args[0]}
				}
			} else {
				cfg, err = cli.LoadConfig(cmd)
			}
			if err != nil {
				return err
			}

			result := struct {
				Valid   bool     `json:"valid"`
				Sources []string `json:"sources"`
			}{true, cfg.Sources}
			return cli.Render(cmd, result, func(w io.Writer) error {
				pretty := logging.NewPrettyLogger().WithWriter(w)
				if len(cfg.Sources) == 0 {
					pretty.InfoPretty("No configuration files found; defaults are valid.")
					return nil
				}
				for _, src := range cfg.Sources {
					pretty.Success(src + " is valid")
				}
				return nil
			})
		},
	}
}
