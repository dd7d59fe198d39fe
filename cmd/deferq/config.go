package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showFormat string

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate and inspect deferq configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and report every error found.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d workqueues, %d jobs\n",
			len(cfg.Workqueues), len(cfg.Jobs))
		return nil
	},
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after environment expansion and defaults.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}

		switch showFormat {
		case "toml":
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		case "yaml":
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		default:
			return fmt.Errorf("unknown format %q (expected: toml, yaml)", showFormat)
		}
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&showFormat, "format", "f", "toml", "Output format: toml or yaml")

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
