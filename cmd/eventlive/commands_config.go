package main

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/eventlive/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.JSONSchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with defaults applied",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(resolveConfigPath(configPath))
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			},
		},
	)
	return cmd
}

func runConfigValidate(cmd *cobra.Command) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found; built-in defaults are valid.")
		return nil
	}
	if _, err := config.Load(path); err != nil {
		var verr *config.ConfigValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is invalid:\n", path)
			for _, issue := range verr.Issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
			}
			return errors.New("configuration is invalid")
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid.\n", path)
	return nil
}
