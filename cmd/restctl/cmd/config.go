package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ryhazerus/restlimit/config"
)

const redacted = "<redacted>"

func newConfigCmd(load func() (*config.Config, error)) *cobra.Command {
	var showSecrets bool

	c := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and
environment overrides have been applied, as YAML.

The token and redis password are redacted unless --show-secrets is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !showSecrets {
				if cfg.API.Token != "" {
					cfg.API.Token = redacted
				}
				if cfg.Store.Redis.Password != "" {
					cfg.Store.Redis.Password = redacted
				}
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	c.Flags().BoolVar(&showSecrets, "show-secrets", false, "print the token and passwords verbatim")
	return c
}
