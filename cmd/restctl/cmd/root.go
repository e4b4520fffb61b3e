// Package cmd provides the CLI commands for restctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryhazerus/restlimit/config"
)

// NewRootCmd builds the restctl command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "restctl",
		Short: "Rate-limit-aware API client",
		Long: `restctl sends requests to the API while waiting out per-route and
global rate limits the way a long-running client would.

Configuration:
  Config is loaded from restlimit.yaml in the current directory or
  $HOME/.restlimit/. Environment variables override config values with the
  RESTLIMIT_ prefix.
  Example: RESTLIMIT_API_TOKEN=... restctl request GET /users/@me

Commands:
  request     Send one or more requests and print the responses
  config      Print the effective configuration
  version     Print version information`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./restlimit.yaml)")

	load := func() (*config.Config, error) {
		return config.Load(cfgFile)
	}
	root.AddCommand(
		newRequestCmd(load),
		newConfigCmd(load),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
