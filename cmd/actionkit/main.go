package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "actionkit",
		Short:         "Typed actions over HTTP, MCP and cron",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default ~/.actionkit/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newOpenAPICmd(),
		newVersionCmd(),
	)
	return root
}

// configFromFlags loads the configuration named by --config.
func configFromFlags(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path, os.Getenv)
}
