package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
	server     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{server: defaultServer}
	if v := os.Getenv("COMFYCLIENT_SERVER"); v != "" {
		opts.server = v
	}
	root := &cobra.Command{
		Use:           "comfyclient",
		Short:         "Client process for a ComfyUI provider network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&opts.server, "server", opts.server, "Base URL of a running comfyclient (defaults COMFYCLIENT_SERVER)")

	root.AddCommand(
		newServeCmd(opts),
		newRunJobCmd(opts),
		newStatusCmd(opts),
		newAdminCmd(opts),
	)
	return root
}
