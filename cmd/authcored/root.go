package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcored",
		Short: "Authentication and session-security service",
		Long: `authcored runs client and admin authentication, password reset, email
verification, and real-time security notifications over HTTP.

Settings come from the environment (ADMIN_JWT_SECRET, JWT_SECRET, MONGO_URL,
DB_NAME, REDIS_URL, HTTP_ADDR, LOG_LEVEL) or from the file given with --config.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml, json or toml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSeedAdminCmd())

	return cmd
}
