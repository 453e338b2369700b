package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/s3gateway/cmd/s3gateway-cli/commands"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "s3gateway-cli",
		Short: "Command line client for the S3 gateway",
		Long: `s3gateway-cli talks to a gateway over its S3 and admin APIs, and can
open a stopped gateway's backend directly.

Configure the endpoints:
  s3gateway-cli config set endpoint http://localhost:9000
  s3gateway-cli config set admin-url http://localhost:9001

Or use environment variables:
  S3GATEWAY_ENDPOINT
  S3GATEWAY_ADMIN_URL
  S3GATEWAY_REGION`,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewBucketCmd())
	rootCmd.AddCommand(commands.NewObjectCmd())
	rootCmd.AddCommand(commands.NewAdminCmd())
	rootCmd.AddCommand(commands.NewKVCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
