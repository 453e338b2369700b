package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `Configure the gateway endpoints and the optional signing credentials.`,
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value. Available keys:
  endpoint    - The S3 endpoint URL
  admin-url   - The admin API URL
  access-key  - The access key ID used to sign requests
  secret-key  - The secret access key used to sign requests
  region      - The region (default: us-east-1)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(args[0])
			value := args[1]

			cfg, err := LoadConfig()
			if err != nil {
				cfg = DefaultConfig()
			}

			switch key {
			case "endpoint":
				cfg.Endpoint = value
			case "admin-url":
				cfg.AdminURL = value
			case "access-key":
				cfg.AccessKey = value
			case "secret-key":
				cfg.SecretKey = value
			case "region":
				cfg.Region = value
			default:
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if err := SaveConfig(cfg); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, maskSecret(key, value))

			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show all configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "endpoint:    %s\n", cfg.Endpoint)
			_, _ = fmt.Fprintf(out, "admin-url:   %s\n", cfg.AdminURL)
			_, _ = fmt.Fprintf(out, "access-key:  %s\n", maskSecret("access-key", cfg.AccessKey))
			_, _ = fmt.Fprintf(out, "secret-key:  %s\n", maskSecret("secret-key", cfg.SecretKey))
			_, _ = fmt.Fprintf(out, "region:      %s\n", cfg.Region)

			return nil
		},
	}
}

// maskSecret masks a secret value, showing only first and last 4 chars
func maskSecret(key, value string) string {
	if !strings.HasSuffix(key, "-key") {
		return value
	}

	if len(value) <= 8 {
		return "****"
	}

	return value[:4] + "****" + value[len(value)-4:]
}
