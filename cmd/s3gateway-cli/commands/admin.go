package commands

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwi3910/s3gateway/internal/api/admin"
	"github.com/piwi3910/s3gateway/internal/health"
	"github.com/piwi3910/s3gateway/internal/httputil"
	"github.com/piwi3910/s3gateway/internal/metadata"
)

const adminTimeout = 10 * time.Second

// NewAdminCmd creates the admin command group
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations",
		Long:  `Inspect a running gateway through its admin API.`,
	}

	cmd.AddCommand(newAdminEngineCmd())
	cmd.AddCommand(newAdminHealthCmd())
	cmd.AddCommand(newAdminBucketCmd())
	cmd.AddCommand(newAdminObjectCmd())

	return cmd
}

// adminGet fetches path from the configured admin API.
func adminGet(path string, v any) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	base := strings.TrimSuffix(cfg.AdminURL, "/")

	return httputil.GetJSON(ctx, httputil.NewClientWithTimeout(adminTimeout), base+path, v)
}

func newAdminEngineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engine",
		Short: "Show the backend engine, buffer budget and loop backlogs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp admin.EngineResponse
			if err := adminGet("/api/v1/admin/engine", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Engine:  %s\n", resp.Engine)
			_, _ = fmt.Fprintf(out, "Version: %s\n", resp.Version)

			budget := "unlimited"
			if resp.Buffers.Budget > 0 {
				budget = FormatSize(resp.Buffers.Budget)
			}

			_, _ = fmt.Fprintf(out, "Buffers: %s of %s\n", FormatSize(resp.Buffers.InUse), budget)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "LOOP\tPENDING")

			for _, l := range resp.Loops {
				_, _ = fmt.Fprintf(w, "%s\t%d\n", l.Name, l.Pending)
			}

			return w.Flush()
		},
	}
}

func newAdminHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show every health check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status health.HealthStatus

			// An unhealthy gateway answers 503 and surfaces as an error.
			if err := adminGet("/api/v1/admin/health/detailed", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Status: %s\n", status.Status)

			names := make([]string, 0, len(status.Checks))
			for name := range status.Checks {
				names = append(names, name)
			}

			sort.Strings(names)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")

			for _, name := range names {
				check := status.Checks[name]
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, check.Status, check.Message)
			}

			return w.Flush()
		},
	}
}

func newAdminBucketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bucket <bucket-name>",
		Short: "Show the stored bucket record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := bucketArg(args[0])

			var bucket metadata.Bucket
			if err := adminGet("/api/v1/admin/buckets/"+url.PathEscape(name), &bucket); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Name:    %s\n", bucket.Name)
			_, _ = fmt.Fprintf(out, "Owner:   %s\n", bucket.Owner)
			_, _ = fmt.Fprintf(out, "Region:  %s\n", bucket.Region)
			_, _ = fmt.Fprintf(out, "Created: %s\n", bucket.CreatedAt.Format(time.RFC3339))
			_, _ = fmt.Fprintf(out, "Objects: %d\n", bucket.ObjectCount)
			_, _ = fmt.Fprintf(out, "Policy:  %t\n", bucket.Policy != "")

			return nil
		},
	}
}

func newAdminObjectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "object <s3://bucket/key>",
		Short: "Show the stored object record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, err := objectArg(args[0])
			if err != nil {
				return err
			}

			var obj metadata.Object
			if err := adminGet("/api/v1/admin/buckets/"+url.PathEscape(bucket)+"/objects/"+key, &obj); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Key:         %s\n", obj.Key)
			_, _ = fmt.Fprintf(out, "Size:        %s (%d bytes)\n", FormatSize(obj.Size), obj.Size)
			_, _ = fmt.Fprintf(out, "Stored size: %s (%d bytes)\n", FormatSize(obj.StoredSize), obj.StoredSize)
			_, _ = fmt.Fprintf(out, "Codec:       %s\n", obj.Codec)
			_, _ = fmt.Fprintf(out, "ETag:        %s\n", obj.ETag)
			_, _ = fmt.Fprintf(out, "Version:     %s\n", obj.VersionID)

			return nil
		},
	}
}
