package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/cobra"
)

// NewBucketCmd creates the bucket command group.
func NewBucketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Bucket operations",
		Long:  `Manage buckets and bucket policies on the gateway.`,
	}

	cmd.AddCommand(newBucketCreateCmd())
	cmd.AddCommand(newBucketDeleteCmd())
	cmd.AddCommand(newBucketHeadCmd())
	cmd.AddCommand(newBucketLocationCmd())
	cmd.AddCommand(newBucketPolicyCmd())

	return cmd
}

func newBucketCreateCmd() *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:     "create <bucket-name>",
		Aliases: []string{"mb"},
		Short:   "Create a new bucket",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			input := &s3.CreateBucketInput{
				Bucket: &bucketName,
			}

			if region != "" {
				input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
					LocationConstraint: types.BucketLocationConstraint(region),
				}
			}

			if _, err := client.CreateBucket(ctx, input); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Bucket '%s' created successfully\n", bucketName)

			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "Bucket location constraint")

	return cmd
}

func newBucketDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <bucket-name>",
		Aliases: []string{"rb"},
		Short:   "Delete an empty bucket",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			if _, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucketName}); err != nil {
				return fmt.Errorf("failed to delete bucket: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Bucket '%s' deleted successfully\n", bucketName)

			return nil
		},
	}
}

func newBucketHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head <bucket-name>",
		Short: "Check that a bucket exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucketName}); err != nil {
				return fmt.Errorf("bucket '%s' is not accessible: %w", bucketName, err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Bucket '%s' exists\n", bucketName)

			return nil
		},
	}
}

func newBucketLocationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "location <bucket-name>",
		Short: "Show the region of a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			location, err := client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: &bucketName})
			if err != nil {
				return fmt.Errorf("failed to get bucket location: %w", err)
			}

			// An empty constraint is the default region.
			region := string(location.LocationConstraint)
			if region == "" {
				region = "us-east-1"
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), region)

			return nil
		},
	}
}

func newBucketPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Bucket policy operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <bucket-name>",
		Short: "Print the bucket policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			out, err := client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: &bucketName})
			if err != nil {
				return fmt.Errorf("failed to get bucket policy: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), aws.ToString(out.Policy))

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <bucket-name> <policy-file|->",
		Short: "Set the bucket policy from a JSON file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := readPolicy(cmd, args[1])
			if err != nil {
				return err
			}

			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			if _, err := client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
				Bucket: &bucketName,
				Policy: aws.String(policy),
			}); err != nil {
				return fmt.Errorf("failed to set bucket policy: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Policy set on bucket '%s'\n", bucketName)

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <bucket-name>",
		Short: "Delete the bucket policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			bucketName := bucketArg(args[0])

			if _, err := client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: &bucketName}); err != nil {
				return fmt.Errorf("failed to delete bucket policy: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Policy deleted from bucket '%s'\n", bucketName)

			return nil
		},
	})

	return cmd
}

func readPolicy(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path) // #nosec G304 - user supplied policy file
	}

	if err != nil {
		return "", fmt.Errorf("failed to read policy: %w", err)
	}

	return string(data), nil
}
