package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
)

// NewObjectCmd creates the object command group.
func NewObjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Object operations",
		Long:  `Upload, download, inspect and delete objects.`,
	}

	cmd.AddCommand(newObjectPutCmd())
	cmd.AddCommand(newObjectGetCmd())
	cmd.AddCommand(newObjectCatCmd())
	cmd.AddCommand(newObjectHeadCmd())
	cmd.AddCommand(newObjectDeleteCmd())

	return cmd
}

func objectArg(arg string) (string, string, error) {
	bucket, key, ok := ParseS3URI(arg)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid S3 URI: %s", arg)
	}

	return bucket, key, nil
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]string, len(pairs))

	for _, m := range pairs {
		k, v, ok := strings.Cut(m, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", m)
		}

		meta[k] = v
	}

	return meta, nil
}

func newObjectPutCmd() *cobra.Command {
	var (
		contentType string
		metadata    []string
	)

	cmd := &cobra.Command{
		Use:   "put <local-file> <s3://bucket/key>",
		Short: "Upload an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localFile := args[0]

			bucket, key, isS3 := ParseS3URI(args[1])
			if !isS3 {
				return fmt.Errorf("invalid S3 URI: %s", args[1])
			}

			// If key is empty, use filename
			if key == "" {
				key = filepath.Base(localFile)
			}

			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}

			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			file, err := os.Open(localFile) // #nosec G304 - user supplied upload
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}

			defer func() { _ = file.Close() }()

			stat, err := file.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}

			input := &s3.PutObjectInput{
				Bucket:        &bucket,
				Key:           &key,
				Body:          file,
				ContentLength: aws.Int64(stat.Size()),
				Metadata:      meta,
			}

			if contentType != "" {
				input.ContentType = &contentType
			}

			result, err := client.PutObject(ctx, input)
			if err != nil {
				return fmt.Errorf("failed to upload object: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Uploaded %s to s3://%s/%s\n", localFile, bucket, key)

			if result.ETag != nil {
				_, _ = fmt.Fprintf(out, "ETag: %s\n", *result.ETag)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type of the object")
	cmd.Flags().StringArrayVar(&metadata, "metadata", nil, "Metadata key=value pairs")

	return cmd
}

func newObjectGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <s3://bucket/key> [local-file]",
		Short: "Download an object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, err := objectArg(args[0])
			if err != nil {
				return err
			}

			localFile := filepath.Base(key)
			if len(args) > 1 {
				localFile = args[1]
			}

			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			result, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
			if err != nil {
				return fmt.Errorf("failed to get object: %w", err)
			}

			defer func() { _ = result.Body.Close() }()

			file, err := os.Create(localFile) // #nosec G304 - user supplied destination
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}

			n, copyErr := io.Copy(file, result.Body)
			if err := errors.Join(copyErr, file.Close()); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Downloaded s3://%s/%s to %s (%s)\n", bucket, key, localFile, FormatSize(n))

			return nil
		},
	}
}

func newObjectCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <s3://bucket/key>",
		Short: "Display object contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, err := objectArg(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			result, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
			if err != nil {
				return fmt.Errorf("failed to get object: %w", err)
			}

			defer func() { _ = result.Body.Close() }()

			_, err = io.Copy(cmd.OutOrStdout(), result.Body)

			return err
		},
	}
}

func newObjectHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head <s3://bucket/key>",
		Short: "Get object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, err := objectArg(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			result, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
			if err != nil {
				return fmt.Errorf("failed to get object metadata: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Key: %s\n", key)

			if result.ContentLength != nil {
				_, _ = fmt.Fprintf(out, "Size: %s (%d bytes)\n", FormatSize(*result.ContentLength), *result.ContentLength)
			}

			if result.ContentType != nil {
				_, _ = fmt.Fprintf(out, "Content-Type: %s\n", *result.ContentType)
			}

			if result.ETag != nil {
				_, _ = fmt.Fprintf(out, "ETag: %s\n", *result.ETag)
			}

			if result.LastModified != nil {
				_, _ = fmt.Fprintf(out, "Last-Modified: %s\n", result.LastModified.Format(time.RFC3339))
			}

			if len(result.Metadata) > 0 {
				_, _ = fmt.Fprintln(out, "Metadata:")

				keys := make([]string, 0, len(result.Metadata))
				for k := range result.Metadata {
					keys = append(keys, k)
				}

				sort.Strings(keys)

				for _, k := range keys {
					_, _ = fmt.Fprintf(out, "  %s: %s\n", k, result.Metadata[k])
				}
			}

			return nil
		},
	}
}

func newObjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <s3://bucket/key>",
		Aliases: []string{"rm"},
		Short:   "Delete an object",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, err := objectArg(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()

			client, err := NewS3Client(ctx)
			if err != nil {
				return err
			}

			if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
				return fmt.Errorf("failed to delete object: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted s3://%s/%s\n", bucket, key)

			return nil
		},
	}
}
