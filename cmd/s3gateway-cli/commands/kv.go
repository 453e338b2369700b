package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwi3910/s3gateway/internal/config"
	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/server"
)

// kvOptions select the backend the kv commands open directly.
type kvOptions struct {
	configPath string
	dataDir    string
	backend    string
	index      string
	timeout    time.Duration
}

// NewKVCmd creates the kv command group.
func NewKVCmd() *cobra.Command {
	opts := &kvOptions{}

	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Raw key-value access to a gateway backend",
		Long: `Read and write backend indexes directly, bypassing the S3 API.

The backend is opened with the gateway configuration. An embedded badger
directory can only be opened while the gateway is stopped.

Indexes:
  buckets-index              bucket name -> bucket record
  objects-index/<bucket>     object key  -> object record
  data-index/<bucket>        object key NUL version id -> encoded object data`,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the gateway configuration file")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data", "", "Gateway data directory")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "Engine backend (badger, nats)")
	cmd.PersistentFlags().StringVar(&opts.index, "index", "buckets-index", "Index to operate on")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Operation timeout")

	cmd.AddCommand(newKVGetCmd(opts))
	cmd.AddCommand(newKVPutCmd(opts))
	cmd.AddCommand(newKVDeleteCmd(opts))

	return cmd
}

// run opens the backend, runs fn against it and closes it again.
func (o *kvOptions) run(fn func(ctx context.Context, client *kvs.Client) error) error {
	cfg, err := config.Load(o.configPath, config.Options{DataDir: o.dataDir, Backend: o.backend})
	if err != nil {
		return err
	}

	engine, err := server.OpenEngine(cfg)
	if err != nil {
		return err
	}

	client := kvs.NewClient(engine, nil)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := fn(ctx, client); err != nil {
		return fmt.Errorf("%s: %w", kvs.Classify(err), err)
	}

	return nil
}

func newKVGetCmd(opts *kvOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, client *kvs.Client) error {
				value, err := client.Get(ctx, opts.index, args[0])
				if err != nil {
					return err
				}

				_, err = cmd.OutOrStdout().Write(value)

				return err
			})
		},
	}
}

func newKVPutCmd(opts *kvOptions) *cobra.Command {
	var ifAbsent bool

	cmd := &cobra.Command{
		Use:   "put <key> [value]",
		Short: "Store a value under key, read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte

			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read value: %w", err)
				}

				value = data
			}

			return opts.run(func(ctx context.Context, client *kvs.Client) error {
				if err := client.Put(ctx, opts.index, args[0], value, kvs.PutOptions{IfAbsent: ifAbsent}); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s under %s/%s\n", FormatSize(int64(len(value))), opts.index, args[0])

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&ifAbsent, "if-absent", false, "Fail when the key already exists")

	return cmd
}

func newKVDeleteCmd(opts *kvOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, client *kvs.Client) error {
				if err := client.Delete(ctx, opts.index, args[0]); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", opts.index, args[0])

				return nil
			})
		},
	}
}
