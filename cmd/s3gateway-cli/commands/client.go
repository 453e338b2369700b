package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"

	"github.com/piwi3910/s3gateway/internal/httputil"
)

// File permission constants.
const (
	dirPermissions  = 0700
	filePermissions = 0600
	// S3 URI prefix length ("s3://").
	s3URIPrefixLen = 5
)

// The gateway does not verify signatures, so any key pair will do.
const anonymousKey = "s3gateway"

// ClientConfig holds the CLI configuration.
type ClientConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AdminURL  string `yaml:"admin_url"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint: "http://localhost:9000",
		AdminURL: "http://localhost:9001",
		Region:   "us-east-1",
	}
}

// configPath returns the path to the config file. S3GATEWAY_CLI_CONFIG
// overrides the default location.
func configPath() string {
	if path := os.Getenv("S3GATEWAY_CLI_CONFIG"); path != "" {
		return path
	}

	home, _ := os.UserHomeDir()

	return filepath.Join(home, ".s3gateway", "cli.yaml")
}

// LoadConfig loads the configuration from file or environment.
func LoadConfig() (*ClientConfig, error) {
	cfg := DefaultConfig()

	// Try to load from file
	data, err := os.ReadFile(configPath())
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	// Override with environment variables
	if endpoint := os.Getenv("S3GATEWAY_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}

	if adminURL := os.Getenv("S3GATEWAY_ADMIN_URL"); adminURL != "" {
		cfg.AdminURL = adminURL
	}

	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		cfg.AccessKey = accessKey
	}

	if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.SecretKey = secretKey
	}

	if region := os.Getenv("S3GATEWAY_REGION"); region != "" {
		cfg.Region = region
	} else if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = region
	}

	return cfg, nil
}

// SaveConfig saves the configuration to file.
func SaveConfig(cfg *ClientConfig) error {
	path := configPath()

	// Create directory if needed
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// NewS3Client creates an S3 client from the configuration.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	return newS3Client(ctx, cfg)
}

func newS3Client(ctx context.Context, cfg *ClientConfig) (*s3.Client, error) {
	accessKey, secretKey := cfg.AccessKey, cfg.SecretKey
	if accessKey == "" || secretKey == "" {
		accessKey, secretKey = anonymousKey, anonymousKey
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithHTTPClient(httputil.NewClient(nil)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing against the gateway endpoint. Checksums are only
	// sent when an operation requires them so that uploads are not switched
	// to aws-chunked encoding.
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return client, nil
}

// ParseS3URI parses an S3 URI (s3://bucket/key) into bucket and key.
func ParseS3URI(uri string) (string, string, bool) {
	if len(uri) < s3URIPrefixLen || uri[:s3URIPrefixLen] != "s3://" {
		return "", "", false
	}

	path := uri[s3URIPrefixLen:]
	if path == "" {
		return "", "", false
	}

	// Find first slash after bucket name
	for i := range len(path) {
		if path[i] == '/' {
			return path[:i], path[i+1:], true
		}
	}

	// No key, just bucket
	return path, "", true
}

// bucketArg accepts both s3://bucket and a bare bucket name.
func bucketArg(arg string) string {
	if bucket, _, ok := ParseS3URI(arg); ok {
		return bucket
	}

	return arg
}

// FormatSize formats a byte size to human-readable format.
func FormatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case size >= TB:
		return fmt.Sprintf("%.2f TB", float64(size)/TB)
	case size >= GB:
		return fmt.Sprintf("%.2f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.2f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.2f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
