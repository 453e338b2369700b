// Package config provides configuration management for the gateway.
//
// Configuration is loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (S3GATEWAY_* prefix)
//  3. Configuration file (s3gateway.yaml)
//  4. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load("/etc/s3gateway/s3gateway.yaml", config.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Engine backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendNATS   = "nats"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Node identification
	NodeID string `mapstructure:"node_id" yaml:"node_id"`

	// Storage paths
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// Network configuration
	S3Port    int    `mapstructure:"s3_port" yaml:"s3_port"`
	AdminPort int    `mapstructure:"admin_port" yaml:"admin_port"`
	Region    string `mapstructure:"region" yaml:"region"`
	Owner     string `mapstructure:"owner" yaml:"owner"`

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Loops   LoopsConfig   `mapstructure:"loops" yaml:"loops"`
	Buffers BuffersConfig `mapstructure:"buffers" yaml:"buffers"`
	Object  ObjectConfig  `mapstructure:"object" yaml:"object"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`

	// ShutdownTimeout bounds the graceful stop of the HTTP servers.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// EngineConfig selects and configures the key-value backend.
type EngineConfig struct {
	// Backend is memory, badger or nats.
	Backend      string       `mapstructure:"backend" yaml:"backend"`
	Workers      int          `mapstructure:"workers" yaml:"workers"`
	QueueSize    int          `mapstructure:"queue_size" yaml:"queue_size"`
	MaxValueSize int          `mapstructure:"max_value_size" yaml:"max_value_size"`
	Badger       BadgerConfig `mapstructure:"badger" yaml:"badger"`
	NATS         NATSConfig   `mapstructure:"nats" yaml:"nats"`
}

// BadgerConfig configures the embedded BadgerDB engine.
type BadgerConfig struct {
	// Dir defaults to <data_dir>/kv.
	Dir        string `mapstructure:"dir" yaml:"dir"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
	InMemory   bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// NATSConfig configures the JetStream key-value engine.
type NATSConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	BucketPrefix string        `mapstructure:"bucket_prefix" yaml:"bucket_prefix"`
	Replicas     int           `mapstructure:"replicas" yaml:"replicas"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoopsConfig configures the request event loops.
type LoopsConfig struct {
	Count int `mapstructure:"count" yaml:"count"`
}

// BuffersConfig bounds the memory held by in-flight operations.
type BuffersConfig struct {
	// MaxBytes is the buffer budget; zero disables it.
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// ObjectConfig configures object data handling.
type ObjectConfig struct {
	// MaxSize bounds PutObject bodies; zero disables the limit.
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size"`
	// Compression is none, zstd or lz4.
	Compression string `mapstructure:"compression" yaml:"compression"`
	// CompressionMinSize is the smallest body that is compressed.
	CompressionMinSize int `mapstructure:"compression_min_size" yaml:"compression_min_size"`
}

// AdminConfig configures the admin listener.
type AdminConfig struct {
	// CORSOrigins are the origins allowed to call the admin API.
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Options are command line overrides.
type Options struct {
	DataDir   string
	Backend   string
	S3Port    int
	AdminPort int
}

// Load loads configuration from file and applies command line options.
func Load(configPath string, opts Options) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load from config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Try to find config in standard locations
		v.SetConfigName("s3gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/s3gateway")
		v.AddConfigPath("$HOME/.s3gateway")

		// Ignore error if config file not found
		_ = v.ReadInConfig()
	}

	// Environment variables override
	v.SetEnvPrefix("S3GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Apply command line options
	if opts.DataDir != "" {
		v.Set("data_dir", opts.DataDir)
	}

	if opts.Backend != "" {
		v.Set("engine.backend", opts.Backend)
	}

	if opts.S3Port != 0 {
		v.Set("s3_port", opts.S3Port)
	}

	if opts.AdminPort != 0 {
		v.Set("admin_port", opts.AdminPort)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Registered so that S3GATEWAY_NODE_ID is picked up.
	v.SetDefault("node_id", "")

	// Data directory
	v.SetDefault("data_dir", "./data")

	// Network ports
	v.SetDefault("s3_port", 9000)
	v.SetDefault("admin_port", 9001)
	v.SetDefault("region", "us-east-1")
	v.SetDefault("owner", "s3gateway")

	// Logging
	v.SetDefault("log_level", "info")

	v.SetDefault("shutdown_timeout", 30*time.Second)

	// Engine
	v.SetDefault("engine.backend", BackendBadger)
	v.SetDefault("engine.workers", 16)
	v.SetDefault("engine.queue_size", 4096)
	v.SetDefault("engine.max_value_size", 64<<20)
	v.SetDefault("engine.badger.dir", "")
	v.SetDefault("engine.badger.sync_writes", false)
	v.SetDefault("engine.badger.in_memory", false)
	v.SetDefault("engine.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("engine.nats.bucket_prefix", "s3gw")
	v.SetDefault("engine.nats.replicas", 1)
	v.SetDefault("engine.nats.timeout", 5*time.Second)

	// Request loops and buffers
	v.SetDefault("loops.count", 4)
	v.SetDefault("buffers.max_bytes", 512<<20)

	// Objects
	v.SetDefault("object.max_size", 64<<20)
	v.SetDefault("object.compression", "zstd")
	v.SetDefault("object.compression_min_size", 1024)

	v.SetDefault("admin.cors_origins", []string{"*"})
}

func (c *Config) validate() error {
	switch c.Engine.Backend {
	case BackendMemory, BackendBadger, BackendNATS:
	default:
		return fmt.Errorf("unknown engine backend %q (want memory, badger or nats)", c.Engine.Backend)
	}

	switch c.Object.Compression {
	case "", "none", "zstd", "lz4":
	default:
		return fmt.Errorf("unknown object compression %q (want none, zstd or lz4)", c.Object.Compression)
	}

	if c.S3Port <= 0 || c.AdminPort <= 0 {
		return errors.New("s3_port and admin_port must be positive")
	}

	if c.S3Port == c.AdminPort {
		return fmt.Errorf("s3_port and admin_port must differ (both %d)", c.S3Port)
	}

	if c.Loops.Count < 1 {
		return fmt.Errorf("loops.count must be at least 1, got %d", c.Loops.Count)
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers)
	}

	if c.Object.MaxSize > 0 && c.Engine.MaxValueSize > 0 && c.Object.MaxSize > int64(c.Engine.MaxValueSize) {
		return fmt.Errorf("object.max_size (%d) exceeds engine.max_value_size (%d)", c.Object.MaxSize, c.Engine.MaxValueSize)
	}

	if c.Engine.Backend == BackendNATS && c.Engine.NATS.URL == "" {
		return errors.New("engine.nats.url is required for the nats backend")
	}

	// Ensure data directory exists with secure permissions
	if err := os.MkdirAll(c.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if c.Engine.Badger.Dir == "" {
		c.Engine.Badger.Dir = filepath.Join(c.DataDir, "kv")
	}

	// Generate node ID if not set
	if c.NodeID == "" {
		nodeIDPath := filepath.Join(c.DataDir, "node-id")

		if data, err := os.ReadFile(nodeIDPath); err == nil { // #nosec G304 - path is under data_dir
			c.NodeID = strings.TrimSpace(string(data))
		} else {
			c.NodeID = generateNodeID()
			if err := os.WriteFile(nodeIDPath, []byte(c.NodeID), 0600); err != nil {
				return fmt.Errorf("failed to write node ID: %w", err)
			}
		}
	}

	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return data, nil
}

func generateNodeID() string {
	return "node-" + generateSecret(8)
}

func generateSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("failed to generate random bytes: %v", err))
	}

	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}

	return string(b)
}
