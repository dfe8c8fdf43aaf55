package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort                  = 8080
	defaultDataDir               = "data"
	defaultMaxBatchSize          = 50
	defaultWorkerPoolSize        = 4
	defaultAttachmentConcurrency = 2
	defaultMaxConcurrentBatches  = 3
	defaultMaxAttachmentBytes    = 20 << 20 // 20 MiB
	defaultAssetByteBudget       = 1 << 20  // 1 MiB per normalized asset
	defaultJPEGQuality           = 85
	defaultMaxDimension          = 2000
	defaultBatchDeadline         = 5 * time.Minute
	defaultGracePeriod           = 10 * time.Second
	defaultRetryMaxAttempts      = 3
	defaultRetryBaseDelay        = 500 * time.Millisecond
	defaultRetryMaxDelay         = 10 * time.Second
	defaultRequestsPerSecond     = 5.0
	defaultBurst                 = 10
	defaultOrderIDPrefix         = "ORD"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// OrderAPI configures the outbound client for the order-data API.
type OrderAPI struct {
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Retry configures the shared retry policy for fetches and downloads.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// Config describes runtime configuration for the service.
type Config struct {
	Port                  int      `yaml:"port"`
	DataDir               string   `yaml:"data_dir"`
	OrderAPI              OrderAPI `yaml:"order_api"`
	OrderIDPrefix         string   `yaml:"order_id_prefix"`
	MaxBatchSize          int      `yaml:"max_batch_size"`
	WorkerPoolSize        int      `yaml:"worker_pool_size"`
	AttachmentConcurrency int      `yaml:"attachment_concurrency"`
	MaxConcurrentBatches  int      `yaml:"max_concurrent_batches"`
	MaxAttachmentBytes    int64    `yaml:"max_attachment_bytes"`
	AssetByteBudget       int      `yaml:"asset_byte_budget"`
	JPEGQuality           int      `yaml:"jpeg_quality"`
	MaxDimension          int      `yaml:"max_dimension"`
	BatchDeadline         Duration `yaml:"batch_deadline"`
	GracePeriod           Duration `yaml:"grace_period"`
	Retry                 Retry    `yaml:"retry"`
}

// Default returns conservative defaults for every tunable.
func Default() Config {
	return Config{
		Port:    defaultPort,
		DataDir: defaultDataDir,
		OrderAPI: OrderAPI{
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
		},
		OrderIDPrefix:         defaultOrderIDPrefix,
		MaxBatchSize:          defaultMaxBatchSize,
		WorkerPoolSize:        defaultWorkerPoolSize,
		AttachmentConcurrency: defaultAttachmentConcurrency,
		MaxConcurrentBatches:  defaultMaxConcurrentBatches,
		MaxAttachmentBytes:    defaultMaxAttachmentBytes,
		AssetByteBudget:       defaultAssetByteBudget,
		JPEGQuality:           defaultJPEGQuality,
		MaxDimension:          defaultMaxDimension,
		BatchDeadline:         Duration(defaultBatchDeadline),
		GracePeriod:           Duration(defaultGracePeriod),
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelay:   Duration(defaultRetryBaseDelay),
			MaxDelay:    Duration(defaultRetryMaxDelay),
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	c.OrderIDPrefix = strings.TrimSpace(c.OrderIDPrefix)
	if c.OrderIDPrefix == "" {
		c.OrderIDPrefix = defaultOrderIDPrefix
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("invalid max_batch_size: %d (must be >= 1)", c.MaxBatchSize)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("invalid worker_pool_size: %d (must be >= 1)", c.WorkerPoolSize)
	}
	if c.AttachmentConcurrency < 1 {
		return fmt.Errorf("invalid attachment_concurrency: %d (must be >= 1)", c.AttachmentConcurrency)
	}
	if c.MaxConcurrentBatches < 1 {
		return fmt.Errorf("invalid max_concurrent_batches: %d (must be >= 1)", c.MaxConcurrentBatches)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid retry.max_attempts: %d (must be >= 1)", c.Retry.MaxAttempts)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg_quality: %d (must be 1..100)", c.JPEGQuality)
	}
	if c.MaxAttachmentBytes < 1 {
		c.MaxAttachmentBytes = defaultMaxAttachmentBytes
	}
	if c.AssetByteBudget < 1 {
		c.AssetByteBudget = defaultAssetByteBudget
	}
	if c.MaxDimension < 1 {
		c.MaxDimension = defaultMaxDimension
	}
	if c.BatchDeadline <= 0 {
		c.BatchDeadline = Duration(defaultBatchDeadline)
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = Duration(defaultGracePeriod)
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = Duration(defaultRetryBaseDelay)
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = Duration(defaultRetryMaxDelay)
	}
	if c.OrderAPI.RequestsPerSecond <= 0 {
		c.OrderAPI.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.OrderAPI.Burst < 1 {
		c.OrderAPI.Burst = defaultBurst
	}
	return nil
}
