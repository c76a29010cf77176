package mediaupload

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/trendcast/go-mediautils/chunkuploader"
	"github.com/trendcast/go-mediautils/network"
	"github.com/trendcast/go-mediautils/uploaderr"
)

// State backends
const (
	StateBackendFile   = "file"
	StateBackendBadger = "badger"
	StateBackendS3     = "s3"
)

const (
	defaultRetryBaseDelay  = "1s"
	defaultRequestTimeout  = "60s"
	defaultHungThreshold   = "30s"
	defaultOutputDir       = "./output"
	defaultRetryMultiplier = 2
	defaultRateLimitFactor = 4
)

// Config is the externally supplied configuration of an upload. Empty values fall back to defaults.
type Config struct {
	InitURL   string `env:"MEDIA_INIT_UPLOAD_URL"`
	PartURL   string `env:"MEDIA_PART_UPLOAD_URL"`
	CommitURL string `env:"MEDIA_COMMIT_UPLOAD_URL"`

	AccessToken stepconf.Secret `env:"MEDIA_ACCESS_TOKEN"`

	Workers             int     `env:"MEDIA_UPLOAD_WORKERS"`
	Retries             int     `env:"MEDIA_UPLOAD_RETRIES"`
	RetryBaseDelay      string  `env:"MEDIA_UPLOAD_RETRY_BASE_DELAY"`
	RetryMultiplier     float64 `env:"MEDIA_UPLOAD_RETRY_MULTIPLIER"`
	RateLimitMultiplier float64 `env:"MEDIA_UPLOAD_RATE_LIMIT_MULTIPLIER"`
	RequestTimeout      string  `env:"MEDIA_UPLOAD_REQUEST_TIMEOUT"`
	// HungThreshold of "0" disables hung detection.
	HungThreshold   string `env:"MEDIA_UPLOAD_HUNG_THRESHOLD"`
	DefaultPartSize int64  `env:"MEDIA_DEFAULT_PART_SIZE"`

	StateBackend       string          `env:"MEDIA_STATE_BACKEND"`
	OutputDir          string          `env:"OUTPUT_DIR"`
	StateS3Bucket      string          `env:"MEDIA_STATE_S3_BUCKET"`
	StateS3Region      string          `env:"MEDIA_STATE_S3_REGION"`
	StateS3Prefix      string          `env:"MEDIA_STATE_S3_PREFIX"`
	AWSAccessKeyID     stepconf.Secret `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey stepconf.Secret `env:"AWS_SECRET_ACCESS_KEY"`

	DryRun      bool   `env:"MEDIA_DRY_RUN"`
	MetricsAddr string `env:"MEDIA_METRICS_ADDR"`
	Verbose     bool   `env:"MEDIA_VERBOSE"`
}

// ParseConfig reads the configuration from the environment and validates it.
func ParseConfig(envRepo env.Repository) (Config, error) {
	var config Config
	if err := stepconf.NewInputParser(envRepo).Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse inputs: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// ParseStateConfig reads the configuration like ParseConfig but only validates the state backend
// settings. It serves commands that inspect upload state without talking to the service.
func ParseStateConfig(envRepo env.Repository) (Config, error) {
	var config Config
	if err := stepconf.NewInputParser(envRepo).Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse inputs: %w", err)
	}
	config.applyDefaults()
	if err := config.validateStateBackend(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// DefaultConfig returns a configuration with every default filled in and no endpoints.
func DefaultConfig() Config {
	var config Config
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = chunkuploader.DefaultConcurrency
	}
	if c.Retries == 0 {
		c.Retries = chunkuploader.DefaultRetryPolicy().MaxAttempts
	}
	if c.RetryBaseDelay == "" {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.RetryMultiplier == 0 {
		c.RetryMultiplier = defaultRetryMultiplier
	}
	if c.RateLimitMultiplier == 0 {
		c.RateLimitMultiplier = defaultRateLimitFactor
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HungThreshold == "" {
		c.HungThreshold = defaultHungThreshold
	}
	if c.DefaultPartSize == 0 {
		c.DefaultPartSize = network.DefaultPartSize
	}
	if c.StateBackend == "" {
		c.StateBackend = StateBackendFile
	}
	if c.OutputDir == "" {
		c.OutputDir = defaultOutputDir
	}
}

// Validate fills in defaults and rejects anything an upload cannot run with.
// Endpoints are only required when the upload is not a dry run.
func (c *Config) Validate() error {
	c.applyDefaults()

	if !c.DryRun {
		if c.InitURL == "" {
			return &uploaderr.ConfigurationError{Field: "MEDIA_INIT_UPLOAD_URL", Reason: "required"}
		}
		if c.CommitURL == "" {
			return &uploaderr.ConfigurationError{Field: "MEDIA_COMMIT_UPLOAD_URL", Reason: "required"}
		}
	}

	if c.Workers < 1 {
		return &uploaderr.ConfigurationError{Field: "MEDIA_UPLOAD_WORKERS", Reason: fmt.Sprintf("must be positive, got %d", c.Workers)}
	}
	if c.Retries < 1 {
		return &uploaderr.ConfigurationError{Field: "MEDIA_UPLOAD_RETRIES", Reason: fmt.Sprintf("must be positive, got %d", c.Retries)}
	}
	if c.RetryMultiplier < 1 {
		return &uploaderr.ConfigurationError{Field: "MEDIA_UPLOAD_RETRY_MULTIPLIER", Reason: fmt.Sprintf("must be at least 1, got %v", c.RetryMultiplier)}
	}
	if c.RateLimitMultiplier < 1 {
		return &uploaderr.ConfigurationError{Field: "MEDIA_UPLOAD_RATE_LIMIT_MULTIPLIER", Reason: fmt.Sprintf("must be at least 1, got %v", c.RateLimitMultiplier)}
	}
	if c.DefaultPartSize < 0 {
		return &uploaderr.ConfigurationError{Field: "MEDIA_DEFAULT_PART_SIZE", Reason: fmt.Sprintf("must be positive, got %d", c.DefaultPartSize)}
	}

	if _, err := c.UploaderConfig(); err != nil {
		return err
	}

	return c.validateStateBackend()
}

func (c *Config) validateStateBackend() error {
	switch c.StateBackend {
	case StateBackendFile, StateBackendBadger:
	case StateBackendS3:
		if c.StateS3Bucket == "" {
			return &uploaderr.ConfigurationError{Field: "MEDIA_STATE_S3_BUCKET", Reason: "required by the s3 state backend"}
		}
		if c.StateS3Region == "" {
			return &uploaderr.ConfigurationError{Field: "MEDIA_STATE_S3_REGION", Reason: "required by the s3 state backend"}
		}
	default:
		return &uploaderr.ConfigurationError{Field: "MEDIA_STATE_BACKEND", Reason: fmt.Sprintf("unknown backend %q, use one of file, badger, s3", c.StateBackend)}
	}
	return nil
}

// RetryPolicy ...
func (c Config) RetryPolicy() (chunkuploader.RetryPolicy, error) {
	baseDelay, err := parseDuration("MEDIA_UPLOAD_RETRY_BASE_DELAY", c.RetryBaseDelay)
	if err != nil {
		return chunkuploader.RetryPolicy{}, err
	}

	policy := chunkuploader.DefaultRetryPolicy()
	policy.MaxAttempts = c.Retries
	policy.BaseDelay = baseDelay
	policy.Multiplier = c.RetryMultiplier
	policy.RateLimitMultiplier = c.RateLimitMultiplier
	return policy, nil
}

// UploaderConfig returns the part uploader settings.
func (c Config) UploaderConfig() (chunkuploader.Config, error) {
	policy, err := c.RetryPolicy()
	if err != nil {
		return chunkuploader.Config{}, err
	}
	requestTimeout, err := parseDuration("MEDIA_UPLOAD_REQUEST_TIMEOUT", c.RequestTimeout)
	if err != nil {
		return chunkuploader.Config{}, err
	}
	hungThreshold, err := parseDuration("MEDIA_UPLOAD_HUNG_THRESHOLD", c.HungThreshold)
	if err != nil {
		return chunkuploader.Config{}, err
	}

	return chunkuploader.Config{
		Concurrency:    c.Workers,
		Retry:          policy,
		RequestTimeout: requestTimeout,
		HungThreshold:  hungThreshold,
	}, nil
}

// NetworkParams returns the negotiate and commit client settings.
func (c Config) NetworkParams() (network.Params, error) {
	uploaderConfig, err := c.UploaderConfig()
	if err != nil {
		return network.Params{}, err
	}

	return network.Params{
		InitURL:         c.InitURL,
		CommitURL:       c.CommitURL,
		PartURL:         c.PartURL,
		DefaultPartSize: c.DefaultPartSize,
		Retry:           uploaderConfig.Retry,
		RequestTimeout:  uploaderConfig.RequestTimeout,
	}, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &uploaderr.ConfigurationError{Field: field, Reason: err.Error()}
	}
	if d < 0 {
		return 0, &uploaderr.ConfigurationError{Field: field, Reason: fmt.Sprintf("must not be negative, got %s", value)}
	}
	return d, nil
}
