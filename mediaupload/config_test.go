package mediaupload

import (
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendcast/go-mediautils/network"
	"github.com/trendcast/go-mediautils/uploaderr"
)

func TestParseConfig(t *testing.T) {
	t.Setenv("MEDIA_INIT_UPLOAD_URL", "https://media.example.com/init")
	t.Setenv("MEDIA_PART_UPLOAD_URL", "https://media.example.com/upload")
	t.Setenv("MEDIA_COMMIT_UPLOAD_URL", "https://media.example.com/commit")
	t.Setenv("MEDIA_ACCESS_TOKEN", "token")
	t.Setenv("MEDIA_UPLOAD_WORKERS", "8")
	t.Setenv("MEDIA_UPLOAD_RETRIES", "5")
	t.Setenv("MEDIA_UPLOAD_RETRY_BASE_DELAY", "250ms")
	t.Setenv("MEDIA_STATE_BACKEND", "badger")
	t.Setenv("MEDIA_DRY_RUN", "false")

	config, err := ParseConfig(env.NewRepository())
	require.NoError(t, err)

	assert.Equal(t, "https://media.example.com/init", config.InitURL)
	assert.Equal(t, "token", string(config.AccessToken))
	assert.Equal(t, 8, config.Workers)
	assert.Equal(t, StateBackendBadger, config.StateBackend)
	assert.False(t, config.DryRun)

	uploaderConfig, err := config.UploaderConfig()
	require.NoError(t, err)
	assert.Equal(t, 8, uploaderConfig.Concurrency)
	assert.Equal(t, 5, uploaderConfig.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, uploaderConfig.Retry.BaseDelay)
	assert.Equal(t, 60*time.Second, uploaderConfig.RequestTimeout)
	assert.Equal(t, 30*time.Second, uploaderConfig.HungThreshold)
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv("MEDIA_INIT_UPLOAD_URL", "https://media.example.com/init")
	t.Setenv("MEDIA_COMMIT_UPLOAD_URL", "https://media.example.com/commit")
	t.Setenv("OUTPUT_DIR", "")

	config, err := ParseConfig(env.NewRepository())
	require.NoError(t, err)

	assert.Equal(t, 4, config.Workers)
	assert.Equal(t, 3, config.Retries)
	assert.Equal(t, StateBackendFile, config.StateBackend)
	assert.Equal(t, "./output", config.OutputDir)
	assert.Equal(t, network.DefaultPartSize, config.DefaultPartSize)

	policy, err := config.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.Equal(t, 4.0, policy.RateLimitMultiplier)
}

func TestParseConfig_InvalidNumber(t *testing.T) {
	t.Setenv("MEDIA_INIT_UPLOAD_URL", "https://media.example.com/init")
	t.Setenv("MEDIA_COMMIT_UPLOAD_URL", "https://media.example.com/commit")
	t.Setenv("MEDIA_UPLOAD_WORKERS", "many")

	_, err := ParseConfig(env.NewRepository())
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{InitURL: "https://a/init", CommitURL: "https://a/commit"}
	}

	tests := []struct {
		name      string
		modify    func(c *Config)
		wantField string
	}{
		{name: "missing init url", modify: func(c *Config) { c.InitURL = "" }, wantField: "MEDIA_INIT_UPLOAD_URL"},
		{name: "missing commit url", modify: func(c *Config) { c.CommitURL = "" }, wantField: "MEDIA_COMMIT_UPLOAD_URL"},
		{name: "negative workers", modify: func(c *Config) { c.Workers = -1 }, wantField: "MEDIA_UPLOAD_WORKERS"},
		{name: "negative retries", modify: func(c *Config) { c.Retries = -2 }, wantField: "MEDIA_UPLOAD_RETRIES"},
		{name: "shrinking backoff", modify: func(c *Config) { c.RetryMultiplier = 0.5 }, wantField: "MEDIA_UPLOAD_RETRY_MULTIPLIER"},
		{name: "shrinking rate limit backoff", modify: func(c *Config) { c.RateLimitMultiplier = 0.5 }, wantField: "MEDIA_UPLOAD_RATE_LIMIT_MULTIPLIER"},
		{name: "negative part size", modify: func(c *Config) { c.DefaultPartSize = -1 }, wantField: "MEDIA_DEFAULT_PART_SIZE"},
		{name: "bad base delay", modify: func(c *Config) { c.RetryBaseDelay = "soon" }, wantField: "MEDIA_UPLOAD_RETRY_BASE_DELAY"},
		{name: "negative request timeout", modify: func(c *Config) { c.RequestTimeout = "-1s" }, wantField: "MEDIA_UPLOAD_REQUEST_TIMEOUT"},
		{name: "bad hung threshold", modify: func(c *Config) { c.HungThreshold = "30" }, wantField: "MEDIA_UPLOAD_HUNG_THRESHOLD"},
		{name: "unknown backend", modify: func(c *Config) { c.StateBackend = "redis" }, wantField: "MEDIA_STATE_BACKEND"},
		{name: "s3 without bucket", modify: func(c *Config) { c.StateBackend = StateBackendS3; c.StateS3Region = "eu-west-1" }, wantField: "MEDIA_STATE_S3_BUCKET"},
		{name: "s3 without region", modify: func(c *Config) { c.StateBackend = StateBackendS3; c.StateS3Bucket = "b" }, wantField: "MEDIA_STATE_S3_REGION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.modify(&config)

			err := config.Validate()

			var configErr *uploaderr.ConfigurationError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.wantField, configErr.Field)
		})
	}
}

func TestConfig_ValidateDryRunNeedsNoEndpoints(t *testing.T) {
	config := Config{DryRun: true}
	require.NoError(t, config.Validate())
	assert.Equal(t, 4, config.Workers)
}

func TestConfig_NetworkParams(t *testing.T) {
	config := Config{InitURL: "https://a/init", CommitURL: "https://a/commit", PartURL: "https://a/upload", RequestTimeout: "5s"}
	require.NoError(t, config.Validate())

	params, err := config.NetworkParams()
	require.NoError(t, err)
	assert.Equal(t, "https://a/upload", params.PartURL)
	assert.Equal(t, 5*time.Second, params.RequestTimeout)
	assert.Equal(t, 3, params.Retry.MaxAttempts)
	assert.Equal(t, network.DefaultPartSize, params.DefaultPartSize)
}

func TestParseStateConfig(t *testing.T) {
	t.Setenv("MEDIA_STATE_BACKEND", "badger")
	t.Setenv("OUTPUT_DIR", "/tmp/media")

	config, err := ParseStateConfig(env.NewRepository())
	require.NoError(t, err)
	assert.Equal(t, StateBackendBadger, config.StateBackend)
	assert.Equal(t, "/tmp/media", config.OutputDir)

	t.Setenv("MEDIA_STATE_BACKEND", "s3")
	_, err = ParseStateConfig(env.NewRepository())
	var configErr *uploaderr.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "MEDIA_STATE_S3_BUCKET", configErr.Field)
}
