package chunkuploader

import (
	"net/http"
	"time"
)

// DefaultConcurrency is the number of parts uploaded in parallel when nothing else is configured.
const DefaultConcurrency = 4

// Config holds configuration for the part uploader.
type Config struct {
	// Concurrency is the maximum number of parts in flight at once.
	// Default: 4
	Concurrency int

	// Retry controls how many attempts a part gets and how long to wait between them.
	Retry RetryPolicy

	// RequestTimeout bounds a single part upload attempt. Zero means no per attempt timeout.
	// Default: 60 seconds
	RequestTimeout time.Duration

	// HungThreshold is the duration after which an attempt is considered hung
	// if it exceeds the average part upload time by this amount.
	// Default: 30 seconds
	HungThreshold time.Duration

	// HTTPClient is the HTTP client to use for uploads.
	// If nil, a default optimized client will be created.
	HTTPClient *http.Client

	// Metrics is optional.
	Metrics Metrics
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    DefaultConcurrency,
		Retry:          DefaultRetryPolicy(),
		RequestTimeout: 60 * time.Second,
		HungThreshold:  30 * time.Second,
	}
}

// DefaultHTTPClient creates an HTTP client tuned for many small multipart uploads to one host.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// Attempt timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
