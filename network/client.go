// Package network talks to the remote media service: it opens upload sessions and commits them.
// Part uploads themselves are sent by the chunkuploader package.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/trendcast/go-mediautils/chunkuploader"
	"github.com/trendcast/go-mediautils/uploaderr"
)

// DefaultPartSize is used when the service does not dictate a part size.
const DefaultPartSize int64 = 5 * 1024 * 1024

const maxErrorBody = 1024

// Params ...
type Params struct {
	InitURL   string
	CommitURL string
	// PartURL is where parts go when the session carries no url template.
	PartURL string

	DefaultPartSize int64
	Retry           chunkuploader.RetryPolicy
	RequestTimeout  time.Duration
}

type initiateRequest struct {
	FileSize int64 `json:"file_size"`
}

type initiateResponse struct {
	UploadID          string `json:"upload_id"`
	PartSize          int64  `json:"part_size"`
	UploadURLTemplate string `json:"upload_url_template"`
}

type commitRequest struct {
	UploadID string `json:"upload_id"`
}

// CommitResult is the asset descriptor returned by the service once a session is committed.
type CommitResult map[string]interface{}

// Status returns the "status" field, if any.
func (r CommitResult) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Client opens and commits upload sessions.
type Client struct {
	params          Params
	negotiateClient *retryablehttp.Client
	commitClient    *retryablehttp.Client
	logger          log.Logger
}

// NewClient ...
func NewClient(params Params, logger log.Logger) *Client {
	if params.DefaultPartSize <= 0 {
		params.DefaultPartSize = DefaultPartSize
	}

	// Initiation is never retried.
	negotiateClient := retryhttp.NewClient(logger)
	negotiateClient.RetryMax = 0
	negotiateClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	negotiateClient.HTTPClient.Timeout = params.RequestTimeout

	commitClient := retryhttp.NewClient(logger)
	commitClient.RetryMax = params.Retry.Attempts() - 1
	commitClient.Backoff = createBackoff(params.Retry)
	commitClient.CheckRetry = createCustomRetryFunction(logger)
	commitClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	commitClient.HTTPClient.Timeout = params.RequestTimeout

	return &Client{
		params:          params,
		negotiateClient: negotiateClient,
		commitClient:    commitClient,
		logger:          logger,
	}
}

// Negotiate opens a session for a file of fileSize bytes.
func (c *Client) Negotiate(ctx context.Context, token string, fileSize int64) (chunkuploader.Session, error) {
	if c.params.InitURL == "" {
		return chunkuploader.Session{}, &uploaderr.ConfigurationError{Field: "init upload url", Reason: "must not be empty"}
	}
	if token == "" {
		return chunkuploader.Session{}, &uploaderr.AuthError{Reason: "access token is empty"}
	}

	var response initiateResponse
	if err := c.postJSON(ctx, c.negotiateClient, "initiate upload", c.params.InitURL, token, initiateRequest{FileSize: fileSize}, &response); err != nil {
		return chunkuploader.Session{}, err
	}
	if response.UploadID == "" {
		return chunkuploader.Session{}, &uploaderr.TransportError{Op: "initiate upload", StatusCode: http.StatusOK, Body: "response has no upload_id"}
	}

	partSize := response.PartSize
	if partSize <= 0 {
		c.logger.Debugf("Service did not set a part size, using %d bytes", c.params.DefaultPartSize)
		partSize = c.params.DefaultPartSize
	}

	return chunkuploader.Session{
		UploadID:        response.UploadID,
		FileSize:        fileSize,
		PartSize:        partSize,
		PartURLTemplate: response.UploadURLTemplate,
		FallbackPartURL: c.params.PartURL,
	}, nil
}

// Commit asks the service to assemble the uploaded parts of session into the final asset.
// Transport failures and throttling are retried with the configured policy.
func (c *Client) Commit(ctx context.Context, token string, session chunkuploader.Session) (CommitResult, error) {
	if c.params.CommitURL == "" {
		return nil, &uploaderr.ConfigurationError{Field: "commit upload url", Reason: "must not be empty"}
	}
	if token == "" {
		return nil, &uploaderr.AuthError{Reason: "access token is empty"}
	}

	var result CommitResult
	if err := c.postJSON(ctx, c.commitClient, "commit upload", c.params.CommitURL, token, commitRequest{UploadID: session.UploadID}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = CommitResult{}
	}
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, client *retryablehttp.Client, op, url, token string, requestBody, responseBody interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return &uploaderr.ConfigurationError{Field: op + " url", Reason: err.Error()}
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return &uploaderr.TransportError{Op: op, Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
		return &uploaderr.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func unwrapError(op string, resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &uploaderr.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return uploaderr.FromStatus(op, resp.StatusCode, string(errorResp))
}

func createCustomRetryFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

// createBackoff renders the retry policy as a retryablehttp backoff. attemptNum is 0 for the first retry.
func createBackoff(policy chunkuploader.RetryPolicy) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
		var lastErr error
		if resp != nil {
			lastErr = &uploaderr.TransportError{StatusCode: resp.StatusCode}
		}
		return policy.Delay(attemptNum+1, lastErr)
	}
}
