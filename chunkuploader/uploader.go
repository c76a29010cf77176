package chunkuploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/trendcast/go-mediautils/state"
	"github.com/trendcast/go-mediautils/uploaderr"
)

var errAborted = errors.New("upload aborted")

const (
	multipartField  = "file"
	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 1024
)

// Uploader handles parallel part uploads with retry, checksum verification and hung detection.
type Uploader struct {
	config  Config
	client  *resty.Client
	store   state.Store
	logger  log.Logger
	stats   *Stats
	metrics Metrics
}

// New creates a new Uploader which records confirmed parts in store.
func New(config Config, store state.Store, logger log.Logger) *Uploader {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency
	}

	client := resty.NewWithClient(httpClient)
	client.SetLogger(logger)

	return &Uploader{
		config:  config,
		client:  client,
		store:   store,
		logger:  logger,
		stats:   NewStats(),
		metrics: config.Metrics,
	}
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	if transport, ok := u.client.GetClient().Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// UploadAll uploads every part of parts that st does not already list as done.
// At most Config.Concurrency parts are in flight. After the first part fails for good no new parts
// are started and no new attempts are made; requests already on the wire are left to finish and
// are still recorded if they succeed. The first failure is returned.
func (u *Uploader) UploadAll(ctx context.Context, session Session, token string, provider ChunkProvider, parts []Part, st *state.State) error {
	var pending []Part
	for _, p := range parts {
		if !st.IsDone(p.Number) {
			pending = append(pending, p)
		}
	}

	skipped := len(parts) - len(pending)
	if skipped > 0 {
		u.stats.Skipped(skipped)
		u.logger.Infof("Resuming upload %s: %d of %d parts already uploaded", session.UploadID, skipped, len(parts))
		if u.metrics != nil {
			for i := 0; i < skipped; i++ {
				u.metrics.PartSkipped()
			}
		}
	}
	if len(pending) == 0 {
		u.logger.Donef("All %d parts of upload %s are already uploaded", len(parts), session.UploadID)
		return nil
	}

	u.logger.Infof("Uploading %d parts (%s each) with %d workers", len(pending),
		units.HumanSizeWithPrecision(float64(session.PartSize), 3), u.config.Concurrency)

	var (
		wg        sync.WaitGroup
		failOnce  sync.Once
		firstErr  error
		failed    = make(chan struct{})
		semaphore = make(chan struct{}, u.config.Concurrency)
	)
	fail := func(err error) {
		failOnce.Do(func() {
			firstErr = err
			close(failed)
		})
	}

dispatch:
	for _, part := range pending {
		select {
		case semaphore <- struct{}{}:
		case <-failed:
			break dispatch
		case <-ctx.Done():
			fail(fmt.Errorf("upload cancelled while dispatching parts: %w", ctx.Err()))
			break dispatch
		}

		select {
		case <-failed:
			<-semaphore
			break dispatch
		default:
		}

		wg.Add(1)
		go func(part Part) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := u.uploadPartWithRetry(ctx, session, token, provider, part, len(parts), st, failed); err != nil {
				fail(err)
			}
		}(part)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	u.logger.Donef("Uploaded %d parts (%s) in %s", u.stats.FinishedCount(),
		units.HumanSizeWithPrecision(float64(u.stats.UploadedBytes()), 3), u.stats.TotalDuration().Round(time.Millisecond))
	return nil
}

func (u *Uploader) uploadPartWithRetry(
	ctx context.Context,
	session Session,
	token string,
	provider ChunkProvider,
	part Part,
	totalParts int,
	st *state.State,
	abort <-chan struct{},
) error {
	url, err := session.PartURL(part.Number)
	if err != nil {
		return err
	}

	data, err := provider.GetChunk(part)
	if err != nil {
		u.failed()
		return &uploaderr.PartUploadError{PartNumber: part.Number, Err: err}
	}
	checksum := Checksum(data)

	maxAttempts := u.config.Retry.Attempts()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := u.config.Retry.Delay(attempt, lastErr)
			u.logger.Warnf("Part %d attempt %d failed: %s, retrying after %v", part.Number, attempt, lastErr, delay)
			u.stats.Retried()
			if u.metrics != nil {
				u.metrics.PartRetried(u.config.Retry.IsRateLimited(lastErr))
			}
			if err := wait(ctx, abort, delay); err != nil {
				// Abandoned after another part failed; not counted as a failure.
				if !errors.Is(err, errAborted) {
					u.failed()
				}
				return &uploaderr.PartUploadError{PartNumber: part.Number, Attempts: attempt, Err: lastErr}
			}
		}

		u.logger.Debugf("Uploading part %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			part.Number, totalParts, attempt+1, maxAttempts,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		start := time.Now()
		ack, err := u.uploadPart(ctx, url, token, part, data, checksum, attempt < maxAttempts-1)
		if err == nil {
			if err := u.store.Record(ctx, st, part.Number, checksum, ack); err != nil {
				u.failed()
				return err
			}

			took := time.Since(start)
			u.stats.Update(took, part.Length)
			if u.metrics != nil {
				u.metrics.PartUploaded(part.Length, took)
			}
			u.logger.Infof("Part %d/%d uploaded in %v (%s)", part.Number, totalParts,
				took.Round(time.Millisecond), units.HumanSizeWithPrecision(float64(part.Length), 3))
			return nil
		}

		lastErr = err
		if ctx.Err() != nil || !uploaderr.IsRetryable(err) {
			u.failed()
			return &uploaderr.PartUploadError{PartNumber: part.Number, Attempts: attempt + 1, Err: err}
		}
	}

	u.failed()
	return &uploaderr.PartUploadError{PartNumber: part.Number, Attempts: maxAttempts, Err: lastErr}
}

func (u *Uploader) failed() {
	if u.metrics != nil {
		u.metrics.PartFailed()
	}
}

// uploadPart performs one attempt and returns the acknowledgment body.
func (u *Uploader) uploadPart(ctx context.Context, url, token string, part Part, data []byte, checksum string, detectHung bool) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if u.config.RequestTimeout > 0 {
		var cancelTimeout context.CancelFunc
		attemptCtx, cancelTimeout = context.WithTimeout(attemptCtx, u.config.RequestTimeout)
		defer cancelTimeout()
	}

	// The last attempt is never cut short
	if detectHung && u.config.HungThreshold > 0 {
		go u.detectHungUpload(attemptCtx, cancel, time.Now(), part.Number)
	}

	op := fmt.Sprintf("upload part %d", part.Number)
	resp, err := u.client.R().
		SetContext(attemptCtx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader(ChecksumHeader, checksum).
		SetHeader(requestIDHeader, uuid.NewString()).
		SetHeader("Accept", "application/json").
		SetFileReader(multipartField, fmt.Sprintf("part-%d", part.Number), bytes.NewReader(data)).
		Post(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s cancelled: %w", op, ctx.Err())
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &uploaderr.TransportError{Op: op, Err: fmt.Errorf("timed out after %v: %w", u.config.RequestTimeout, err)}
		}
		return nil, &uploaderr.TransportError{Op: op, Err: err}
	}

	if !resp.IsSuccess() {
		body := resp.Body()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, uploaderr.FromStatus(op, resp.StatusCode(), string(body))
	}

	body := resp.Body()
	if remote := echoedChecksum(body); remote != "" && remote != checksum {
		return nil, &uploaderr.ChecksumMismatchError{PartNumber: part.Number, Local: checksum, Remote: remote}
	}

	return json.RawMessage(body), nil
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, start time.Time, partNumber int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung part upload (part %d); canceling request after %s (avg: %s)",
						partNumber, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

// wait sleeps for d unless ctx is done or abort is closed first.
func wait(ctx context.Context, abort <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-abort:
		return errAborted
	}
}
