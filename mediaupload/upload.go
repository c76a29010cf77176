// Package mediaupload uploads a media file to the remote service as a resumable, chunked session:
// negotiate, plan, upload the missing parts, commit.
package mediaupload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/trendcast/go-mediautils/chunkuploader"
	"github.com/trendcast/go-mediautils/metrics"
	"github.com/trendcast/go-mediautils/network"
	"github.com/trendcast/go-mediautils/state"
	"github.com/trendcast/go-mediautils/uploaderr"
)

// UploadParams ...
type UploadParams struct {
	FilePath string
	// Title is only used for logs and the dry run preview.
	Title   string
	Config  Config
	Metrics *metrics.Prometheus
}

// SessionClient opens and commits upload sessions. network.Client is the production implementation.
type SessionClient interface {
	Negotiate(ctx context.Context, token string, fileSize int64) (chunkuploader.Session, error)
	Commit(ctx context.Context, token string, session chunkuploader.Session) (network.CommitResult, error)
}

// Uploader runs uploads with a fixed configuration, session client and state store.
type Uploader struct {
	config       Config
	logger       log.Logger
	pathModifier pathutil.PathModifier
	client       SessionClient
	store        state.Store
	metrics      *metrics.Prometheus
}

// Upload validates params.Config, opens the configured state store and uploads params.FilePath.
func Upload(ctx context.Context, params UploadParams, logger log.Logger) (network.CommitResult, error) {
	config := params.Config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var store state.Store
	if !config.DryRun {
		var closeStore func() error
		var err error
		store, closeStore, err = NewStore(ctx, config, logger)
		if err != nil {
			return nil, fmt.Errorf("open upload state: %w", err)
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.Warnf("Failed to close upload state: %s", err)
			}
		}()
	}

	uploader, err := NewUploader(config, logger, nil, store, params.Metrics)
	if err != nil {
		return nil, err
	}
	return uploader.Upload(ctx, params.FilePath, params.Title)
}

// NewUploader creates an Uploader. `client` can be nil, unless you want to provide a custom `SessionClient`
// implementation. config must already be validated.
func NewUploader(config Config, logger log.Logger, client SessionClient, store state.Store, m *metrics.Prometheus) (*Uploader, error) {
	if client == nil {
		params, err := config.NetworkParams()
		if err != nil {
			return nil, err
		}
		client = network.NewClient(params, logger)
	}

	return &Uploader{
		config:       config,
		logger:       logger,
		pathModifier: pathutil.NewPathModifier(),
		client:       client,
		store:        store,
		metrics:      m,
	}, nil
}

// Upload sends filePath to the service and returns the committed asset descriptor.
// Parts confirmed by an earlier run of the same session are not sent again. Commit is only
// attempted once every planned part is confirmed in the state store.
func (u *Uploader) Upload(ctx context.Context, filePath, title string) (network.CommitResult, error) {
	u.logger.TDebugf("Upload start")
	defer func() {
		u.logger.TDebugf("Upload done")
	}()

	absPath, err := u.pathModifier.AbsPath(filePath)
	if err != nil {
		return nil, &uploaderr.IOError{Path: filePath, Err: err}
	}
	if title == "" {
		title = filepath.Base(absPath)
	}

	if u.config.DryRun {
		outputDir, err := u.pathModifier.AbsPath(u.config.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("resolve output dir %s: %w", u.config.OutputDir, err)
		}
		return u.dryRun(outputDir, absPath, title)
	}
	if u.store == nil {
		return nil, &uploaderr.ConfigurationError{Field: "state store", Reason: "not configured"}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, &uploaderr.IOError{Path: absPath, Err: err}
	}
	if info.IsDir() {
		return nil, &uploaderr.IOError{Path: absPath, Err: errors.New("is a directory")}
	}

	provider, err := chunkuploader.NewFileChunkProvider(absPath)
	if err != nil {
		return nil, &uploaderr.IOError{Path: absPath, Err: err}
	}
	defer func() {
		if err := provider.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", absPath, err)
		}
	}()

	start := time.Now()
	result, err := u.upload(ctx, provider, title)
	u.metrics.UploadFinished(err, time.Since(start))
	return result, err
}

func (u *Uploader) upload(ctx context.Context, provider *chunkuploader.FileChunkProvider, title string) (network.CommitResult, error) {
	token := string(u.config.AccessToken)
	fileSize := provider.Size()

	u.logger.Println()
	u.logger.Infof("Uploading %s (%s)", title, units.HumanSizeWithPrecision(float64(fileSize), 3))

	session, err := u.client.Negotiate(ctx, token, fileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate upload: %w", err)
	}
	u.logger.Printf("Upload session: %s", session.UploadID)
	u.logger.TDebugf("Session negotiated")

	parts, err := chunkuploader.Plan(fileSize, session.PartSize)
	if err != nil {
		return nil, err
	}
	u.logger.Debugf("Planned %d parts of %d bytes", len(parts), session.PartSize)

	st, err := u.store.Load(ctx, session.UploadID)
	if err != nil {
		return nil, err
	}
	u.logger.TDebugf("State loaded")

	uploaderConfig, err := u.config.UploaderConfig()
	if err != nil {
		return nil, err
	}
	if u.metrics != nil {
		uploaderConfig.Metrics = u.metrics
	}
	partUploader := chunkuploader.New(uploaderConfig, u.store, u.logger)
	defer partUploader.CloseIdleConnections()

	uploadStartTime := time.Now()
	if err := partUploader.UploadAll(ctx, session, token, provider, parts, st); err != nil {
		return nil, fmt.Errorf("upload of session %s failed: %w", session.UploadID, err)
	}
	u.logger.TDebugf("Parts uploaded")

	for _, p := range parts {
		if !st.IsDone(p.Number) {
			return nil, &uploaderr.PartUploadError{PartNumber: p.Number, Err: errors.New("part is not confirmed in upload state")}
		}
	}

	u.logger.Println()
	u.logger.Infof("Committing upload...")
	result, err := u.client.Commit(ctx, token, session)
	if err != nil {
		return nil, fmt.Errorf("failed to commit upload %s: %w", session.UploadID, err)
	}
	u.logger.Donef("Upload %s committed in %s", session.UploadID, time.Since(uploadStartTime).Round(time.Millisecond))

	return result, nil
}
