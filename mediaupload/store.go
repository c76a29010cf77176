package mediaupload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/trendcast/go-mediautils/state"
)

const badgerDirName = "upload_state.badger"

// NewStore opens the state backend selected by config. The returned close func must be called once the
// store is no longer needed.
func NewStore(ctx context.Context, config Config, logger log.Logger) (state.Store, func() error, error) {
	noop := func() error { return nil }

	outputDir, err := pathutil.NewPathModifier().AbsPath(config.OutputDir)
	if err != nil {
		return nil, noop, fmt.Errorf("resolve output dir %s: %w", config.OutputDir, err)
	}

	switch config.StateBackend {
	case StateBackendFile, "":
		logger.Debugf("Upload state is kept in %s", outputDir)
		return state.NewFileStore(outputDir, logger), noop, nil
	case StateBackendBadger:
		dir := filepath.Join(outputDir, badgerDirName)
		logger.Debugf("Upload state is kept in badger db %s", dir)
		store, err := state.OpenBadgerStore(dir, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case StateBackendS3:
		logger.Debugf("Upload state is kept in s3://%s/%s", config.StateS3Bucket, config.StateS3Prefix)
		store, err := state.NewS3StoreFromParams(ctx, state.S3Params{
			Bucket:          config.StateS3Bucket,
			Region:          config.StateS3Region,
			Prefix:          config.StateS3Prefix,
			AccessKeyID:     string(config.AWSAccessKeyID),
			SecretAccessKey: string(config.AWSSecretAccessKey),
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown state backend: %s", config.StateBackend)
	}
}
