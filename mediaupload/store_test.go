package mediaupload

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendcast/go-mediautils/state"
	"github.com/trendcast/go-mediautils/uploaderr"
)

func TestNewStore_File(t *testing.T) {
	config := Config{DryRun: true, OutputDir: t.TempDir()}
	require.NoError(t, config.Validate())

	store, closeStore, err := NewStore(context.Background(), config, log.NewLogger())
	require.NoError(t, err)
	require.NoError(t, closeStore())

	fileStore, ok := store.(*state.FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(config.OutputDir, "upload_state_u1.json"), fileStore.Path("u1"))
}

func TestNewStore_Badger(t *testing.T) {
	config := Config{DryRun: true, OutputDir: t.TempDir(), StateBackend: StateBackendBadger}
	require.NoError(t, config.Validate())
	ctx := context.Background()

	store, closeStore, err := NewStore(ctx, config, log.NewLogger())
	require.NoError(t, err)
	require.IsType(t, &state.BadgerStore{}, store)

	st := state.New("u1")
	require.NoError(t, store.Record(ctx, st, 1, "aa", nil))
	require.NoError(t, closeStore())

	store, closeStore, err = NewStore(ctx, config, log.NewLogger())
	require.NoError(t, err)
	defer closeStore() //nolint:errcheck

	reloaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reloaded.IsDone(1))
}

func TestNewStore_S3RequiresBucket(t *testing.T) {
	config := Config{DryRun: true, OutputDir: t.TempDir(), StateBackend: StateBackendS3, StateS3Region: "eu-west-1"}

	_, _, err := NewStore(context.Background(), config, log.NewLogger())

	var configErr *uploaderr.ConfigurationError
	require.ErrorAs(t, err, &configErr)
}
