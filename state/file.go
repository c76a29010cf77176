package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/trendcast/go-mediautils/internal/osproxy"
	"github.com/trendcast/go-mediautils/uploaderr"
)

const stateFilePrefix = "upload_state_"

// FileStore keeps one JSON file per upload in a directory.
// Files are replaced atomically (temp file, fsync, rename).
type FileStore struct {
	dir    string
	os     osproxy.OsProxy
	logger log.Logger
}

// NewFileStore creates a store writing into dir.
func NewFileStore(dir string, logger log.Logger) *FileStore {
	return NewFileStoreWithOS(dir, osproxy.RealOS{}, logger)
}

// NewFileStoreWithOS creates a store using the given filesystem implementation.
func NewFileStoreWithOS(dir string, osProxy osproxy.OsProxy, logger log.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		os:     osProxy,
		logger: logger,
	}
}

// Path returns the state file of the upload. The same id always maps to the same path.
func (s *FileStore) Path(uploadID string) string {
	return filepath.Join(s.dir, stateFilePrefix+escapeID(uploadID)+".json")
}

// Load ...
func (s *FileStore) Load(_ context.Context, uploadID string) (*State, error) {
	data, err := s.os.ReadFile(s.Path(uploadID))
	if errors.Is(err, fs.ErrNotExist) {
		return New(uploadID), nil
	}
	if err != nil {
		return nil, &uploaderr.StateError{UploadID: uploadID, Op: "read", Err: err}
	}

	st, err := decode(uploadID, data)
	if err != nil {
		s.logger.Warnf("Ignoring unreadable upload state %s: %s", s.Path(uploadID), err)
		return New(uploadID), nil
	}
	return st, nil
}

// Record ...
func (s *FileStore) Record(_ context.Context, st *State, partNumber int, checksum string, ack json.RawMessage) error {
	rec := Record{MD5: checksum, Resp: normalizeAck(ack)}
	err := st.apply(partNumber, rec, func(data []byte) error {
		return s.write(s.Path(st.UploadID), data)
	})
	if err != nil {
		return &uploaderr.StateError{UploadID: st.UploadID, Op: "write", Err: err}
	}
	return nil
}

// Remove ...
func (s *FileStore) Remove(_ context.Context, uploadID string) error {
	err := s.os.Remove(s.Path(uploadID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &uploaderr.StateError{UploadID: uploadID, Op: "remove", Err: err}
	}
	return nil
}

func (s *FileStore) write(path string, data []byte) error {
	if err := s.os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := s.os.CreateTemp(s.dir, "."+stateFilePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			if err := s.os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Debugf("failed to remove temp state file %s: %s", tmpPath, err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	committed = true
	return nil
}

// escapeID turns an upload id into a file name component. The mapping is reversible, so distinct ids never
// share a state record; ids made of [A-Za-z0-9._~-] are kept as they are.
func escapeID(id string) string {
	return url.QueryEscape(id)
}

// normalizeAck makes sure the stored server response is valid JSON.
func normalizeAck(ack json.RawMessage) json.RawMessage {
	if len(ack) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(ack) {
		return ack
	}
	b, err := json.Marshal(string(ack))
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
