package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/trendcast/go-mediautils/uploaderr"
)

const badgerKeyPrefix = "upload_state/"

// BadgerStore keeps one keyed record per upload in a BadgerDB database.
type BadgerStore struct {
	db     *badgerdb.DB
	logger log.Logger
}

// OpenBadgerStore opens (or creates) a database in dir with synchronous writes,
// a confirmed part is on disk once Record returns.
func OpenBadgerStore(dir string, logger log.Logger) (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger state db %s: %w", dir, err)
	}
	return NewBadgerStore(db, logger), nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badgerdb.DB, logger log.Logger) *BadgerStore {
	return &BadgerStore{
		db:     db,
		logger: logger,
	}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Load ...
func (s *BadgerStore) Load(_ context.Context, uploadID string) (*State, error) {
	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKey(uploadID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, &uploaderr.StateError{UploadID: uploadID, Op: "read", Err: err}
	}
	if data == nil {
		return New(uploadID), nil
	}

	st, err := decode(uploadID, data)
	if err != nil {
		s.logger.Warnf("Ignoring unreadable upload state for %s: %s", uploadID, err)
		return New(uploadID), nil
	}
	return st, nil
}

// Record ...
func (s *BadgerStore) Record(_ context.Context, st *State, partNumber int, checksum string, ack json.RawMessage) error {
	rec := Record{MD5: checksum, Resp: normalizeAck(ack)}
	err := st.apply(partNumber, rec, func(data []byte) error {
		return s.db.Update(func(txn *badgerdb.Txn) error {
			return txn.Set(badgerKey(st.UploadID), data)
		})
	})
	if err != nil {
		return &uploaderr.StateError{UploadID: st.UploadID, Op: "write", Err: err}
	}
	return nil
}

// Remove ...
func (s *BadgerStore) Remove(_ context.Context, uploadID string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete(badgerKey(uploadID))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return &uploaderr.StateError{UploadID: uploadID, Op: "remove", Err: err}
	}
	return nil
}

func badgerKey(uploadID string) []byte {
	return []byte(badgerKeyPrefix + uploadID)
}
