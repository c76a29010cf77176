// Package state persists which parts of an upload session were already confirmed by the remote service,
// so an interrupted upload can resume without sending them again.
package state

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
)

// Record is the confirmation of one uploaded part.
type Record struct {
	MD5  string          `json:"md5"`
	Resp json.RawMessage `json:"resp"`
}

// State is the progress of one upload session.
// It only grows: confirmed parts are never removed.
type State struct {
	UploadID string

	mu    sync.RWMutex
	parts map[string]Record
}

type document struct {
	UploadedParts map[string]Record `json:"uploaded_parts"`
}

// New returns an empty state for the given upload.
func New(uploadID string) *State {
	return &State{
		UploadID: uploadID,
		parts:    map[string]Record{},
	}
}

// IsDone reports whether the part was confirmed and persisted.
func (s *State) IsDone(partNumber int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.parts[key(partNumber)]
	return ok
}

// Get returns the confirmation record of a part.
func (s *State) Get(partNumber int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.parts[key(partNumber)]
	return r, ok
}

// Parts returns the confirmed part numbers in ascending order.
func (s *State) Parts() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]int, 0, len(s.parts))
	for k := range s.parts {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	sort.Ints(parts)
	return parts
}

// Len returns the number of confirmed parts.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.parts)
}

// MarshalJSON encodes the state in the persisted layout.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(document{UploadedParts: s.parts})
}

// apply sets the record of a part and persists the result while holding the write lock,
// so concurrent records are serialised and never interleave. On a failed persist the
// in-memory entry is restored, a part is never reported done before it is durable.
func (s *State) apply(partNumber int, rec Record, persist func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(partNumber)
	prev, had := s.parts[k]
	s.parts[k] = rec

	data, err := json.Marshal(document{UploadedParts: s.parts})
	if err == nil {
		err = persist(data)
	}
	if err != nil {
		if had {
			s.parts[k] = prev
		} else {
			delete(s.parts, k)
		}
		return err
	}
	return nil
}

func decode(uploadID string, data []byte) (*State, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	st := New(uploadID)
	for k, v := range doc.UploadedParts {
		st.parts[k] = v
	}
	return st, nil
}

func key(partNumber int) string {
	return strconv.Itoa(partNumber)
}

// Store owns reads and writes of persisted upload progress.
type Store interface {
	// Load returns the persisted state of the upload, or an empty state if there is none.
	Load(ctx context.Context, uploadID string) (*State, error)

	// Record marks the part done and persists it before returning.
	// Recording an already recorded part overwrites its record.
	Record(ctx context.Context, st *State, partNumber int, checksum string, ack json.RawMessage) error

	// Remove deletes the persisted state of the upload. Removing a missing state is not an error.
	Remove(ctx context.Context, uploadID string) error
}
