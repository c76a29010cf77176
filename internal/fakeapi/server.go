// Package fakeapi is an in-process stand-in for the remote media upload service used by tests.
package fakeapi

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	initPath   = "/init"
	partPath   = "/upload"
	commitPath = "/commit"
)

// Options tune the fake's behaviour. The zero value accepts everything.
type Options struct {
	// Token, when set, is the only bearer token accepted.
	Token string
	// UploadID defaults to "upload-1".
	UploadID string
	// PartSize is returned by the init call; zero omits it from the response.
	PartSize int64
	// OmitUploadURL leaves the part url template out of the init response.
	OmitUploadURL bool
	// InitStatus, when set, is returned by every init call.
	InitStatus int
	// CommitFailures is the number of commits answered with CommitStatus (default 500) before one succeeds.
	CommitFailures int
	CommitStatus   int
	// PartLatency delays every part response.
	PartLatency time.Duration
	// PartFailure returns a status to reply with instead of accepting the given attempt (1-based) of a part.
	// Returning 0 accepts the part.
	PartFailure func(partNumber, attempt int) int
	// ChecksumOverride replaces the echoed digest of a part when it returns a non-empty string.
	ChecksumOverride func(partNumber int) string
}

// Server records everything the uploader sent it.
type Server struct {
	*httptest.Server

	opts Options

	mu           sync.Mutex
	parts        map[int][]byte
	attempts     map[int]int
	initBodies   []map[string]interface{}
	commitBodies []map[string]interface{}

	partRequests int64
	commits      int64
	inFlight     int64
	maxInFlight  int64
}

// New starts a fake service and closes it when t finishes.
func New(t testing.TB, opts Options) *Server {
	t.Helper()

	if opts.UploadID == "" {
		opts.UploadID = "upload-1"
	}
	if opts.CommitStatus == 0 {
		opts.CommitStatus = http.StatusInternalServerError
	}

	s := &Server{
		opts:     opts,
		parts:    map[int][]byte{},
		attempts: map[int]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(initPath, s.handleInit)
	mux.HandleFunc(partPath, s.handlePart)
	mux.HandleFunc(partPath+"/", s.handlePart)
	mux.HandleFunc(commitPath, s.handleCommit)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// InitURL ...
func (s *Server) InitURL() string { return s.URL + initPath }

// PartURL is the fixed part endpoint.
func (s *Server) PartURL() string { return s.URL + partPath }

// PartURLTemplate is the templated part endpoint returned by the init call.
func (s *Server) PartURLTemplate() string {
	return s.URL + partPath + "/{upload_id}/parts/{part_number}"
}

// CommitURL ...
func (s *Server) CommitURL() string { return s.URL + commitPath }

// PartRequests returns the number of part requests received, including rejected ones.
func (s *Server) PartRequests() int { return int(atomic.LoadInt64(&s.partRequests)) }

// Commits returns the number of commit requests received.
func (s *Server) Commits() int { return int(atomic.LoadInt64(&s.commits)) }

// MaxInFlight returns the highest number of concurrent part requests observed.
func (s *Server) MaxInFlight() int { return int(atomic.LoadInt64(&s.maxInFlight)) }

// Attempts returns how many times a part was sent.
func (s *Server) Attempts(partNumber int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[partNumber]
}

// ReceivedParts returns the accepted part numbers in ascending order.
func (s *Server) ReceivedParts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	numbers := make([]int, 0, len(s.parts))
	for n := range s.parts {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// Assembled concatenates the accepted parts in part order.
func (s *Server) Assembled() []byte {
	var buf bytes.Buffer
	for _, n := range s.ReceivedParts() {
		s.mu.Lock()
		buf.Write(s.parts[n])
		s.mu.Unlock()
	}
	return buf.Bytes()
}

// InitBodies returns the decoded bodies of the init calls.
func (s *Server) InitBodies() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.initBodies...)
}

// CommitBodies returns the decoded bodies of the commit calls.
func (s *Server) CommitBodies() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.commitBodies...)
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Token == "" || r.Header.Get("Authorization") == "Bearer "+s.opts.Token {
		return true
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid access token"})
	return false
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	body := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.initBodies = append(s.initBodies, body)
	s.mu.Unlock()

	if s.opts.InitStatus != 0 {
		writeJSON(w, s.opts.InitStatus, map[string]string{"error": "init rejected"})
		return
	}

	resp := map[string]interface{}{"upload_id": s.opts.UploadID}
	if s.opts.PartSize > 0 {
		resp["part_size"] = s.opts.PartSize
	}
	if !s.opts.OmitUploadURL {
		resp["upload_url_template"] = s.PartURLTemplate()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePart(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.partRequests, 1)
	current := atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)
	for {
		seen := atomic.LoadInt64(&s.maxInFlight)
		if current <= seen || atomic.CompareAndSwapInt64(&s.maxInFlight, seen, current) {
			break
		}
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer file.Close() //nolint:errcheck

	partNumber, err := strconv.Atoi(strings.TrimPrefix(header.Filename, "part-"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad part file name " + header.Filename})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// Draining the body lets the server notice a client that gave up on the request.
	_, _ = io.Copy(io.Discard, r.Body)

	s.mu.Lock()
	s.attempts[partNumber]++
	attempt := s.attempts[partNumber]
	s.mu.Unlock()

	if s.opts.PartLatency > 0 {
		select {
		case <-time.After(s.opts.PartLatency):
		case <-r.Context().Done():
			return
		}
	}

	if s.opts.PartFailure != nil {
		if status := s.opts.PartFailure(partNumber, attempt); status != 0 {
			writeJSON(w, status, map[string]string{"error": fmt.Sprintf("part %d rejected", partNumber)})
			return
		}
	}

	sum := md5.Sum(data) //nolint:gosec
	digest := hex.EncodeToString(sum[:])
	if got := r.Header.Get("X-Chunk-MD5"); got != "" && got != digest {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "checksum header does not match payload"})
		return
	}

	s.mu.Lock()
	s.parts[partNumber] = data
	s.mu.Unlock()

	echo := digest
	if s.opts.ChecksumOverride != nil {
		if override := s.opts.ChecksumOverride(partNumber); override != "" {
			echo = override
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"part_number": partNumber, "md5": echo, "size": len(data)})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt64(&s.commits, 1)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	body := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.commitBodies = append(s.commitBodies, body)
	s.mu.Unlock()

	if int(n) <= s.opts.CommitFailures {
		writeJSON(w, s.opts.CommitStatus, map[string]string{"error": "commit temporarily unavailable"})
		return
	}
	if body["upload_id"] != s.opts.UploadID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown upload"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"upload_id": s.opts.UploadID,
		"status":    "published",
		"parts":     len(s.ReceivedParts()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
