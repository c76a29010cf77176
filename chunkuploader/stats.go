package chunkuploader

import (
	"sync"
	"time"
)

// Stats tracks part upload timings for hung detection and the final summary.
type Stats struct {
	sum           time.Duration
	finishedParts int64
	bytes         int64
	skippedParts  int64
	retries       int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful part upload of size bytes.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += size
	s.finishedParts++
}

// Skipped records parts that were already confirmed by an earlier run.
func (s *Stats) Skipped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skippedParts += int64(n)
}

// Retried records one repeated attempt.
func (s *Stats) Retried() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

// Average returns the average upload duration of completed parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedParts == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedParts)
}

// FinishedCount returns the number of parts uploaded in this run.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedParts
}

// SkippedCount ...
func (s *Stats) SkippedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skippedParts
}

// RetryCount ...
func (s *Stats) RetryCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// UploadedBytes returns the payload bytes confirmed in this run.
func (s *Stats) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// TotalDuration returns the sum of all part upload durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
