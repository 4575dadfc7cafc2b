package entity

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ItemFailure struct {
	Key    string `yaml:"key"`
	Reason string `yaml:"reason"`
}

// RunStateSnapshot is the persistable view of a RunState.
type RunStateSnapshot struct {
	RunID      string        `yaml:"run_id"`
	Symbol     string        `yaml:"symbol"`
	Discovered int           `yaml:"discovered"`
	Downloaded int           `yaml:"downloaded"`
	Bytes      int64         `yaml:"bytes"`
	Errors     int           `yaml:"errors"`
	Retries    int           `yaml:"retries"`
	Completed  []string      `yaml:"completed"`
	Failed     []ItemFailure `yaml:"failed"`
	UpdatedAt  time.Time     `yaml:"updated_at"`
}

// RunState tracks the progress of one symbol run. Counters carry over when
// restored from a checkpoint. Safe for concurrent use.
type RunState struct {
	mu         sync.Mutex
	runID      string
	symbol     string
	discovered int
	downloaded int
	bytes      int64
	errors     int
	retries    int
	completed  map[string]struct{}
	failed     map[string]string
}

func NewRunState(symbol string) *RunState {
	return &RunState{
		runID:     uuid.NewString(),
		symbol:    symbol,
		completed: make(map[string]struct{}),
		failed:    make(map[string]string),
	}
}

func RestoreRunState(snap RunStateSnapshot) *RunState {
	state := &RunState{
		runID:      snap.RunID,
		symbol:     snap.Symbol,
		discovered: snap.Discovered,
		downloaded: snap.Downloaded,
		bytes:      snap.Bytes,
		errors:     snap.Errors,
		retries:    snap.Retries,
		completed:  make(map[string]struct{}, len(snap.Completed)),
		failed:     make(map[string]string, len(snap.Failed)),
	}

	for _, key := range snap.Completed {
		state.completed[key] = struct{}{}
	}

	for _, failure := range snap.Failed {
		state.failed[failure.Key] = failure.Reason
	}

	return state
}

func (s *RunState) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runID
}

func (s *RunState) SetDiscovered(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discovered = n
}

// AddDownloaded records one completed item and its byte count.
func (s *RunState) AddDownloaded(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.downloaded++
	s.bytes += bytes
}

func (s *RunState) IncErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors++
}

func (s *RunState) IncRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retries++
}

// MarkCompleted also clears any failure recorded for the key earlier.
func (s *RunState) MarkCompleted(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed[key] = struct{}{}
	delete(s.failed, key)
}

func (s *RunState) MarkFailed(key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed[key] = reason
}

func (s *RunState) IsCompleted(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.completed[key]

	return exists
}

// Snapshot returns a deterministic copy: key lists come out sorted.
func (s *RunState) Snapshot() RunStateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := make([]string, 0, len(s.completed))
	for key := range s.completed {
		completed = append(completed, key)
	}
	sort.Strings(completed)

	failed := make([]ItemFailure, 0, len(s.failed))
	for key, reason := range s.failed {
		failed = append(failed, ItemFailure{Key: key, Reason: reason})
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Key < failed[j].Key })

	return RunStateSnapshot{
		RunID:      s.runID,
		Symbol:     s.symbol,
		Discovered: s.discovered,
		Downloaded: s.downloaded,
		Bytes:      s.bytes,
		Errors:     s.errors,
		Retries:    s.retries,
		Completed:  completed,
		Failed:     failed,
		UpdatedAt:  time.Now(),
	}
}

// RunSummary is the driver-facing report of one pipeline run.
type RunSummary struct {
	RunID      string
	Symbol     string
	Discovered int
	Skipped    int
	Downloaded int
	Bytes      int64
	Errors     int
	Retries    int
	Failed     []ItemFailure
	Partial    bool
	Elapsed    time.Duration
}
