package mcp

import (
	"sync"

	"pipeline-relay/src/monitor"
	"pipeline-relay/src/snapshot"
)

// RunStore keeps monitor runs for drill-down. Runs live as long as the
// process.
type RunStore interface {
	// Store saves a finished run.
	Store(run RunRecord)
	// Get retrieves one poll of a run by its 1-based sequence number.
	Get(runID string, sequence int) (snapshot.PipelineSnapshot, bool)
	// GetAll retrieves the whole run.
	GetAll(runID string) (RunRecord, bool)
}

// InMemoryStore is a thread-safe in-memory RunStore.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

// NewInMemoryStore creates a new in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]RunRecord)}
}

func (s *InMemoryStore) Store(run RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
}

func (s *InMemoryStore) Get(runID string, sequence int) (snapshot.PipelineSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok || sequence < 1 || sequence > len(run.Snapshots) {
		return snapshot.PipelineSnapshot{}, false
	}
	return run.Snapshots[sequence-1], true
}

func (s *InMemoryStore) GetAll(runID string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	return r, ok
}

// ToManifest summarizes a run without its stage lists.
func ToManifest(run RunRecord) RunManifest {
	m := RunManifest{
		RunID: run.RunID,
		Job:   run.Job,
		Error: run.Error,
		Polls: make([]PollInfo, 0, len(run.Snapshots)),
	}
	for i, snap := range run.Snapshots {
		m.Polls = append(m.Polls, PollInfo{
			Sequence:         i + 1,
			Status:           snap.OverallStatus,
			Stages:           len(snap.Stages),
			SuccessfulStages: snap.SuccessfulStages(),
			DurationMillis:   snap.TotalDurationMillis,
		})
	}

	last, ok := run.Last()
	switch {
	case ok:
		m.Build = last.Build.BuildNumber
		m.Status = last.OverallStatus
		m.Phase = monitor.PhaseOf(last).String()
	case run.Error != "":
		m.Phase = monitor.PhaseFailed.String()
	default:
		m.Phase = monitor.PhaseTriggered.String()
	}
	return m
}
