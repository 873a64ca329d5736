// Package mcp exposes the relay over the Model Context Protocol.
package mcp

import "pipeline-relay/src/snapshot"

// RunRecord is everything one trigger_and_monitor_pipeline call observed.
type RunRecord struct {
	RunID     string                      `json:"run_id"`
	Job       string                      `json:"job"`
	Snapshots []snapshot.PipelineSnapshot `json:"snapshots"`
	Error     string                      `json:"error,omitempty"`
	StartedAt string                      `json:"started_at"`
	EndedAt   string                      `json:"ended_at"`
}

// Last returns the final snapshot of the run, if any poll succeeded.
func (r RunRecord) Last() (snapshot.PipelineSnapshot, bool) {
	if len(r.Snapshots) == 0 {
		return snapshot.PipelineSnapshot{}, false
	}
	return r.Snapshots[len(r.Snapshots)-1], true
}

// RunManifest is the lightweight view of a run returned by get_monitor_run.
type RunManifest struct {
	RunID  string     `json:"run_id"`
	Job    string     `json:"job"`
	Build  int        `json:"build_number,omitempty"`
	Phase  string     `json:"phase"`
	Status string     `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`
	Polls  []PollInfo `json:"polls"`
}

// PollInfo summarizes one poll of a run.
type PollInfo struct {
	Sequence         int    `json:"sequence"`
	Status           string `json:"status"`
	Stages           int    `json:"stages"`
	SuccessfulStages int    `json:"successful_stages"`
	DurationMillis   int64  `json:"duration_ms"`
}
