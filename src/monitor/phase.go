package monitor

import "pipeline-relay/src/snapshot"

// Phase is where a monitored build is in its lifecycle.
type Phase int

const (
	PhaseTriggered Phase = iota
	PhaseQueued
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
	PhaseAborted
	PhaseUnknown
)

var phaseNames = [...]string{
	PhaseTriggered: "triggered",
	PhaseQueued:    "queued",
	PhaseRunning:   "running",
	PhaseSucceeded: "succeeded",
	PhaseFailed:    "failed",
	PhaseAborted:   "aborted",
	PhaseUnknown:   "unknown",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether the build has finished.
func (p Phase) Terminal() bool {
	return p >= PhaseSucceeded
}

// PhaseOf classifies a snapshot.
func PhaseOf(s snapshot.PipelineSnapshot) Phase {
	if s.IsBuilding {
		return PhaseRunning
	}
	switch s.OverallStatus {
	case "SUCCESS":
		return PhaseSucceeded
	case "FAILURE", "FAILED", "UNSTABLE":
		return PhaseFailed
	case "ABORTED":
		return PhaseAborted
	default:
		return PhaseUnknown
	}
}
