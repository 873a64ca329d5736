// Package contracts defines the messages the relay publishes to its broker.
package contracts

import "pipeline-relay/src/snapshot"

// Topic names used on the broker.
const (
	// TopicBuildSnapshots carries one SnapshotEvent per build poll.
	TopicBuildSnapshots = "relay.builds.snapshots"
)

// SnapshotEvent is one poll of a monitored build.
// Published to: relay.builds.snapshots
// Key: {job}#{build_number}
type SnapshotEvent struct {
	// Monitor run that produced the event.
	RunID string `json:"run_id"`
	// Poll sequence number within the run, starting at 1.
	Sequence int `json:"sequence"`
	// Structured snapshot, so consumers never re-parse rendered text.
	Snapshot snapshot.PipelineSnapshot `json:"snapshot"`
	// Set on the last event of a run.
	Final bool `json:"final"`
	// Poll failure that ended the run, if any.
	Error string `json:"error,omitempty"`
	// RFC 3339 time of the poll.
	Timestamp string `json:"timestamp"`
}

// Key returns the partition key for the event.
func (e SnapshotEvent) Key() string {
	return e.Snapshot.Build.Key()
}
