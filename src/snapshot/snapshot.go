// Package snapshot turns Jenkins workflow descriptions into immutable
// point-in-time views of a build and renders them as text.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// BuildIdentity names one build of one job.
type BuildIdentity struct {
	JobName     string `json:"job_name"`
	BuildNumber int    `json:"build_number"`
}

// Key is the stable identifier used for event keys and logs.
func (b BuildIdentity) Key() string {
	return b.JobName + "#" + strconv.Itoa(b.BuildNumber)
}

func (b BuildIdentity) String() string {
	return fmt.Sprintf("%s #%d", b.JobName, b.BuildNumber)
}

// Stage is one pipeline stage at the time of the snapshot.
type Stage struct {
	Name           string `json:"name"`
	Status         Status `json:"status"`
	DurationMillis int64  `json:"duration_millis"`
}

// PipelineSnapshot is the state of a build at one poll. OverallStatus is the
// upstream string verbatim so summaries show exactly what Jenkins reported.
type PipelineSnapshot struct {
	Build               BuildIdentity `json:"build"`
	Stages              []Stage       `json:"stages"`
	TotalDurationMillis int64         `json:"total_duration_millis"`
	OverallStatus       string        `json:"overall_status"`
	IsBuilding          bool          `json:"is_building"`
}

// SuccessfulStages counts stages that finished with SUCCESS.
func (s PipelineSnapshot) SuccessfulStages() int {
	n := 0
	for _, st := range s.Stages {
		if st.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// describeResponse mirrors GET /job/{job}/{build}/wfapi/describe.
type describeResponse struct {
	Status         string `json:"status"`
	DurationMillis int64  `json:"durationMillis"`
	Stages         []struct {
		Name           string `json:"name"`
		Status         string `json:"status"`
		DurationMillis int64  `json:"durationMillis"`
	} `json:"stages"`
}

// buildingStatuses are top-level statuses for which Jenkins is still working.
var buildingStatuses = map[string]bool{
	"IN_PROGRESS":          true,
	"RUNNING":              true,
	"QUEUED":               true,
	"PAUSED_PENDING_INPUT": true,
}

// Build parses a workflow description into a snapshot. Missing stages,
// missing durations and unrecognised statuses are tolerated; only malformed
// JSON is an error.
func Build(id BuildIdentity, raw []byte) (PipelineSnapshot, error) {
	var resp describeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return PipelineSnapshot{}, fmt.Errorf("failed to decode pipeline description: %w", err)
	}

	snap := PipelineSnapshot{
		Build:               id,
		Stages:              make([]Stage, 0, len(resp.Stages)),
		TotalDurationMillis: max(resp.DurationMillis, 0),
		OverallStatus:       resp.Status,
	}
	if snap.OverallStatus == "" {
		snap.OverallStatus = string(StatusUnknown)
	}

	anyActive := false
	for _, st := range resp.Stages {
		stage := Stage{
			Name:           st.Name,
			Status:         ParseStatus(st.Status),
			DurationMillis: max(st.DurationMillis, 0),
		}
		anyActive = anyActive || stage.Status.Active()
		snap.Stages = append(snap.Stages, stage)
	}

	snap.IsBuilding = buildingStatuses[resp.Status] || (resp.Status == "" && anyActive)
	return snap, nil
}
