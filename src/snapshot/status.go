package snapshot

// Status is a stage outcome as reported by the Jenkins workflow API.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusRunning    Status = "RUNNING"
	StatusSkipped    Status = "SKIPPED"
	StatusAborted    Status = "ABORTED"
	StatusUnknown    Status = "UNKNOWN"
)

// Jenkins reports a wider vocabulary than the enum above. These are folded
// into the nearest member; anything else becomes StatusUnknown.
var statusAliases = map[string]Status{
	"NOT_EXECUTED":         StatusSkipped,
	"PAUSED_PENDING_INPUT": StatusInProgress,
	"QUEUED":               StatusInProgress,
	"UNSTABLE":             StatusFailure,
	"FAILED":               StatusFailure,
}

// ParseStatus maps an upstream status string onto Status. It never fails.
func ParseStatus(raw string) Status {
	switch s := Status(raw); s {
	case StatusSuccess, StatusFailure, StatusInProgress, StatusRunning,
		StatusSkipped, StatusAborted, StatusUnknown:
		return s
	}
	if s, ok := statusAliases[raw]; ok {
		return s
	}
	return StatusUnknown
}

// Active reports whether the stage has not finished yet.
func (s Status) Active() bool {
	return s == StatusInProgress || s == StatusRunning
}

var glyphs = map[Status]string{
	StatusSuccess:    "✅",
	StatusFailure:    "❌",
	StatusInProgress: "🔄",
	StatusRunning:    "🔄",
	StatusSkipped:    "⏭️",
	StatusAborted:    "⛔",
	StatusUnknown:    "❓",
}

// Glyph returns the display symbol for s. Values outside the enum get the
// unknown glyph.
func Glyph(s Status) string {
	if g, ok := glyphs[s]; ok {
		return g
	}
	return glyphs[StatusUnknown]
}
