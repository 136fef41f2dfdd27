// Package window buckets evidence into fixed, contiguous time windows.
package window

// Window is the summary of one fixed time bucket [Start, End).
type Window struct {
	Start               int64          `json:"window_start"`
	End                 int64          `json:"window_end"`
	ControlsSeen        map[string]int `json:"controls_seen"`
	AllowCount          int            `json:"allow_count"`
	DenyCount           int            `json:"deny_count"`
	LatencyP50          *float64       `json:"lat_ms_p50"`
	LatencyP95          *float64       `json:"lat_ms_p95"`
	LogSchemaOK         int            `json:"log_schema_ok"`
	LogSchemaBad        int            `json:"log_schema_bad"`
	DeletionEvents      int            `json:"deletion_events"`
	MissingCoreControls []string       `json:"missing_core_controls"`
}

// Rollup is the ordered collection of every window of a run.
type Rollup struct {
	WindowSec         int64    `json:"window_sec"`
	Windows           []Window `json:"windows"`
	QuarantinedEvents int      `json:"quarantined_events,omitempty"`
	Note              string   `json:"note,omitempty"`
}

// NoEvidenceNote marks a rollup built from empty logs.
const NoEvidenceNote = "no evidence"

// Empty reports whether the rollup carries no windows at all.
func (r *Rollup) Empty() bool {
	return r == nil || len(r.Windows) == 0
}

// Span returns the covered interval [start, end). Both are zero for an
// empty rollup.
func (r *Rollup) Span() (start, end int64) {
	if r.Empty() {
		return 0, 0
	}
	return r.Windows[0].Start, r.Windows[len(r.Windows)-1].End
}

// Placeholder is written instead of window files when there is no evidence.
type Placeholder struct {
	WindowSec int64  `json:"window_sec"`
	Note      string `json:"note"`
}
