// Package config defines default configuration, control sets, and the
// evidence directory layout.
package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
)

// ErrInvalidConfig marks configuration problems that must abort a run
// before any output is written.
var ErrInvalidConfig = errors.New("invalid configuration")

// Control identifiers referenced by the built-in rules.
const (
	ControlLogging   = "ID-LOG-01"
	ControlPurpose   = "ID-PUR-01"
	ControlAccess    = "ID-ACC-01"
	ControlMinimize  = "ID-MIN-01"
	ControlRetention = "ID-RET-01"

	// ChangeManagement tags the synthetic finding raised by CI/CD gates.
	ChangeManagement = "CHANGE-MGMT"
)

// Defaults.
const (
	DefaultWindowSec = 60
	DefaultRelease   = "r1"

	// DefaultMaxWindows bounds the span of one rollup.
	DefaultMaxWindows = 100_000
	// MaxTimestamp bounds usable event times in either direction, 9999-12-31T23:59:59Z.
	// Larger values are almost always milli- or microsecond stamps.
	MaxTimestamp = 253402300799
)

// TimestampPolicy decides what happens to events without a numeric ts.
type TimestampPolicy string

const (
	// TimestampNow windows such events at the run's wall-clock time.
	TimestampNow TimestampPolicy = "now"
	// TimestampQuarantine drops such events and counts them.
	TimestampQuarantine TimestampPolicy = "quarantine"
)

// EndpointRule maps an event type substring to a logical endpoint and the
// controls a request to that endpoint exercises.
type EndpointRule struct {
	Match    string
	Endpoint string
	Controls []string
}

// CoreControls returns the controls evaluated per window.
func CoreControls() []string {
	return []string{ControlAccess, ControlLogging, ControlPurpose}
}

// DefaultEndpointRules returns the endpoint table. Rules are checked in order.
func DefaultEndpointRules() []EndpointRule {
	return []EndpointRule{
		{
			Match:    "wallet",
			Endpoint: "wallet/verify",
			Controls: []string{ControlLogging, ControlPurpose, ControlAccess, ControlMinimize},
		},
		{
			Match:    "onboarding",
			Endpoint: "onboarding/process",
			Controls: []string{ControlLogging, ControlPurpose, ControlAccess, ControlRetention},
		},
	}
}

// RequiredLogFields is the minimum field set of a decision-log record.
func RequiredLogFields() []string {
	return []string{"control_id", "decision_id", "environment_id", "policy_bundle_digest", "release_id", "timestamp"}
}

// WindowConfig holds aggregation settings.
type WindowConfig struct {
	// WindowSec is the window length in seconds.
	WindowSec int64
	// TimestampPolicy applies to events without a numeric ts.
	TimestampPolicy TimestampPolicy
	// Endpoints drives per-control seen counts.
	Endpoints []EndpointRule
	// CoreControls are checked for missingness in every window.
	CoreControls []string
	// RequiredLogFields is the decision-log schema.
	RequiredLogFields []string
	// MaxWindows caps the number of windows in a rollup. Zero means
	// DefaultMaxWindows.
	MaxWindows int
}

// WindowLimit returns the effective window cap.
func (w WindowConfig) WindowLimit() int {
	if w.MaxWindows <= 0 {
		return DefaultMaxWindows
	}
	return w.MaxWindows
}

// DefaultWindowConfig returns the default aggregation settings.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		WindowSec:         DefaultWindowSec,
		TimestampPolicy:   TimestampNow,
		Endpoints:         DefaultEndpointRules(),
		CoreControls:      CoreControls(),
		RequiredLogFields: RequiredLogFields(),
		MaxWindows:        DefaultMaxWindows,
	}
}

// Validate rejects settings the aggregator cannot work with.
func (w WindowConfig) Validate() error {
	if w.WindowSec <= 0 {
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidConfig, w.WindowSec)
	}
	switch w.TimestampPolicy {
	case TimestampNow, TimestampQuarantine:
	default:
		return fmt.Errorf("%w: unknown timestamp policy %q", ErrInvalidConfig, w.TimestampPolicy)
	}
	if w.MaxWindows < 0 {
		return fmt.Errorf("%w: max windows must not be negative, got %d", ErrInvalidConfig, w.MaxWindows)
	}
	if len(w.CoreControls) == 0 {
		return fmt.Errorf("%w: no core controls configured", ErrInvalidConfig)
	}
	return nil
}

// Paths is the on-disk layout of evidence and generated artifacts.
// All fields except Root are slash-separated and relative to Root so they
// double as storage keys and as resource hrefs.
type Paths struct {
	Root        string
	EvidenceDir string
	OSCALDir    string
	MetricsDir  string
	BundleFile  string
}

// DefaultPaths returns the standard layout under root.
func DefaultPaths(root string) Paths {
	return Paths{
		Root:        root,
		EvidenceDir: "out/evidence",
		OSCALDir:    "out/oscal",
		MetricsDir:  "out/metrics",
		BundleFile:  "bundle/bundle.tar.gz",
	}
}

func (p Paths) DecisionLog() string   { return path.Join(p.EvidenceDir, "opa_decisions.jsonl") }
func (p Paths) EventLog() string      { return path.Join(p.EvidenceDir, "events.jsonl") }
func (p Paths) DeletionDir() string   { return path.Join(p.EvidenceDir, "deletions") }
func (p Paths) CIReportDir() string   { return path.Join(p.EvidenceDir, "ci_reports") }
func (p Paths) CDGateDir() string     { return path.Join(p.EvidenceDir, "cd_gates") }
func (p Paths) WindowsDir() string    { return path.Join(p.EvidenceDir, "monitoring", "windows") }
func (p Paths) Rollup() string        { return path.Join(p.EvidenceDir, "monitoring", "rollup.json") }
func (p Paths) RegistryIndex() string { return path.Join(p.OSCALDir, "index.json") }
func (p Paths) MetricsFile() string   { return path.Join(p.MetricsDir, "eviid.prom") }

// ReleaseDir is the output directory of one release's documents.
func (p Paths) ReleaseDir(release string) string { return path.Join(p.OSCALDir, release) }

// Abs resolves a relative key against Root.
func (p Paths) Abs(key string) string {
	return filepath.Join(p.Root, filepath.FromSlash(key))
}

// Validate checks that the layout is usable.
func (p Paths) Validate() error {
	if p.Root == "" {
		return fmt.Errorf("%w: root directory is required", ErrInvalidConfig)
	}
	for name, rel := range map[string]string{"evidence": p.EvidenceDir, "oscal": p.OSCALDir, "metrics": p.MetricsDir} {
		if rel == "" || path.IsAbs(rel) || !filepath.IsLocal(filepath.FromSlash(rel)) {
			return fmt.Errorf("%w: %s directory %q must be relative to the root", ErrInvalidConfig, name, rel)
		}
	}
	return nil
}

var releasePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRelease rejects release ids that are unsafe as directory names.
func ValidateRelease(id string) error {
	if !releasePattern.MatchString(id) {
		return fmt.Errorf("%w: release id %q must match %s", ErrInvalidConfig, id, releasePattern)
	}
	return nil
}
