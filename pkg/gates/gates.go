// Package gates reads the change-management signals recorded by the build
// pipeline: CI tool reports and CD gate decisions.
package gates

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CIReport is one CI tool run. ReturnCode is nil when the report carries no
// usable return code, which counts as no signal.
type CIReport struct {
	Name       string
	Path       string
	Tool       string
	ReturnCode *int
}

// Failed reports whether the tool exited non-zero.
func (r CIReport) Failed() bool {
	return r.ReturnCode != nil && *r.ReturnCode != 0
}

// CDGate is one deployment gate decision for a release.
type CDGate struct {
	Path      string
	ReleaseID string
	OK        *bool
	Reasons   []string
}

// Failed reports whether the gate explicitly rejected the release.
func (g CDGate) Failed() bool {
	return g.OK != nil && !*g.OK
}

// Signals is the pipeline state that applies to one release.
type Signals struct {
	CIReports []CIReport
	CDGates   []CDGate
}

// CIFailed reports whether any CI report failed.
func (s Signals) CIFailed() bool {
	for _, r := range s.CIReports {
		if r.Failed() {
			return true
		}
	}
	return false
}

// CDFailed reports whether any CD gate for the release said not-ok.
func (s Signals) CDFailed() bool {
	for _, g := range s.CDGates {
		if g.Failed() {
			return true
		}
	}
	return false
}

// Failed reports whether either gate signal failed.
func (s Signals) Failed() bool { return s.CIFailed() || s.CDFailed() }

// Load reads every CI report in ciDir and every cd_gate_<release>_*.json in
// cdDir. Missing directories and unreadable or malformed records yield no
// signal. Results are sorted by path.
func Load(ciDir, cdDir, release string) (Signals, error) {
	var s Signals

	ciPaths, err := glob(ciDir, "*.json")
	if err != nil {
		return Signals{}, err
	}
	for _, p := range ciPaths {
		s.CIReports = append(s.CIReports, readCIReport(p))
	}

	cdPaths, err := glob(cdDir, GatePattern(release))
	if err != nil {
		return Signals{}, err
	}
	for _, p := range cdPaths {
		s.CDGates = append(s.CDGates, readCDGate(p, release))
	}
	return s, nil
}

// GatePattern is the file name pattern of CD gate records for release.
func GatePattern(release string) string {
	return fmt.Sprintf("cd_gate_%s_*.json", release)
}

func glob(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad gate pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

func readObject(path string) map[string]json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(data, &obj) != nil {
		return nil
	}
	return obj
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func readCIReport(path string) CIReport {
	r := CIReport{
		Name: strings.TrimSuffix(filepath.Base(path), ".json"),
		Path: path,
	}
	obj := readObject(path)
	if obj == nil {
		return r
	}
	_ = json.Unmarshal(obj["tool"], &r.Tool)

	var code float64
	if raw := obj["returncode"]; present(raw) && json.Unmarshal(raw, &code) == nil {
		// Round away from zero so any nonzero code stays a failure.
		rc := int(math.Copysign(math.Min(math.Ceil(math.Abs(code)), math.MaxInt32), code))
		r.ReturnCode = &rc
	}
	return r
}

func readCDGate(path, release string) CDGate {
	g := CDGate{Path: path, ReleaseID: release}
	obj := readObject(path)
	if obj == nil {
		return g
	}
	var id string
	if json.Unmarshal(obj["release_id"], &id) == nil && id != "" {
		g.ReleaseID = id
	}
	var ok bool
	if raw := obj["ok"]; present(raw) && json.Unmarshal(raw, &ok) == nil {
		g.OK = &ok
	}
	_ = json.Unmarshal(obj["reasons"], &g.Reasons)
	return g
}
