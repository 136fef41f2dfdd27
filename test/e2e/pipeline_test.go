//go:build e2e

package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestPipeline runs summarize, export and verify as separate processes,
// then corrupts one evidence file.
func TestPipeline(t *testing.T) {
	root := SeedEvidence(t)
	flags := []string{"--root", root, "--as-of", "100", "--skip-telemetry"}

	if out, err := Eviid(t, nil, append([]string{"summarize"}, flags...)...); err != nil {
		t.Fatalf("summarize failed: %v\n%s", err, out)
	}
	if out, err := Eviid(t, []string{"RELEASE_ID=r1"}, append([]string{"export"}, flags...)...); err != nil {
		t.Fatalf("export failed: %v\n%s", err, out)
	}

	data, err := os.ReadFile(filepath.Join(root, "out", "oscal", "r1", "assessment-results.json"))
	if err != nil {
		t.Fatalf("assessment results not written: %v", err)
	}
	var doc struct {
		AR struct {
			Results []struct {
				Findings []json.RawMessage `json:"findings"`
			} `json:"results"`
		} `json:"assessment-results"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if n := len(doc.AR.Results[0].Findings); n != 0 {
		t.Errorf("expected no findings for complete evidence, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "oscal", "r1", "poam.json")); !os.IsNotExist(err) {
		t.Errorf("poam.json should not exist without findings")
	}

	if out, err := Eviid(t, nil, append([]string{"verify", "--release", "r1"}, flags...)...); err != nil {
		t.Fatalf("verify failed on untouched evidence: %v\n%s", err, out)
	}

	WriteFile(t, root, "out/evidence/ci_reports/opa_test.json", `{"tool":"opa test","returncode":1}`)
	out, err := Eviid(t, nil, append([]string{"verify", "--release", "r1"}, flags...)...)
	if err == nil {
		t.Fatalf("verify should fail after tampering\n%s", out)
	}

	if out, err := Eviid(t, nil, append([]string{"coverage"}, flags...)...); err != nil {
		t.Fatalf("coverage failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "metrics", "rq1_coverage.csv")); err != nil {
		t.Errorf("coverage table missing: %v", err)
	}
}

// TestLegacyWindowEnv checks that the unprefixed WINDOW_SEC still applies.
func TestLegacyWindowEnv(t *testing.T) {
	root := SeedEvidence(t)
	out, err := Eviid(t, []string{"WINDOW_SEC=300"}, "summarize", "--root", root, "--as-of", "100", "--skip-telemetry")
	if err != nil {
		t.Fatalf("summarize failed: %v\n%s", err, out)
	}
	var rollup struct {
		WindowSec int64             `json:"window_sec"`
		Windows   []json.RawMessage `json:"windows"`
	}
	data, err := os.ReadFile(filepath.Join(root, "out", "evidence", "monitoring", "rollup.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &rollup); err != nil {
		t.Fatal(err)
	}
	if rollup.WindowSec != 300 || len(rollup.Windows) != 1 {
		t.Errorf("expected one 300s window, got window_sec=%d windows=%d", rollup.WindowSec, len(rollup.Windows))
	}
}

// TestCISafety ensures the CLI behaves in a bare CI environment: no AWS
// credentials, no config file, no evidence.
func TestCISafety(t *testing.T) {
	root := t.TempDir()
	WriteFile(t, root, "traceability/traceability.yaml", catalog)

	out, err := Eviid(t, []string{"GITHUB_ACTIONS=true"}, "run", "--root", root, "--skip-telemetry")
	if err != nil {
		t.Fatalf("run crashed without evidence: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "oscal", "r1", "poam.json")); err != nil {
		t.Errorf("missing evidence should produce a POA&M: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "evidence", "monitoring", "windows", "window_empty.json")); err != nil {
		t.Errorf("placeholder window not written: %v", err)
	}
}
