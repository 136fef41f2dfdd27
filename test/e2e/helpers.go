//go:build e2e

package e2e

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const catalog = `controls:
  - cid: ID-LOG-01
    category: logging
  - cid: ID-PUR-01
    category: purpose-limitation
  - cid: ID-ACC-01
    category: access
  - cid: ID-MIN-01
    category: data-minimisation
  - cid: ID-RET-01
    category: retention
`

const decision = `{"input":{"request":{"release_id":"r1","log_fields":["control_id","decision_id","environment_id","policy_bundle_digest","release_id","timestamp"]}},"result":true}`

// SeedEvidence writes a complete evidence tree for release r1 and returns
// its root.
func SeedEvidence(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	WriteFile(t, root, "traceability/traceability.yaml", catalog)
	WriteFile(t, root, "out/evidence/events.jsonl", strings.Join([]string{
		`{"type":"wallet_decision","allow":true,"ts":10,"duration_ms":12}`,
		`{"type":"onboarding_process","allow":true,"ts":30,"duration_ms":48}`,
		`{"type":"wallet_decision","allow":false,"ts":70}`,
	}, "\n")+"\n")
	WriteFile(t, root, "out/evidence/opa_decisions.jsonl", decision+"\n")
	WriteFile(t, root, "out/evidence/deletions/deletion_r1.json", `{"type":"deletion_job","release_id":"r1","ok":true}`)
	WriteFile(t, root, "out/evidence/ci_reports/opa_test.json", `{"tool":"opa test","returncode":0}`)
	WriteFile(t, root, "out/evidence/cd_gates/cd_gate_r1_1.json", `{"release_id":"r1","ok":true,"reasons":[]}`)
	return root
}

// WriteFile creates rel under root.
func WriteFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Eviid runs the built CLI with a scrubbed environment plus env.
func Eviid(t *testing.T, env []string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binPath, args...)
	cmd.Env = append(scrubbedEnv(), env...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func scrubbedEnv() []string {
	var out []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "EVIID_") || strings.HasPrefix(e, "AWS_") ||
			strings.HasPrefix(e, "WINDOW_SEC=") || strings.HasPrefix(e, "RELEASE_ID=") {
			continue
		}
		out = append(out, e)
	}
	return out
}
