package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/resources"
)

func seed(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"traceability/traceability.yaml": "controls:\n  - cid: ID-LOG-01\n    category: logging\n",
		"out/evidence/events.jsonl":      `{"type":"wallet_decision","allow":true,"ts":10}` + "\n",
	}
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunThenVerify(t *testing.T) {
	root := seed(t)
	common := []string{"--root", root, "--as-of", "100", "--skip-telemetry", "--release", "r2"}

	out, err := execute(t, append([]string{"run"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "RELEASE r2")
	assert.FileExists(t, filepath.Join(root, "out", "oscal", "r2", "assessment-results.json"))
	assert.FileExists(t, filepath.Join(root, "out", "evidence", "monitoring", "windows", "window_0.json"))

	out, err = execute(t, append([]string{"verify"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "0 failed")
}

func TestVerifyMissingRelease(t *testing.T) {
	_, err := execute(t, "verify", "--root", seed(t), "--skip-telemetry", "--release", "nope")
	assert.ErrorIs(t, err, resources.ErrMissingResource)
}

func TestInvalidWindowRejected(t *testing.T) {
	_, err := execute(t, "summarize", "--root", seed(t), "--skip-telemetry", "--window-sec", "0")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfigFile(t *testing.T) {
	root := seed(t)
	cfg := filepath.Join(t.TempDir(), "eviid.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("root: "+root+"\nskip_telemetry: true\nas_of: \"100\"\n"), 0o644))

	out, err := execute(t, "summarize", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY")
	assert.FileExists(t, filepath.Join(root, "out", "evidence", "monitoring", "rollup.json"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "eviid")
}
