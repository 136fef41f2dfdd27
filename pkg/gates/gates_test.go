package gates

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad_MissingDirectoriesMeanNoSignal(t *testing.T) {
	root := t.TempDir()
	s, err := Load(filepath.Join(root, "ci"), filepath.Join(root, "cd"), "r1")
	require.NoError(t, err)
	assert.Empty(t, s.CIReports)
	assert.Empty(t, s.CDGates)
	assert.False(t, s.Failed())
}

func TestLoad_CIReports(t *testing.T) {
	root := t.TempDir()
	ci := filepath.Join(root, "ci")
	writeFile(t, ci, "opa_test.json", `{"tool":"opa test","returncode":0}`)
	writeFile(t, ci, "conftest.json", `{"tool":"conftest","returncode":1}`)
	writeFile(t, ci, "broken.json", `{"tool":`)
	writeFile(t, ci, "nocode.json", `{"tool":"lint","returncode":null}`)

	s, err := Load(ci, filepath.Join(root, "cd"), "r1")
	require.NoError(t, err)
	require.Len(t, s.CIReports, 4)

	names := []string{}
	for _, r := range s.CIReports {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"broken", "conftest", "nocode", "opa_test"}, names)

	assert.Nil(t, s.CIReports[0].ReturnCode, "malformed report carries no signal")
	assert.True(t, s.CIReports[1].Failed())
	assert.Nil(t, s.CIReports[2].ReturnCode)
	assert.False(t, s.CIReports[3].Failed())
	assert.True(t, s.CIFailed())
	assert.False(t, s.CDFailed())
}

func TestLoad_FractionalReturnCodeIsFailure(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{body: `{"tool":"opa test","returncode":0.5}`, want: 1},
		{body: `{"tool":"opa test","returncode":-0.25}`, want: -1},
		{body: `{"tool":"opa test","returncode":2.0}`, want: 2},
		{body: `{"tool":"opa test","returncode":1e300}`, want: math.MaxInt32},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			root := t.TempDir()
			ci := filepath.Join(root, "ci")
			writeFile(t, ci, "opa_test.json", tt.body)

			s, err := Load(ci, filepath.Join(root, "cd"), "r1")
			require.NoError(t, err)
			require.Len(t, s.CIReports, 1)
			require.NotNil(t, s.CIReports[0].ReturnCode)
			assert.Equal(t, tt.want, *s.CIReports[0].ReturnCode)
			assert.True(t, s.CIFailed())
		})
	}
}

func TestLoad_CDGatesAreReleaseScoped(t *testing.T) {
	root := t.TempDir()
	cd := filepath.Join(root, "cd")
	writeFile(t, cd, "cd_gate_r1_100.json", `{"release_id":"r1","ok":true,"reasons":[]}`)
	writeFile(t, cd, "cd_gate_r2_100.json", `{"release_id":"r2","ok":false,"reasons":["missing_bundle_sha256"]}`)

	s, err := Load(filepath.Join(root, "ci"), cd, "r1")
	require.NoError(t, err)
	require.Len(t, s.CDGates, 1)
	assert.False(t, s.CDFailed())

	s, err = Load(filepath.Join(root, "ci"), cd, "r2")
	require.NoError(t, err)
	require.Len(t, s.CDGates, 1)
	assert.True(t, s.CDFailed())
	assert.Equal(t, []string{"missing_bundle_sha256"}, s.CDGates[0].Reasons)
}

func TestLoad_GateWithoutOKIsNoSignal(t *testing.T) {
	root := t.TempDir()
	cd := filepath.Join(root, "cd")
	writeFile(t, cd, "cd_gate_r1_1.json", `{"release_id":"r1"}`)
	writeFile(t, cd, "cd_gate_r1_2.json", `{"ok":"false"}`)
	writeFile(t, cd, "cd_gate_r1_3.json", `not json`)

	s, err := Load(filepath.Join(root, "ci"), cd, "r1")
	require.NoError(t, err)
	require.Len(t, s.CDGates, 3)
	for _, g := range s.CDGates {
		assert.Nil(t, g.OK, g.Path)
		assert.Equal(t, "r1", g.ReleaseID)
	}
	assert.False(t, s.Failed())
}
