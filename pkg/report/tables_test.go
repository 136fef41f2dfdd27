package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/eviid/pkg/assessment"
	"github.com/DrSkyle/eviid/pkg/registry"
	"github.com/DrSkyle/eviid/pkg/window"
)

func index() *registry.Index {
	return &registry.Index{Releases: []registry.Release{
		{
			ReleaseID:    "r1",
			BundleDigest: "aa",
			Findings:     1,
			POAMItems:    1,
			Controls: []assessment.Verdict{
				{ControlID: "ID-LOG-01", Category: "logging", Present: true},
				{ControlID: "ID-RET-01", Category: "retention", Present: false},
				{ControlID: "ID-ACC-01", Category: "access", Present: true},
			},
		},
		{
			ReleaseID:    "r2",
			BundleDigest: "bb",
			Controls: []assessment.Verdict{
				{ControlID: "ID-LOG-01", Category: "logging", Present: true},
				{ControlID: "ID-RET-01", Category: "retention", Present: true},
				{ControlID: "ID-ACC-01", Category: "access", Present: true},
			},
		},
	}}
}

func TestCoverage(t *testing.T) {
	tab := Coverage(index())
	assert.Equal(t, [][]string{
		{"r1", "3", "2", "66.67"},
		{"r2", "3", "3", "100.00"},
	}, tab.Rows)

	data, err := tab.CSV()
	require.NoError(t, err)
	assert.Equal(t, "release,controls_total,controls_ok,coverage_pct\nr1,3,2,66.67\nr2,3,3,100.00\n", string(data))
}

func TestCategoryCoverage(t *testing.T) {
	tab := CategoryCoverage(index())
	require.Len(t, tab.Rows, 6)
	assert.Equal(t, []string{"r1", "access", "1", "1", "100.00"}, tab.Rows[0])
	assert.Equal(t, []string{"r1", "retention", "1", "0", "0.00"}, tab.Rows[2])
}

func TestStaleness(t *testing.T) {
	tab := Staleness(&window.Rollup{WindowSec: 60, Windows: []window.Window{
		{Start: 0, End: 60, AllowCount: 2, MissingCoreControls: []string{}},
		{Start: 60, End: 120, DenyCount: 1, MissingCoreControls: []string{"ID-ACC-01", "ID-LOG-01"}},
	}})
	assert.Equal(t, [][]string{
		{"0", "60", "0", "2", "0"},
		{"60", "120", "2", "0", "1"},
	}, tab.Rows)
}

func TestDelta(t *testing.T) {
	tab := Delta(index())
	assert.Equal(t, [][]string{
		{"r1", "aa", "1", "1", "false", "false"},
		{"r2", "bb", "0", "0", "true", "true"},
	}, tab.Rows)
}

func TestBuild(t *testing.T) {
	names := func(ts []Table) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Name)
		}
		return out
	}
	assert.Equal(t, []string{FileCoverage, FileCategoryCoverage, FileDelta}, names(Build(index(), nil)))
	assert.Equal(t, []string{FileCoverage, FileCategoryCoverage, FileStaleness, FileDelta}, names(Build(index(), &window.Rollup{})))
}
