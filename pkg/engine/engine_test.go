package engine

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/eviid/pkg/assessment"
	"github.com/DrSkyle/eviid/pkg/catalog"
	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/report"
	"github.com/DrSkyle/eviid/pkg/resources"
)

const testCatalog = `controls:
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

const completeDecision = `{"input":{"request":{"release_id":"r1","log_fields":["control_id","decision_id","environment_id","policy_bundle_digest","release_id","timestamp"]}},"result":true}`

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func read(t *testing.T, root, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return data
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func newTestEngine(t *testing.T, root string, opts ...Option) *Engine {
	t.Helper()
	asOf := time.Unix(100, 0)
	cfg := DefaultConfig(root)
	cfg.AsOf = &asOf
	cfg.SkipTelemetry = true
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	e, err := New(context.Background(), append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return e
}

func seedRoot(t *testing.T) string {
	root := t.TempDir()
	write(t, root, "traceability/traceability.yaml", testCatalog)
	return root
}

func TestSummarize_TwoWalletEvents(t *testing.T) {
	root := seedRoot(t)
	write(t, root, "out/evidence/events.jsonl",
		`{"type":"wallet_decision","allow":true,"ts":10}`+"\n"+
			`{"type":"wallet_decision","allow":true,"ts":70}`+"\n")

	e := newTestEngine(t, root)
	sum, err := e.Summarize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"out/evidence/monitoring/windows/window_0.json",
		"out/evidence/monitoring/windows/window_60.json",
	}, sum.Written)
	assert.Equal(t, 2, sum.Events.Parsed)

	g := goldie.New(t, goldie.WithNameSuffix(".golden.json"))
	g.Assert(t, "two_wallet_events_rollup", read(t, root, "out/evidence/monitoring/rollup.json"))

	var w0 map[string]any
	require.NoError(t, json.Unmarshal(read(t, root, "out/evidence/monitoring/windows/window_0.json"), &w0))
	assert.Equal(t, float64(1), w0["allow_count"])
	assert.True(t, exists(root, "out/metrics/eviid.prom"))
}

func TestSummarize_EmptyEvidenceWritesPlaceholder(t *testing.T) {
	root := seedRoot(t)
	write(t, root, "out/evidence/monitoring/windows/window_600.json", `{}`)
	write(t, root, "out/evidence/monitoring/windows/notes.txt", `keep`)

	sum, err := newTestEngine(t, root).Summarize(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Rollup.Empty())

	assert.False(t, exists(root, "out/evidence/monitoring/windows/window_600.json"), "stale window removed")
	assert.True(t, exists(root, "out/evidence/monitoring/windows/notes.txt"))
	assert.True(t, exists(root, "out/evidence/monitoring/windows/window_empty.json"))
	assert.JSONEq(t, `{"window_sec":60,"windows":[],"note":"no evidence"}`,
		string(read(t, root, "out/evidence/monitoring/rollup.json")))
}

func TestSummarize_ReplacesPlaceholderOnceEvidenceArrives(t *testing.T) {
	root := seedRoot(t)
	e := newTestEngine(t, root)
	_, err := e.Summarize(context.Background())
	require.NoError(t, err)

	write(t, root, "out/evidence/events.jsonl", `{"type":"onboarding","allow":false,"ts":5}`+"\nnot json\n")
	sum, err := e.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Events.Skipped)
	assert.False(t, exists(root, "out/evidence/monitoring/windows/window_empty.json"))
	assert.True(t, exists(root, "out/evidence/monitoring/windows/window_0.json"))
}

func TestSummarize_QuarantinesImplausibleTimestamps(t *testing.T) {
	root := seedRoot(t)
	write(t, root, "out/evidence/events.jsonl",
		`{"type":"wallet_decision","allow":true,"ts":1700000000}`+"\n"+
			`{"type":"wallet_decision","allow":true,"ts":1700000000000000}`+"\n"+
			`{"type":"wallet_decision","allow":true,"ts":1e30}`+"\n")

	sum, err := newTestEngine(t, root).Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rollup.QuarantinedEvents)
	require.Len(t, sum.Rollup.Windows, 1)
	assert.Equal(t, []string{"out/evidence/monitoring/windows/window_1699999980.json"}, sum.Written)

	var rollup map[string]any
	require.NoError(t, json.Unmarshal(read(t, root, "out/evidence/monitoring/rollup.json"), &rollup))
	assert.Equal(t, float64(2), rollup["quarantined_events"])
}

func TestExport_NoEvidence(t *testing.T) {
	root := seedRoot(t)
	e := newTestEngine(t, root)

	_, res, err := e.Run(context.Background(), "r1")
	require.NoError(t, err)

	assert.Len(t, res.Assessment.Findings(), 5, "every control is a finding")
	assert.True(t, exists(root, "out/oscal/r1/poam.json"))
	assert.True(t, res.Verification.OK)

	var poam assessment.POAMDocument
	require.NoError(t, json.Unmarshal(read(t, root, "out/oscal/r1/poam.json"), &poam))
	require.Len(t, poam.POAM.POAMItems, 5)
	for _, item := range poam.POAM.POAMItems {
		assert.Equal(t, "open", item.Status.State)
	}

	var ar assessment.AssessmentResultsDocument
	require.NoError(t, json.Unmarshal(read(t, root, "out/oscal/r1/assessment-results.json"), &ar))
	assert.Equal(t, "1970-01-01T00:01:40Z", ar.AssessmentResults.Results[0].Start)
	require.Len(t, ar.AssessmentResults.BackMatter.Resources, 1, "only the rollup exists")
	assert.Equal(t, "out/evidence/monitoring/rollup.json", ar.AssessmentResults.BackMatter.Resources[0].Href())
}

func seedFullEvidence(t *testing.T, root string) {
	write(t, root, "out/evidence/events.jsonl",
		`{"type":"wallet_decision","allow":true,"ts":10,"duration_ms":20}`+"\n"+
			`{"type":"onboarding_process","allow":true,"ts":20,"duration_ms":40}`+"\n"+
			`{"type":"wallet_decision","allow":false,"ts":70}`+"\n")
	write(t, root, "out/evidence/opa_decisions.jsonl", completeDecision+"\n"+completeDecision+"\n")
	write(t, root, "out/evidence/deletions/deletion_r1_1.json", `{"type":"deletion_job","release_id":"r1","ok":true}`)
	write(t, root, "out/evidence/ci_reports/opa_test.json", `{"tool":"opa test","returncode":0}`)
	write(t, root, "out/evidence/cd_gates/cd_gate_r1_1.json", `{"release_id":"r1","ok":true,"reasons":[]}`)
}

func TestExport_FullEvidence(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	write(t, root, "out/oscal/r1/poam.json", `{"stale":true}`)

	_, res, err := newTestEngine(t, root).Run(context.Background(), "r1")
	require.NoError(t, err)

	assert.Empty(t, res.Assessment.Findings())
	assert.False(t, exists(root, "out/oscal/r1/poam.json"), "stale POA&M removed")
	for _, v := range res.Assessment.Verdicts {
		assert.True(t, v.Present, v.ControlID)
	}

	var ar assessment.AssessmentResultsDocument
	require.NoError(t, json.Unmarshal(read(t, root, "out/oscal/r1/assessment-results.json"), &ar))
	var hrefs []string
	for _, r := range ar.AssessmentResults.BackMatter.Resources {
		hrefs = append(hrefs, r.Href())
	}
	assert.Equal(t, []string{
		"out/evidence/opa_decisions.jsonl",
		"out/evidence/events.jsonl",
		"out/evidence/monitoring/rollup.json",
		"out/evidence/ci_reports/opa_test.json",
		"out/evidence/cd_gates/cd_gate_r1_1.json",
	}, hrefs)

	var ssp assessment.SystemSecurityPlanDocument
	require.NoError(t, json.Unmarshal(read(t, root, "out/oscal/r1/system-security-plan.json"), &ssp))
	assert.Equal(t, ar.AssessmentResults.BackMatter.Resources, ssp.SystemSecurityPlan.BackMatter.Resources)

	assert.True(t, res.Entry.Verified)
	assert.Len(t, res.Entry.Documents, 3)
}

func TestExport_GateFailureAddsChangeManagementFinding(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	write(t, root, "out/evidence/cd_gates/cd_gate_r1_2.json", `{"release_id":"r1","ok":false,"reasons":["missing_bundle_sha256"]}`)

	_, res, err := newTestEngine(t, root).Run(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, res.Assessment.Findings(), 1)
	assert.Equal(t, config.ChangeManagement, res.Assessment.Findings()[0].Target.Title)
	assert.True(t, exists(root, "out/oscal/r1/poam.json"))
}

func TestExport_MissingWindowSummaryMarksCoreControlsStale(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	e := newTestEngine(t, root)

	_, err := e.Summarize(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "out", "evidence", "monitoring", "windows", "window_0.json")))

	res, err := e.Export(context.Background(), "r1")
	require.NoError(t, err)

	var failed []string
	for _, f := range res.Assessment.Findings() {
		failed = append(failed, f.Target.Title)
	}
	assert.ElementsMatch(t, config.CoreControls(), failed)
}

func TestExport_RecomputesMissingControlsFromSeenCounts(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	e := newTestEngine(t, root)

	_, err := e.Summarize(context.Background())
	require.NoError(t, err)

	rel := "out/evidence/monitoring/rollup.json"
	var rollup map[string]any
	require.NoError(t, json.Unmarshal(read(t, root, rel), &rollup))
	for _, w := range rollup["windows"].([]any) {
		win := w.(map[string]any)
		seen := win["controls_seen"].(map[string]any)
		for cid := range seen {
			seen[cid] = 0
		}
		win["missing_core_controls"] = []string{}
	}
	tampered, err := json.Marshal(rollup)
	require.NoError(t, err)
	write(t, root, rel, string(tampered))

	res, err := e.Export(context.Background(), "r1")
	require.NoError(t, err)

	var failed []string
	for _, f := range res.Assessment.Findings() {
		failed = append(failed, f.Target.Title)
	}
	assert.ElementsMatch(t, config.CoreControls(), failed)
}

func TestRun_Idempotent(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	e := newTestEngine(t, root)

	snapshot := func() map[string]string {
		out := map[string]string{}
		err := filepath.WalkDir(filepath.Join(root, "out"), func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || strings.HasSuffix(p, ".prom") {
				return err
			}
			data, err := os.ReadFile(p)
			out[p] = string(data)
			return err
		})
		require.NoError(t, err)
		return out
	}

	_, _, err := e.Run(context.Background(), "r1")
	require.NoError(t, err)
	first := snapshot()

	_, _, err = e.Run(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, first, snapshot())
}

func TestVerify_DetectsCorruption(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	e := newTestEngine(t, root)

	_, _, err := e.Run(context.Background(), "r1")
	require.NoError(t, err)

	rep, err := e.Verify(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, rep.OK)

	p := filepath.Join(root, "out", "evidence", "events.jsonl")
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	data[len(data)-2] ^= 0x20
	require.NoError(t, os.WriteFile(p, data, 0o644))

	rep, err = e.Verify(context.Background(), "r1")
	assert.ErrorIs(t, err, resources.ErrIntegrity)
	assert.Equal(t, 1, rep.Failed)

	var v Verification
	require.NoError(t, json.Unmarshal(read(t, root, "out/oscal/r1/verification.json"), &v))
	assert.Equal(t, "r1", v.ReleaseID)
	assert.False(t, v.OK)
	for _, c := range v.Resources {
		if c.Href == "out/evidence/events.jsonl" {
			assert.Equal(t, resources.StatusMismatch, c.Status)
		} else {
			assert.Equal(t, resources.StatusOK, c.Status)
		}
	}
}

func TestVerify_UnknownRelease(t *testing.T) {
	_, err := newTestEngine(t, seedRoot(t)).Verify(context.Background(), "r7")
	assert.ErrorIs(t, err, resources.ErrMissingResource)
}

func TestExport_InvalidCatalogWritesNothing(t *testing.T) {
	root := t.TempDir()
	seedFullEvidence(t, root)

	_, err := newTestEngine(t, root).Export(context.Background(), "r1")
	assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
	assert.False(t, exists(root, "out/oscal"))
}

func TestExport_RejectsUnsafeRelease(t *testing.T) {
	_, err := newTestEngine(t, seedRoot(t)).Export(context.Background(), "../r1")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestCoverage(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	e := newTestEngine(t, root)

	_, _, err := e.Run(context.Background(), "r1")
	require.NoError(t, err)
	_, err = e.Export(context.Background(), "r2")
	require.NoError(t, err)

	tables, err := e.Coverage(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 4)

	cov := string(read(t, root, "out/metrics/"+report.FileCoverage))
	assert.Equal(t, "release,controls_total,controls_ok,coverage_pct\nr1,5,5,100.00\nr2,5,0,0.00\n", cov)
	assert.True(t, exists(root, "out/metrics/"+report.FileStaleness))
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return d, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestExport_Publishes(t *testing.T) {
	root := seedRoot(t)
	seedFullEvidence(t, root)
	pub := &memStore{}
	e := newTestEngine(t, root, WithPublisher(pub))

	_, _, err := e.Run(context.Background(), "r1")
	require.NoError(t, err)

	for _, key := range []string{
		"out/oscal/r1/component-definition.json",
		"out/oscal/r1/system-security-plan.json",
		"out/oscal/r1/assessment-results.json",
		"out/oscal/r1/verification.json",
		"out/evidence/monitoring/rollup.json",
		"out/oscal/index.json",
	} {
		got, err := pub.Get(context.Background(), key)
		require.NoError(t, err, key)
		assert.Equal(t, read(t, root, key), got, key)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SkipTelemetry = true
	cfg.Window.WindowSec = 0
	_, err := New(context.Background(), WithConfig(cfg))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRedactSensitiveData(t *testing.T) {
	got := redactSensitiveData(nil, slog.String("token", "abc"))
	assert.Equal(t, "[REDACTED]", got.Value.String())

	got = redactSensitiveData(nil, slog.String("release", "r1"))
	assert.Equal(t, "r1", got.Value.String())
}
