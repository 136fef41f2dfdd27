package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DrSkyle/eviid/pkg/assessment"
	"github.com/DrSkyle/eviid/pkg/catalog"
	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/coverage"
	"github.com/DrSkyle/eviid/pkg/evidence"
	"github.com/DrSkyle/eviid/pkg/gates"
	"github.com/DrSkyle/eviid/pkg/ingest"
	"github.com/DrSkyle/eviid/pkg/integrity"
	"github.com/DrSkyle/eviid/pkg/registry"
	"github.com/DrSkyle/eviid/pkg/resources"
	"github.com/DrSkyle/eviid/pkg/storage"
	"github.com/DrSkyle/eviid/pkg/window"
)

// ExportResult describes the documents written for one release.
type ExportResult struct {
	ReleaseID    string
	Assessment   *assessment.Assessment
	Verification resources.Report
	Entry        registry.Release
	// Files are the written document keys, relative to the root.
	Files []string
}

// Verification is the content of verification.json.
type Verification struct {
	ReleaseID string `json:"release_id"`
	Document  string `json:"document"`
	resources.Report
}

// loadCatalog reads the control catalog. Failure aborts the run.
func (e *Engine) loadCatalog() (*catalog.Catalog, error) {
	p := e.config.CatalogPath
	if p == "" {
		return nil, fmt.Errorf("%w: no catalog configured", catalog.ErrInvalidCatalog)
	}
	if !filepath.IsAbs(p) {
		p = e.config.Paths.Abs(p)
	}
	c, err := catalog.Load(p)
	if err != nil {
		return nil, err
	}
	c.LogDropped(e.Logger)
	return c, nil
}

// loadRollup reads the persisted rollup. It returns nil when none exists.
// Windows whose summary file has gone missing are treated as missing every
// core control.
func (e *Engine) loadRollup(ctx context.Context) (*window.Rollup, error) {
	p := e.config.Paths
	var r window.Rollup
	err := storage.GetJSON(ctx, e.Store, p.Rollup(), &r)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	eval := coverage.NewEvaluator(e.config.Window.CoreControls)
	core := eval.Core()
	if err != nil {
		e.Logger.Warn("Rollup unreadable; treating monitoring evidence as stale", "key", p.Rollup(), "error", err)
		return &window.Rollup{
			WindowSec: e.config.Window.WindowSec,
			Windows:   []window.Window{{ControlsSeen: map[string]int{}, MissingCoreControls: core}},
			Note:      "rollup unreadable",
		}, nil
	}
	eval.Annotate(&r)
	for i := range r.Windows {
		w := &r.Windows[i]
		key := path.Join(p.WindowsDir(), window.FileName(w.Start))
		if _, err := os.Stat(p.Abs(key)); errors.Is(err, fs.ErrNotExist) {
			e.Logger.Warn("Window summary missing; treating window as stale", "window_start", w.Start)
			w.MissingCoreControls = core
		}
	}
	return &r, nil
}

// timestamp is the deterministic document time: AsOf when pinned, else the
// end of the last window, else the Unix epoch.
func (e *Engine) timestamp(r *window.Rollup) time.Time {
	if e.config.AsOf != nil {
		return *e.config.AsOf
	}
	if !r.Empty() {
		_, end := r.Span()
		return time.Unix(end, 0)
	}
	return time.Unix(0, 0)
}

// Export assembles and writes the assessment documents for release, then
// re-verifies every linked resource and records the release in the
// registry. A verification failure is returned as an error wrapping
// resources.ErrIntegrity after all files are written.
func (e *Engine) Export(ctx context.Context, release string) (res *ExportResult, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Export", attribute.String("release", release))
	defer func() { endSpan(span, err) }()
	defer e.recoverPanic(ctx, &err)

	if err := config.ValidateRelease(release); err != nil {
		return nil, err
	}
	cat, err := e.loadCatalog()
	if err != nil {
		return nil, err
	}

	p := e.config.Paths
	rollup, err := e.loadRollup(ctx)
	if err != nil {
		return nil, err
	}

	decisions, _, err := readDecisions(p)
	if err != nil {
		return nil, err
	}
	applicable := 0
	for _, d := range decisions {
		if d.AppliesTo(release) {
			applicable++
		}
	}

	deletions, err := evidence.ScanDeletions(p.Abs(p.DeletionDir()))
	if err != nil {
		return nil, fmt.Errorf("failed to scan deletion evidence: %w", err)
	}

	signals, err := gates.Load(p.Abs(p.CIReportDir()), p.Abs(p.CDGateDir()), release)
	if err != nil {
		return nil, err
	}

	artifacts, err := resources.Discover(p)
	if err != nil {
		return nil, fmt.Errorf("failed to discover evidence: %w", err)
	}
	linked, err := resources.NewLinker(p.Root).LinkAll(artifacts)
	if err != nil {
		return nil, err
	}

	a, err := assessment.Assemble(assessment.Input{
		ReleaseID:        release,
		Catalog:          cat,
		Rollup:           rollup,
		CoreControls:     e.config.Window.CoreControls,
		Decisions:        applicable,
		DeletionEvidence: evidence.HasDeletionEvidence(deletions, release),
		Gates:            signals,
		Resources:        linked,
		Timestamp:        e.timestamp(rollup),
	})
	if err != nil {
		return nil, err
	}

	res = &ExportResult{ReleaseID: release, Assessment: a}
	docs := make(map[string]string)
	dir := p.ReleaseDir(release)
	for _, f := range a.Files() {
		key := path.Join(dir, f.Name)
		data, err := storage.EncodeJSON(f.Doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", f.Name, err)
		}
		if err := e.Store.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", key, err)
		}
		docs[f.Name] = integrity.Digest(data)
		res.Files = append(res.Files, key)
	}
	if a.POAM == nil {
		if err := e.Store.Delete(ctx, path.Join(dir, assessment.FilePOAM)); err != nil {
			return nil, fmt.Errorf("failed to remove stale POA&M: %w", err)
		}
	}

	rep, err := e.verifyResources(ctx, release, linked)
	if err != nil {
		return nil, err
	}
	res.Verification = rep
	res.Files = append(res.Files, path.Join(dir, assessment.FileVerification))

	poamItems := 0
	if a.POAM != nil {
		poamItems = len(a.POAM.POAM.POAMItems)
	}
	entry := registry.Release{
		ReleaseID:    release,
		GeneratedAt:  e.timestamp(rollup).UTC().Format(assessment.TimeLayout),
		Documents:    docs,
		Controls:     a.Verdicts,
		Findings:     len(a.Findings()),
		POAMItems:    poamItems,
		Resources:    len(linked),
		BundleDigest: e.bundleDigest(),
		Verified:     rep.OK,
	}
	if err := e.register(ctx, entry); err != nil {
		return nil, err
	}
	res.Entry = entry

	e.Metrics.RecordAssessment(release, entry.Findings, poamItems, entry.Resources, entry.Coverage())
	e.writeMetrics()

	span.SetAttributes(
		attribute.Int("findings", entry.Findings),
		attribute.Int("resources", entry.Resources),
		attribute.Bool("verified", rep.OK),
	)
	e.Logger.Info("Exported release assessment",
		"release", release,
		"controls", len(a.Verdicts),
		"controls_ok", entry.ControlsOK(),
		"findings", entry.Findings,
		"poam_items", poamItems,
		"resources", entry.Resources,
	)

	if e.config.Publish != "" || e.publisher != nil {
		if err := e.Publish(ctx, release); err != nil {
			return res, err
		}
	}
	return res, rep.Err()
}

func readDecisions(p config.Paths) ([]evidence.Decision, int, error) {
	ds, st, err := ingest.ReadAll(p.Abs(p.DecisionLog()), evidence.ParseDecision)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read decision log: %w", err)
	}
	return ds, st.Skipped, nil
}

// bundleDigest hashes the policy bundle when present.
func (e *Engine) bundleDigest() string {
	p := e.config.Paths
	if p.BundleFile == "" {
		return ""
	}
	sum, err := integrity.DigestFile(p.Abs(p.BundleFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.Logger.Warn("Failed to hash policy bundle", "path", p.BundleFile, "error", err)
		}
		return ""
	}
	return sum
}

func (e *Engine) register(ctx context.Context, entry registry.Release) error {
	key := e.config.Paths.RegistryIndex()
	idx, err := registry.Load(ctx, e.Store, key)
	if err != nil {
		return err
	}
	idx.Upsert(entry)
	if err := idx.Save(ctx, e.Store, key); err != nil {
		return fmt.Errorf("failed to write release registry: %w", err)
	}
	return nil
}
