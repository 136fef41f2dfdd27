package engine

import (
	"context"
	"fmt"
	"path"

	"github.com/DrSkyle/eviid/pkg/registry"
	"github.com/DrSkyle/eviid/pkg/report"
)

// Coverage writes the coverage, staleness, and delta tables for every
// registered release under the metrics directory.
func (e *Engine) Coverage(ctx context.Context) (tables []report.Table, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Coverage")
	defer func() { endSpan(span, err) }()
	defer e.recoverPanic(ctx, &err)

	p := e.config.Paths
	idx, err := registry.Load(ctx, e.Store, p.RegistryIndex())
	if err != nil {
		return nil, err
	}
	rollup, err := e.loadRollup(ctx)
	if err != nil {
		return nil, err
	}

	tables = report.Build(idx, rollup)
	for _, t := range tables {
		data, err := t.CSV()
		if err != nil {
			return nil, err
		}
		key := path.Join(p.MetricsDir, t.Name)
		if err := e.Store.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	for _, rel := range idx.Releases {
		e.Metrics.RecordAssessment(rel.ReleaseID, rel.Findings, rel.POAMItems, rel.Resources, rel.Coverage())
	}
	e.writeMetrics()

	e.Logger.Info("Wrote coverage tables", "releases", len(idx.Releases), "tables", len(tables))
	return tables, nil
}

// Run summarizes the evidence and exports release in one pass.
func (e *Engine) Run(ctx context.Context, release string) (*Summary, *ExportResult, error) {
	sum, err := e.Summarize(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := e.Export(ctx, release)
	return sum, res, err
}
