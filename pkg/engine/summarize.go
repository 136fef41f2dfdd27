package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DrSkyle/eviid/pkg/coverage"
	"github.com/DrSkyle/eviid/pkg/evidence"
	"github.com/DrSkyle/eviid/pkg/ingest"
	"github.com/DrSkyle/eviid/pkg/storage"
	"github.com/DrSkyle/eviid/pkg/window"
)

// Summary is the outcome of one Summarize run.
type Summary struct {
	Rollup    *window.Rollup
	Events    ingest.Stats
	Decisions ingest.Stats
	Deletions int
	// Written lists the window files of this generation.
	Written []string
}

// snapshot is one consistent read of the evidence directory.
type snapshot struct {
	events        []evidence.Event
	decisions     []evidence.Decision
	deletions     []evidence.DeletionArtifact
	eventStats    ingest.Stats
	decisionStats ingest.Stats
}

func (e *Engine) readEvidence() (*snapshot, error) {
	p := e.config.Paths
	s := &snapshot{}

	var err error
	s.events, s.eventStats, err = ingest.ReadAll(p.Abs(p.EventLog()), evidence.ParseEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	s.decisions, s.decisionStats, err = ingest.ReadAll(p.Abs(p.DecisionLog()), evidence.ParseDecision)
	if err != nil {
		return nil, fmt.Errorf("failed to read decision log: %w", err)
	}
	s.deletions, err = evidence.ScanDeletions(p.Abs(p.DeletionDir()))
	if err != nil {
		return nil, fmt.Errorf("failed to scan deletion evidence: %w", err)
	}

	for name, st := range map[string]ingest.Stats{"events": s.eventStats, "decisions": s.decisionStats} {
		if st.Skipped > 0 {
			e.Logger.Warn("Skipped malformed log lines", "log", name, "skipped", st.Skipped, "lines", st.Lines)
		}
		e.Metrics.RecordSkipped(name, st.Skipped)
	}
	return s, nil
}

// Summarize aggregates the current evidence into windows and writes one
// summary per window plus the rollup. Window files left by an earlier run
// that are not part of this generation are removed; the rollup is written
// last.
func (e *Engine) Summarize(ctx context.Context) (sum *Summary, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Summarize")
	defer func() { endSpan(span, err) }()
	defer e.recoverPanic(ctx, &err)

	snap, err := e.readEvidence()
	if err != nil {
		return nil, err
	}

	eval := coverage.NewEvaluator(e.config.Window.CoreControls)
	agg, err := window.NewAggregator(e.config.Window,
		window.WithCoverage(eval.Missing),
		window.WithClock(e.clock),
	)
	if err != nil {
		return nil, err
	}
	rollup := agg.Aggregate(window.Input{
		Events:    snap.events,
		Decisions: snap.decisions,
		Deletions: snap.deletions,
	})

	written, err := e.writeWindows(ctx, rollup)
	if err != nil {
		return nil, err
	}
	if err := storage.PutJSON(ctx, e.Store, e.config.Paths.Rollup(), rollup); err != nil {
		return nil, fmt.Errorf("failed to write rollup: %w", err)
	}

	stale := len(coverage.StaleWindows(rollup))
	e.Metrics.RecordRollup(len(rollup.Windows), stale, rollup.QuarantinedEvents)
	e.writeMetrics()

	span.SetAttributes(
		attribute.Int("windows", len(rollup.Windows)),
		attribute.Int("windows.stale", stale),
	)
	e.Logger.Info("Summarized evidence",
		"windows", len(rollup.Windows),
		"stale_windows", stale,
		"events", snap.eventStats.Parsed,
		"decisions", snap.decisionStats.Parsed,
		"deletions", len(snap.deletions),
		"quarantined", rollup.QuarantinedEvents,
	)

	return &Summary{
		Rollup:    rollup,
		Events:    snap.eventStats,
		Decisions: snap.decisionStats,
		Deletions: len(snap.deletions),
		Written:   written,
	}, nil
}

func (e *Engine) writeWindows(ctx context.Context, rollup *window.Rollup) ([]string, error) {
	dir := e.config.Paths.WindowsDir()
	keep := make(map[string]bool)

	if rollup.Empty() {
		key := path.Join(dir, window.PlaceholderFileName)
		ph := window.Placeholder{WindowSec: rollup.WindowSec, Note: window.NoEvidenceNote}
		if err := storage.PutJSON(ctx, e.Store, key, ph); err != nil {
			return nil, fmt.Errorf("failed to write placeholder: %w", err)
		}
		keep[key] = true
	}
	for _, w := range rollup.Windows {
		key := path.Join(dir, window.FileName(w.Start))
		if err := storage.PutJSON(ctx, e.Store, key, w); err != nil {
			return nil, fmt.Errorf("failed to write window %d: %w", w.Start, err)
		}
		keep[key] = true
	}

	existing, err := e.Store.List(ctx, dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	for _, key := range existing {
		base := path.Base(key)
		if keep[key] || path.Dir(key) != dir || !strings.HasPrefix(base, "window_") || path.Ext(base) != ".json" {
			continue
		}
		if err := e.Store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to remove stale window %s: %w", key, err)
		}
		e.Logger.Debug("Removed stale window summary", "key", key)
	}

	written := make([]string, 0, len(keep))
	for _, w := range rollup.Windows {
		written = append(written, path.Join(dir, window.FileName(w.Start)))
	}
	if rollup.Empty() {
		written = append(written, path.Join(dir, window.PlaceholderFileName))
	}
	return written, nil
}
