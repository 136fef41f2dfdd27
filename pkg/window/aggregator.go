package window

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/evidence"
)

// CoverageFunc derives the missing core controls of a window from its
// per-control seen counts.
type CoverageFunc func(seen map[string]int) []string

// Input is the evidence snapshot of one run.
type Input struct {
	Events    []evidence.Event
	Decisions []evidence.Decision
	Deletions []evidence.DeletionArtifact
}

// Aggregator builds a Rollup from an evidence snapshot.
type Aggregator struct {
	cfg      config.WindowConfig
	coverage CoverageFunc
	now      func() time.Time
	tracked  []string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCoverage sets the function that fills MissingCoreControls.
func WithCoverage(f CoverageFunc) Option {
	return func(a *Aggregator) {
		a.coverage = f
	}
}

// WithClock overrides the wall clock used for events without a timestamp
// and for decision-log records.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator validates cfg and returns an Aggregator.
func NewAggregator(cfg config.WindowConfig, opts ...Option) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		cfg:     cfg,
		now:     time.Now,
		tracked: trackedControls(cfg),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Aggregate partitions the evidence into windows. The result is a fresh
// value owned by the caller.
func (a *Aggregator) Aggregate(in Input) *Rollup {
	w := a.cfg.WindowSec
	rollup := &Rollup{WindowSec: w, Windows: []Window{}}

	if len(in.Events) == 0 && len(in.Decisions) == 0 {
		rollup.Note = NoEvidenceNote
		return rollup
	}

	now := float64(a.now().UnixNano()) / 1e9

	events := make([]stamped, 0, len(in.Events))
	for _, ev := range in.Events {
		switch {
		case ev.TS != nil:
			events = append(events, stamped{ev, *ev.TS})
		case a.cfg.TimestampPolicy == config.TimestampQuarantine:
			rollup.QuarantinedEvents++
		default:
			events = append(events, stamped{ev, now})
		}
	}

	events = a.usable(events, rollup)

	tsList := make([]float64, 0, len(events))
	for _, s := range events {
		tsList = append(tsList, s.ts)
	}
	if len(tsList) == 0 {
		tsList = append(tsList, now)
	}
	tmin, tmax := tsList[0], tsList[0]
	for _, t := range tsList[1:] {
		tmin = math.Min(tmin, t)
		tmax = math.Max(tmax, t)
	}

	start := int64(math.Floor(tmin/float64(w))) * w
	end := int64(math.Ceil((tmax+1)/float64(w))) * w
	if end == start {
		end = start + w
	}

	n := int((end - start) / w)
	rollup.Windows = make([]Window, n)
	latencies := make([][]float64, n)
	for i := range rollup.Windows {
		ws := start + int64(i)*w
		seen := make(map[string]int, len(a.tracked))
		for _, cid := range a.tracked {
			seen[cid] = 0
		}
		rollup.Windows[i] = Window{
			Start:               ws,
			End:                 ws + w,
			ControlsSeen:        seen,
			MissingCoreControls: []string{},
		}
	}

	index := func(ts float64) (int, bool) {
		ws := int64(math.Floor(ts/float64(w))) * w
		if ws < start || ws >= end {
			return 0, false
		}
		return int((ws - start) / w), true
	}

	for _, s := range events {
		i, ok := index(s.ts)
		if !ok {
			continue
		}
		win := &rollup.Windows[i]
		if s.ev.Allow != nil {
			if *s.ev.Allow {
				win.AllowCount++
			} else {
				win.DenyCount++
			}
		}
		if rule := s.ev.Endpoint(a.cfg.Endpoints); rule != nil {
			for _, cid := range rule.Controls {
				win.ControlsSeen[cid]++
			}
		}
		if s.ev.DurationMS != nil {
			latencies[i] = append(latencies[i], *s.ev.DurationMS)
		}
	}

	// Decision records carry no reliable timestamp, so they are checked
	// against the window containing the analysis time, or the last window
	// when the analysis time falls outside the span.
	if len(in.Decisions) > 0 {
		i, ok := index(now)
		if !ok {
			i = n - 1
		}
		for _, d := range in.Decisions {
			if d.SchemaOK(a.cfg.RequiredLogFields) {
				rollup.Windows[i].LogSchemaOK++
			} else {
				rollup.Windows[i].LogSchemaBad++
			}
		}
	}

	for _, del := range in.Deletions {
		ts := float64(del.ModTime.UnixNano()) / 1e9
		if i, ok := index(ts); ok {
			rollup.Windows[i].DeletionEvents++
		}
	}

	for i := range rollup.Windows {
		win := &rollup.Windows[i]
		win.LatencyP50 = quantile(latencies[i], 0.5)
		win.LatencyP95 = quantile(latencies[i], 0.95)
		if a.coverage != nil {
			if missing := a.coverage(win.ControlsSeen); missing != nil {
				win.MissingCoreControls = missing
			}
		}
	}
	return rollup
}

// usable drops events whose timestamp cannot be windowed: non-finite or
// beyond config.MaxTimestamp in magnitude. When the remaining span would need
// more than the configured window count, the newest windows are kept and
// older events are dropped. Every dropped event is counted as quarantined.
func (a *Aggregator) usable(events []stamped, rollup *Rollup) []stamped {
	out := events[:0]
	tmax := math.Inf(-1)
	for _, s := range events {
		if math.IsNaN(s.ts) || math.IsInf(s.ts, 0) || math.Abs(s.ts) > config.MaxTimestamp {
			rollup.QuarantinedEvents++
			continue
		}
		out = append(out, s)
		tmax = math.Max(tmax, s.ts)
	}
	if len(out) == 0 {
		return out
	}

	w := a.cfg.WindowSec
	end := math.Ceil((tmax+1)/float64(w)) * float64(w)
	floor := end - float64(a.cfg.WindowLimit())*float64(w)
	kept := out[:0]
	for _, s := range out {
		if s.ts < floor {
			rollup.QuarantinedEvents++
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

type stamped struct {
	ev evidence.Event
	ts float64
}

// FileName is the per-window summary file name for a window start.
func FileName(start int64) string {
	return fmt.Sprintf("window_%d.json", start)
}

// PlaceholderFileName is written when the rollup carries no windows.
const PlaceholderFileName = "window_empty.json"

func trackedControls(cfg config.WindowConfig) []string {
	set := make(map[string]bool)
	for _, cid := range cfg.CoreControls {
		set[cid] = true
	}
	for _, rule := range cfg.Endpoints {
		for _, cid := range rule.Controls {
			set[cid] = true
		}
	}
	out := make([]string, 0, len(set))
	for cid := range set {
		out = append(out, cid)
	}
	sort.Strings(out)
	return out
}
