// Package coverage decides which controls lack evidence, per window and
// across a rollup.
package coverage

import (
	"sort"

	"github.com/DrSkyle/eviid/pkg/window"
)

// Evaluator flags core controls with zero observations in a window.
type Evaluator struct {
	core []string
}

// NewEvaluator returns an Evaluator for the given core controls.
func NewEvaluator(core []string) *Evaluator {
	sorted := append([]string(nil), core...)
	sort.Strings(sorted)
	return &Evaluator{core: sorted}
}

// Core returns the evaluated controls in name order.
func (e *Evaluator) Core() []string {
	return append([]string(nil), e.core...)
}

// Missing returns the core controls whose seen count is zero, ordered by
// name. Endpoint-conditional controls are never reported here.
func (e *Evaluator) Missing(seen map[string]int) []string {
	missing := []string{}
	for _, cid := range e.core {
		if seen[cid] == 0 {
			missing = append(missing, cid)
		}
	}
	return missing
}

// Annotate recomputes MissingCoreControls for every window of r in place.
// It is used on rollups read back from disk.
func (e *Evaluator) Annotate(r *window.Rollup) {
	if r == nil {
		return
	}
	for i := range r.Windows {
		r.Windows[i].MissingCoreControls = e.Missing(r.Windows[i].ControlsSeen)
	}
}

// StaleControls counts, per control, the windows that report it missing.
func StaleControls(r *window.Rollup) map[string]int {
	stale := make(map[string]int)
	if r == nil {
		return stale
	}
	for _, w := range r.Windows {
		for _, cid := range w.MissingCoreControls {
			stale[cid]++
		}
	}
	return stale
}

// StaleWindows returns the windows that report at least one missing control.
func StaleWindows(r *window.Rollup) []window.Window {
	if r == nil {
		return nil
	}
	var out []window.Window
	for _, w := range r.Windows {
		if len(w.MissingCoreControls) > 0 {
			out = append(out, w)
		}
	}
	return out
}
