// Package report renders coverage, staleness, and release-delta tables as
// CSV for downstream analysis.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"

	"github.com/DrSkyle/eviid/pkg/registry"
	"github.com/DrSkyle/eviid/pkg/window"
)

// Output file names under the metrics directory.
const (
	FileCoverage         = "rq1_coverage.csv"
	FileCategoryCoverage = "rq1_category_coverage.csv"
	FileStaleness        = "rq1_staleness.csv"
	FileDelta            = "delta_summary.csv"
)

// Table is one CSV file.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// CSV renders the table with a header row.
func (t Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", t.Name, err)
	}
	return buf.Bytes(), nil
}

// Build returns every table. The staleness table is omitted when there is
// no rollup.
func Build(x *registry.Index, r *window.Rollup) []Table {
	tables := []Table{Coverage(x), CategoryCoverage(x)}
	if r != nil {
		tables = append(tables, Staleness(r))
	}
	return append(tables, Delta(x))
}

func pct(ok, total int) string {
	if total == 0 {
		return "0.00"
	}
	return strconv.FormatFloat(float64(ok)/float64(total)*100, 'f', 2, 64)
}

// Coverage is the per-release share of controls with evidence present.
func Coverage(x *registry.Index) Table {
	t := Table{Name: FileCoverage, Header: []string{"release", "controls_total", "controls_ok", "coverage_pct"}}
	for _, rel := range x.Releases {
		total, ok := len(rel.Controls), rel.ControlsOK()
		t.Rows = append(t.Rows, []string{rel.ReleaseID, strconv.Itoa(total), strconv.Itoa(ok), pct(ok, total)})
	}
	return t
}

// CategoryCoverage breaks coverage down by control category, categories in
// name order within each release.
func CategoryCoverage(x *registry.Index) Table {
	t := Table{Name: FileCategoryCoverage, Header: []string{"release", "category", "controls_total", "controls_ok", "coverage_pct"}}
	for _, rel := range x.Releases {
		type tally struct{ total, ok int }
		byCat := map[string]*tally{}
		for _, c := range rel.Controls {
			cat := c.Category
			if cat == "" {
				cat = "(unknown)"
			}
			if byCat[cat] == nil {
				byCat[cat] = &tally{}
			}
			byCat[cat].total++
			if c.Present {
				byCat[cat].ok++
			}
		}
		cats := make([]string, 0, len(byCat))
		for c := range byCat {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			n := byCat[c]
			t.Rows = append(t.Rows, []string{rel.ReleaseID, c, strconv.Itoa(n.total), strconv.Itoa(n.ok), pct(n.ok, n.total)})
		}
	}
	return t
}

// Staleness lists every window with its missing-control count.
func Staleness(r *window.Rollup) Table {
	t := Table{Name: FileStaleness, Header: []string{"window_start", "window_end", "missing_core_controls", "allow_count", "deny_count"}}
	for _, w := range r.Windows {
		t.Rows = append(t.Rows, []string{
			strconv.FormatInt(w.Start, 10),
			strconv.FormatInt(w.End, 10),
			strconv.Itoa(len(w.MissingCoreControls)),
			strconv.Itoa(w.AllowCount),
			strconv.Itoa(w.DenyCount),
		})
	}
	return t
}

// Delta compares each release with the one registered before it.
func Delta(x *registry.Index) Table {
	t := Table{Name: FileDelta, Header: []string{"release", "bundle_digest", "findings_count", "poam_count", "bundle_changed", "findings_changed"}}
	for i, rel := range x.Releases {
		bundleChanged, findingsChanged := false, false
		if i > 0 {
			prev := x.Releases[i-1]
			bundleChanged = prev.BundleDigest != "" && rel.BundleDigest != prev.BundleDigest
			findingsChanged = rel.Findings != prev.Findings
		}
		t.Rows = append(t.Rows, []string{
			rel.ReleaseID,
			rel.BundleDigest,
			strconv.Itoa(rel.Findings),
			strconv.Itoa(rel.POAMItems),
			strconv.FormatBool(bundleChanged),
			strconv.FormatBool(findingsChanged),
		})
	}
	return t
}
