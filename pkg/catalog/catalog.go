// Package catalog loads the control catalog an assessment is measured
// against. The catalog is read once per run and never modified.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog marks a catalog that cannot be used. It aborts the run.
var ErrInvalidCatalog = errors.New("invalid control catalog")

// Control is one compliance control.
type Control struct {
	ID       string
	Category string
	Title    string
	// Evidence is an optional CEL predicate that must also hold for the
	// control to count as evidenced.
	Evidence string
}

// Catalog is the ordered, immutable set of controls.
type Catalog struct {
	controls   []Control
	index      map[string]int
	predicates *PredicateSet

	// Dropped lists entries skipped as malformed, for reporting.
	Dropped []string
}

// entry accepts both the control_id key and the shorter cid used by older
// traceability files.
type entry struct {
	ControlID string `yaml:"control_id"`
	CID       string `yaml:"cid"`
	Category  string `yaml:"category"`
	Title     string `yaml:"title"`
	Evidence  string `yaml:"evidence"`
}

type document struct {
	Controls []yaml.Node `yaml:"controls"`
}

// Load reads a catalog from path. Files ending in .hcl use HCL syntax;
// everything else is parsed as YAML (which includes JSON).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return ParseHCL(data, path)
	}
	return ParseYAML(data)
}

// ParseYAML builds a catalog from YAML. Entries that do not decode or lack
// an id are dropped; an empty result is an error.
func ParseYAML(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var (
		controls []Control
		dropped  []string
	)
	for i, node := range doc.Controls {
		var e entry
		if err := node.Decode(&e); err != nil {
			dropped = append(dropped, fmt.Sprintf("entry %d (line %d): %v", i, node.Line, err))
			continue
		}
		id := e.ControlID
		if id == "" {
			id = e.CID
		}
		controls = append(controls, Control{
			ID:       strings.TrimSpace(id),
			Category: e.Category,
			Title:    e.Title,
			Evidence: e.Evidence,
		})
	}
	return build(controls, dropped)
}

// New builds a catalog from controls, applying the same validation as the
// file loaders.
func New(controls []Control) (*Catalog, error) {
	return build(controls, nil)
}

func build(controls []Control, dropped []string) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int), Dropped: dropped}
	for i, ctl := range controls {
		switch {
		case ctl.ID == "":
			c.Dropped = append(c.Dropped, fmt.Sprintf("entry %d: missing control id", i))
			continue
		case hasIndex(c.index, ctl.ID):
			c.Dropped = append(c.Dropped, fmt.Sprintf("entry %d: duplicate control %s", i, ctl.ID))
			continue
		}
		if ctl.Category == "" {
			ctl.Category = "(unknown)"
		}
		c.index[ctl.ID] = len(c.controls)
		c.controls = append(c.controls, ctl)
	}
	if len(c.controls) == 0 {
		return nil, fmt.Errorf("%w: no usable controls", ErrInvalidCatalog)
	}

	preds, err := CompilePredicates(c.controls)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	c.predicates = preds
	return c, nil
}

func hasIndex(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}

// Controls returns the controls in catalog order.
func (c *Catalog) Controls() []Control {
	return append([]Control(nil), c.controls...)
}

// IDs returns the control ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.controls))
	for i, ctl := range c.controls {
		ids[i] = ctl.ID
	}
	return ids
}

// Lookup returns the control with id.
func (c *Catalog) Lookup(id string) (Control, bool) {
	i, ok := c.index[id]
	if !ok {
		return Control{}, false
	}
	return c.controls[i], true
}

// Len returns the number of controls.
func (c *Catalog) Len() int { return len(c.controls) }

// Predicates returns the compiled evidence predicates.
func (c *Catalog) Predicates() *PredicateSet { return c.predicates }

// LogDropped reports malformed entries on logger.
func (c *Catalog) LogDropped(logger *slog.Logger) {
	for _, d := range c.Dropped {
		logger.Warn("Dropped catalog entry", "reason", d)
	}
}
