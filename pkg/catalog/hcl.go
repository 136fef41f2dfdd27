package catalog

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclCatalog is the HCL form of a catalog:
//
//	control "ID-LOG-01" {
//	  category = "logging"
//	  evidence = "decisions > 0"
//	}
type hclCatalog struct {
	Controls []hclControl `hcl:"control,block"`
}

type hclControl struct {
	ID       string `hcl:"id,label"`
	Category string `hcl:"category,optional"`
	Title    string `hcl:"title,optional"`
	Evidence string `hcl:"evidence,optional"`
}

// ParseHCL builds a catalog from HCL source. filename is used in
// diagnostics only.
func ParseHCL(src []byte, filename string) (*Catalog, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, diags.Error())
	}

	var doc hclCatalog
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, diags.Error())
	}

	controls := make([]Control, 0, len(doc.Controls))
	for _, c := range doc.Controls {
		controls = append(controls, Control{
			ID:       c.ID,
			Category: c.Category,
			Title:    c.Title,
			Evidence: c.Evidence,
		})
	}
	return build(controls, nil)
}
