// Package assessment turns a rollup, the control catalog, and pipeline
// signals into the per-release assessment documents.
package assessment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DrSkyle/eviid/pkg/catalog"
	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/coverage"
	"github.com/DrSkyle/eviid/pkg/gates"
	"github.com/DrSkyle/eviid/pkg/integrity"
	"github.com/DrSkyle/eviid/pkg/resources"
	"github.com/DrSkyle/eviid/pkg/window"
)

// Document file names within a release directory.
const (
	FileComponentDefinition = "component-definition.json"
	FileSystemSecurityPlan  = "system-security-plan.json"
	FileAssessmentResults   = "assessment-results.json"
	FilePOAM                = "poam.json"
	FileVerification        = "verification.json"
)

// Observation property names.
const (
	PropEvidencePresent = "evidence-present"
	PropCategory        = "category"
)

// TimeLayout is the timestamp format used in every document.
const TimeLayout = "2006-01-02T15:04:05Z"

var errNoCatalog = errors.New("assessment requires a catalog")

// Input is everything the assembler reads. It is not modified.
type Input struct {
	ReleaseID string
	Catalog   *catalog.Catalog
	Rollup    *window.Rollup
	// CoreControls are the controls invalidated by a single stale window.
	CoreControls []string
	// Decisions is the number of decision-log records for the release.
	Decisions        int
	DeletionEvidence bool
	Gates            gates.Signals
	Resources        []resources.Resource
	Timestamp        time.Time
}

// Verdict is the release-level outcome for one control.
type Verdict struct {
	ControlID string   `json:"control_id"`
	Category  string   `json:"category"`
	Present   bool     `json:"present"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Assessment is the assembled, immutable result for one release.
type Assessment struct {
	ReleaseID string
	Verdicts  []Verdict

	ComponentDefinition ComponentDefinitionDocument
	SystemSecurityPlan  SystemSecurityPlanDocument
	AssessmentResults   AssessmentResultsDocument
	// POAM is nil when there are no findings.
	POAM *POAMDocument
}

// Findings returns the findings of the assessment result.
func (a *Assessment) Findings() []Finding {
	return a.AssessmentResults.AssessmentResults.Results[0].Findings
}

// Observations returns the observations of the assessment result.
func (a *Assessment) Observations() []Observation {
	return a.AssessmentResults.AssessmentResults.Results[0].Observations
}

// File is one document to persist.
type File struct {
	Name string
	Doc  any
}

// Files lists the documents to write, in a fixed order. The POA&M is
// included only when findings exist.
func (a *Assessment) Files() []File {
	files := []File{
		{FileComponentDefinition, a.ComponentDefinition},
		{FileSystemSecurityPlan, a.SystemSecurityPlan},
		{FileAssessmentResults, a.AssessmentResults},
	}
	if a.POAM != nil {
		files = append(files, File{FilePOAM, *a.POAM})
	}
	return files
}

// Assemble evaluates every catalog control for the release and builds the
// four documents around one shared resource list.
func Assemble(in Input) (*Assessment, error) {
	if in.Catalog == nil {
		return nil, errNoCatalog
	}
	if err := config.ValidateRelease(in.ReleaseID); err != nil {
		return nil, err
	}

	rel := in.ReleaseID
	now := in.Timestamp.UTC().Format(TimeLayout)
	back := BackMatter{Resources: in.Resources}
	if back.Resources == nil {
		back.Resources = []resources.Resource{}
	}

	verdicts := evaluate(in)

	observations := make([]Observation, 0, len(verdicts))
	findings := []Finding{}
	for _, v := range verdicts {
		observations = append(observations, Observation{
			UUID:        integrity.NameID("obs", rel, v.ControlID),
			Description: fmt.Sprintf("Evidence present=%t for control %s", v.Present, v.ControlID),
			Props: []Property{
				{Name: PropEvidencePresent, Value: strconv.FormatBool(v.Present)},
				{Name: PropCategory, Value: v.Category},
			},
			Subjects: []Subject{{Type: "control", Title: v.ControlID}},
		})
		if !v.Present {
			findings = append(findings, Finding{
				UUID:        integrity.NameID("finding", rel, v.ControlID),
				Title:       "Finding for " + v.ControlID,
				Description: "Evidence incomplete, missing, or stale: " + strings.Join(v.Reasons, "; ") + ".",
				Target:      Subject{Type: "control", Title: v.ControlID},
			})
		}
	}

	if ci, cd := in.Gates.CIFailed(), in.Gates.CDFailed(); ci || cd {
		findings = append(findings, Finding{
			UUID:        integrity.NameID("finding", rel, config.ChangeManagement),
			Title:       "Change-management gate failure",
			Description: fmt.Sprintf("CI/CD checks indicate non-compliant release conditions (ci_fail=%t, cd_fail=%t).", ci, cd),
			Target:      Subject{Type: "control", Title: config.ChangeManagement},
		})
	}

	a := &Assessment{ReleaseID: rel, Verdicts: verdicts}

	a.ComponentDefinition = ComponentDefinitionDocument{ComponentDefinition{
		UUID:       integrity.NameID("compdef", rel),
		Metadata:   metadata(fmt.Sprintf("EviID Component Definition (%s)", rel), now, rel),
		Components: components(),
		BackMatter: back,
	}}

	a.SystemSecurityPlan = SystemSecurityPlanDocument{SystemSecurityPlan{
		UUID:          integrity.NameID("ssp", rel),
		Metadata:      metadata(fmt.Sprintf("EviID SSP (%s)", rel), now, rel),
		ImportProfile: ImportProfile{Href: "profile://identity"},
		SystemCharacteristics: SystemCharacteristics{
			SystemName:  "EviID",
			Description: "Identity service with compliance-as-code evidence generation.",
		},
		BackMatter: back,
	}}

	a.AssessmentResults = AssessmentResultsDocument{AssessmentResults{
		UUID:     integrity.NameID("ar", rel),
		Metadata: metadata(fmt.Sprintf("EviID Assessment Results (%s)", rel), now, rel),
		Results: []Result{{
			UUID:         integrity.NameID("result", rel),
			Title:        fmt.Sprintf("Release %s assessment", rel),
			Start:        now,
			Observations: observations,
			Findings:     findings,
		}},
		BackMatter: back,
	}}

	if len(findings) > 0 {
		items := make([]POAMItem, len(findings))
		for i, f := range findings {
			items[i] = POAMItem{
				UUID:        f.UUID,
				Title:       f.Title,
				Description: f.Description,
				Status:      Status{State: "open"},
			}
		}
		a.POAM = &POAMDocument{POAM{
			UUID:       integrity.NameID("poam", rel),
			Metadata:   metadata(fmt.Sprintf("EviID POA&M (%s)", rel), now, rel),
			POAMItems:  items,
			BackMatter: back,
		}}
	}
	return a, nil
}

func metadata(title, now, release string) Metadata {
	return Metadata{Title: title, LastModified: now, Version: release}
}

func components() []Component {
	return []Component{
		{UUID: integrity.NameID("component", "identity-api"), Type: "service", Title: "Identity API", Description: "Request-handling service emitting workload events."},
		{UUID: integrity.NameID("component", "opa-pdp"), Type: "service", Title: "OPA PDP", Description: "Policy decision point emitting decision logs."},
		{UUID: integrity.NameID("component", "collector"), Type: "service", Title: "Evidence Collector", Description: "Receives decision logs and deletion evidence."},
		{UUID: integrity.NameID("component", "oscal-exporter"), Type: "software", Title: "OSCAL Exporter", Description: "Aggregates evidence and assembles these documents."},
	}
}

// evaluate applies the verdict rules to every catalog control, in catalog
// order.
func evaluate(in Input) []Verdict {
	core := make(map[string]bool, len(in.CoreControls))
	for _, cid := range in.CoreControls {
		core[cid] = true
	}
	stale := coverage.StaleControls(in.Rollup)
	windows := 0
	if in.Rollup != nil {
		windows = len(in.Rollup.Windows)
	}

	controls := in.Catalog.Controls()
	out := make([]Verdict, 0, len(controls))
	for _, ctl := range controls {
		v := Verdict{ControlID: ctl.ID, Category: ctl.Category, Present: true}
		fail := func(reason string) {
			v.Present = false
			v.Reasons = append(v.Reasons, reason)
		}

		if in.Decisions == 0 {
			fail("no decision-log records for release " + in.ReleaseID)
		}
		if ctl.ID == config.ControlRetention && !in.DeletionEvidence {
			fail("no deletion-job evidence for release " + in.ReleaseID)
		}
		if core[ctl.ID] && stale[ctl.ID] > 0 {
			fail(fmt.Sprintf("missing in %d monitoring window(s)", stale[ctl.ID]))
		}

		holds, err := in.Catalog.Predicates().Holds(catalog.Facts{
			ControlID:        ctl.ID,
			Category:         ctl.Category,
			Decisions:        in.Decisions,
			DeletionEvidence: in.DeletionEvidence,
			StaleWindows:     stale[ctl.ID],
			Windows:          windows,
			CIFailed:         in.Gates.CIFailed(),
			CDFailed:         in.Gates.CDFailed(),
		})
		switch {
		case err != nil:
			fail(err.Error())
		case !holds:
			fail("evidence predicate not satisfied")
		}
		out = append(out, v)
	}
	return out
}
