package assessment

import "github.com/DrSkyle/eviid/pkg/resources"

// The document shapes below follow the OSCAL JSON models, reduced to the
// fields this tool fills in.

type Metadata struct {
	Title        string `json:"title"`
	LastModified string `json:"last-modified"`
	Version      string `json:"version"`
}

type BackMatter struct {
	Resources []resources.Resource `json:"resources"`
}

type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Component struct {
	UUID        string `json:"uuid"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ComponentDefinition struct {
	UUID       string      `json:"uuid"`
	Metadata   Metadata    `json:"metadata"`
	Components []Component `json:"components"`
	BackMatter BackMatter  `json:"back-matter"`
}

type SystemCharacteristics struct {
	SystemName  string `json:"system-name"`
	Description string `json:"description"`
}

type ImportProfile struct {
	Href string `json:"href"`
}

type SystemSecurityPlan struct {
	UUID                  string                `json:"uuid"`
	Metadata              Metadata              `json:"metadata"`
	ImportProfile         ImportProfile         `json:"import-profile"`
	SystemCharacteristics SystemCharacteristics `json:"system-characteristics"`
	BackMatter            BackMatter            `json:"back-matter"`
}

type Subject struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type Observation struct {
	UUID        string     `json:"uuid"`
	Description string     `json:"description"`
	Props       []Property `json:"props"`
	Subjects    []Subject  `json:"subjects"`
}

// Present reports the evidence-present property of the observation.
func (o Observation) Present() bool {
	for _, p := range o.Props {
		if p.Name == PropEvidencePresent {
			return p.Value == "true"
		}
	}
	return false
}

type Finding struct {
	UUID        string  `json:"uuid"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Target      Subject `json:"target"`
}

type Result struct {
	UUID         string        `json:"uuid"`
	Title        string        `json:"title"`
	Start        string        `json:"start"`
	Observations []Observation `json:"observations"`
	Findings     []Finding     `json:"findings"`
}

type AssessmentResults struct {
	UUID       string     `json:"uuid"`
	Metadata   Metadata   `json:"metadata"`
	Results    []Result   `json:"results"`
	BackMatter BackMatter `json:"back-matter"`
}

type Status struct {
	State string `json:"state"`
}

type POAMItem struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

type POAM struct {
	UUID       string     `json:"uuid"`
	Metadata   Metadata   `json:"metadata"`
	POAMItems  []POAMItem `json:"poam-items"`
	BackMatter BackMatter `json:"back-matter"`
}

// Top-level envelopes, one per document file.

type ComponentDefinitionDocument struct {
	ComponentDefinition ComponentDefinition `json:"component-definition"`
}

type SystemSecurityPlanDocument struct {
	SystemSecurityPlan SystemSecurityPlan `json:"system-security-plan"`
}

type AssessmentResultsDocument struct {
	AssessmentResults AssessmentResults `json:"assessment-results"`
}

type POAMDocument struct {
	POAM POAM `json:"plan-of-action-and-milestones"`
}
