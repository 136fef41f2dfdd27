// Package evidence defines the record types found in the decision and event
// logs and validates them line by line.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DrSkyle/eviid/pkg/config"
)

// ErrSchema marks a line that is valid JSON but not a usable record.
var ErrSchema = errors.New("record does not match schema")

// Event is one line of the workload event log.
type Event struct {
	Type       string
	Allow      *bool
	DurationMS *float64
	TS         *float64
}

// ParseEvent validates one event-log line. Optional fields of the wrong
// type are treated as absent; a non-string type is a schema failure.
func ParseEvent(line []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, err
	}
	if raw == nil {
		return Event{}, fmt.Errorf("%w: event is not an object", ErrSchema)
	}

	var ev Event
	if t, ok := raw["type"]; ok && !isNull(t) {
		if err := json.Unmarshal(t, &ev.Type); err != nil {
			return Event{}, fmt.Errorf("%w: type must be a string", ErrSchema)
		}
	}
	ev.Allow = optionalBool(raw["allow"])
	ev.DurationMS = optionalNumber(raw["duration_ms"])
	ev.TS = optionalNumber(raw["ts"])
	return ev, nil
}

// Endpoint resolves the logical endpoint named by the event type using the
// first matching rule. It returns nil when no rule matches.
func (e Event) Endpoint(rules []config.EndpointRule) *config.EndpointRule {
	for i := range rules {
		if rules[i].Match != "" && strings.Contains(e.Type, rules[i].Match) {
			return &rules[i]
		}
	}
	return nil
}

// Decision is one line of the policy decision log. Only field presence is
// validated; the policy engine owns the record shape.
type Decision struct {
	ReleaseID string
	Fields    []string
}

// ParseDecision validates one decision-log line. The declared field set is
// taken from input.request.log_fields when present, otherwise from the
// record's top-level keys.
func ParseDecision(line []byte) (Decision, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Decision{}, err
	}
	if raw == nil {
		return Decision{}, fmt.Errorf("%w: decision is not an object", ErrSchema)
	}

	var d Decision
	request, _ := lookup(raw, "input", "request").(map[string]any)

	if declared, ok := request["log_fields"].([]any); ok {
		for _, f := range declared {
			if s, ok := f.(string); ok {
				d.Fields = append(d.Fields, s)
			}
		}
	} else {
		for k := range raw {
			d.Fields = append(d.Fields, k)
		}
	}
	sort.Strings(d.Fields)

	if id, ok := raw["release_id"].(string); ok {
		d.ReleaseID = id
	} else if id, ok := request["release_id"].(string); ok {
		d.ReleaseID = id
	}
	return d, nil
}

// MissingFields returns the required fields the record does not declare.
func (d Decision) MissingFields(required []string) []string {
	have := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		have[f] = true
	}
	var missing []string
	for _, f := range required {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// SchemaOK reports whether every required field is declared.
func (d Decision) SchemaOK(required []string) bool {
	return len(d.MissingFields(required)) == 0
}

// AppliesTo reports whether the record counts as evidence for release.
// Records that name no release apply to every release.
func (d Decision) AppliesTo(release string) bool {
	return d.ReleaseID == "" || d.ReleaseID == release
}

func lookup(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func optionalBool(raw json.RawMessage) *bool {
	if raw == nil {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

func optionalNumber(raw json.RawMessage) *float64 {
	if raw == nil {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}
