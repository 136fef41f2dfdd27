package catalog

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Facts are the variables visible to an evidence predicate.
type Facts struct {
	ControlID        string
	Category         string
	Decisions        int
	DeletionEvidence bool
	StaleWindows     int
	Windows          int
	CIFailed         bool
	CDFailed         bool
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"control_id":        f.ControlID,
		"category":          f.Category,
		"decisions":         int64(f.Decisions),
		"deletion_evidence": f.DeletionEvidence,
		"stale_windows":     int64(f.StaleWindows),
		"windows":           int64(f.Windows),
		"ci_failed":         f.CIFailed,
		"cd_failed":         f.CDFailed,
	}
}

// PredicateSet holds the compiled predicates of a catalog, keyed by
// control id. Controls without a predicate are absent.
type PredicateSet struct {
	programs map[string]cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("control_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("decisions", cel.IntType),
		cel.Variable("deletion_evidence", cel.BoolType),
		cel.Variable("stale_windows", cel.IntType),
		cel.Variable("windows", cel.IntType),
		cel.Variable("ci_failed", cel.BoolType),
		cel.Variable("cd_failed", cel.BoolType),
	)
}

// CompilePredicates compiles every non-empty Evidence expression. An
// expression that does not compile or does not yield a bool is an error.
func CompilePredicates(controls []Control) (*PredicateSet, error) {
	set := &PredicateSet{programs: make(map[string]cel.Program)}

	var env *cel.Env
	for _, c := range controls {
		if c.Evidence == "" {
			continue
		}
		if env == nil {
			var err error
			if env, err = newEnv(); err != nil {
				return nil, fmt.Errorf("failed to create CEL env: %w", err)
			}
		}
		ast, issues := env.Compile(c.Evidence)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("control %s evidence compilation error: %w", c.ID, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("control %s evidence must be a boolean expression, got %s", c.ID, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("control %s program creation error: %w", c.ID, err)
		}
		set.programs[c.ID] = prg
	}
	return set, nil
}

// Len returns the number of compiled predicates.
func (s *PredicateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.programs)
}

// Holds evaluates the predicate of facts.ControlID. A control without a
// predicate holds trivially. Evaluation errors count as not holding.
func (s *PredicateSet) Holds(facts Facts) (bool, error) {
	if s == nil {
		return true, nil
	}
	prg, ok := s.programs[facts.ControlID]
	if !ok {
		return true, nil
	}
	out, _, err := prg.Eval(facts.activation())
	if err != nil {
		return false, fmt.Errorf("control %s evidence evaluation failed: %w", facts.ControlID, err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("control %s evidence returned %T", facts.ControlID, out.Value())
	}
	return match, nil
}
