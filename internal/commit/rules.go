package commit

import (
	"context"
	"fmt"
	"strings"

	"isaac/internal/logic"
	"isaac/pkg/domain"
)

// NewDefaultRulesEngine builds an engine with the built-in change checkers.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(DescriptionTextRule())
	engine.Register(ReferencedComponentRule())
	engine.Register(LogicGraphRule())
	return engine
}

// uncommitted yields the versions of a change that are still being edited.
func uncommitted(change domain.Change) []*domain.Version {
	var out []*domain.Version
	for _, seq := range change.StampSequences {
		if v, ok := change.Chronology.VersionForStamp(seq); ok {
			out = append(out, v)
		}
	}
	return out
}

// DescriptionTextRule blocks descriptions with blank text.
func DescriptionTextRule() domain.Rule { return descriptionTextRule{} }

type descriptionTextRule struct{}

func (descriptionTextRule) Name() string { return "description_text" }

func (r descriptionTextRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Chronology.VersionType() != domain.VersionDescription {
			continue
		}
		for _, v := range uncommitted(change) {
			desc, ok := v.Data().(domain.DescriptionData)
			if !ok || strings.TrimSpace(desc.Text) == "" {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("description %d has empty text", change.Nid),
					Nid:      change.Nid,
				})
			}
		}
	}
	return res, nil
}

// ReferencedComponentRule blocks semantics attached to unknown components.
func ReferencedComponentRule() domain.Rule { return referencedComponentRule{} }

type referencedComponentRule struct{}

func (referencedComponentRule) Name() string { return "referenced_component" }

func (r referencedComponentRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.ObjectType != domain.ObjectSemantic {
			continue
		}
		ref := change.Chronology.ReferencedComponentNid()
		if !view.HasNid(ref) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("semantic %d references unknown component %d", change.Nid, ref),
				Nid:      change.Nid,
			})
		}
	}
	return res, nil
}

// LogicGraphRule blocks logic graphs that do not decode to a rooted
// expression, and warns when the graph defines a different concept than
// the one it is attached to.
func LogicGraphRule() domain.Rule { return logicGraphRule{} }

type logicGraphRule struct{}

func (logicGraphRule) Name() string { return "logic_graph" }

func (r logicGraphRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Chronology.VersionType() != domain.VersionLogicGraph {
			continue
		}
		for _, v := range uncommitted(change) {
			data, _ := v.Data().(domain.LogicGraphData)
			expr, err := logic.Decode(data.Graph)
			if err != nil {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("logic graph %d: %v", change.Nid, err),
					Nid:      change.Nid,
				})
				continue
			}
			if ref := change.Chronology.ReferencedComponentNid(); expr.ConceptNid() != ref {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityWarn,
					Message:  fmt.Sprintf("logic graph %d defines %d but is attached to %d", change.Nid, expr.ConceptNid(), ref),
					Nid:      change.Nid,
				})
			}
		}
	}
	return res, nil
}
