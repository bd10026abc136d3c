// Package logic models EL++ logical expressions as an arena of nodes.
package logic

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"isaac/pkg/domain"
)

// NodeSemantic is the kind of a logic node. Values are persisted and hashed
// into node identities, so they must not be renumbered.
type NodeSemantic uint8

const (
	SemanticDefinitionRoot NodeSemantic = iota + 1
	SemanticNecessarySet
	SemanticSufficientSet
	SemanticAnd
	SemanticOr
	SemanticDisjointWith
	SemanticRoleAll
	SemanticRoleSome
	SemanticConcept
	SemanticFeature
	SemanticLiteralBoolean
	SemanticLiteralFloat
	SemanticLiteralInstant
	SemanticLiteralInteger
	SemanticLiteralString
	SemanticTemplate
	SemanticSubstitutionConcept
	SemanticSubstitutionBoolean
	SemanticSubstitutionFloat
	SemanticSubstitutionInstant
	SemanticSubstitutionInteger
	SemanticSubstitutionString
)

var semanticNames = map[NodeSemantic]string{
	SemanticDefinitionRoot:      "DEFINITION_ROOT",
	SemanticNecessarySet:        "NECESSARY_SET",
	SemanticSufficientSet:       "SUFFICIENT_SET",
	SemanticAnd:                 "AND",
	SemanticOr:                  "OR",
	SemanticDisjointWith:        "DISJOINT_WITH",
	SemanticRoleAll:             "ROLE_ALL",
	SemanticRoleSome:            "ROLE_SOME",
	SemanticConcept:             "CONCEPT",
	SemanticFeature:             "FEATURE",
	SemanticLiteralBoolean:      "LITERAL_BOOLEAN",
	SemanticLiteralFloat:        "LITERAL_FLOAT",
	SemanticLiteralInstant:      "LITERAL_INSTANT",
	SemanticLiteralInteger:      "LITERAL_INTEGER",
	SemanticLiteralString:       "LITERAL_STRING",
	SemanticTemplate:            "TEMPLATE",
	SemanticSubstitutionConcept: "SUBSTITUTION_CONCEPT",
	SemanticSubstitutionBoolean: "SUBSTITUTION_BOOLEAN",
	SemanticSubstitutionFloat:   "SUBSTITUTION_FLOAT",
	SemanticSubstitutionInstant: "SUBSTITUTION_INSTANT",
	SemanticSubstitutionInteger: "SUBSTITUTION_INTEGER",
	SemanticSubstitutionString:  "SUBSTITUTION_STRING",
}

func (s NodeSemantic) String() string {
	if name, ok := semanticNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SEMANTIC(%d)", uint8(s))
}

// Valid reports whether s is a known semantic.
func (s NodeSemantic) Valid() bool {
	_, ok := semanticNames[s]
	return ok
}

func (s NodeSemantic) isConnector() bool {
	switch s {
	case SemanticDefinitionRoot, SemanticNecessarySet, SemanticSufficientSet,
		SemanticAnd, SemanticOr, SemanticDisjointWith:
		return true
	}
	return false
}

// singleChild reports whether the node wraps exactly one child.
func (s NodeSemantic) singleChild() bool {
	return s == SemanticRoleAll || s == SemanticRoleSome || s == SemanticFeature
}

// IsLiteral reports whether s is a literal value node.
func (s NodeSemantic) IsLiteral() bool {
	return s >= SemanticLiteralBoolean && s <= SemanticLiteralString
}

// IsSubstitution reports whether s is a substitution placeholder.
func (s NodeSemantic) IsSubstitution() bool {
	return s >= SemanticSubstitutionConcept && s <= SemanticSubstitutionString
}

// Operator is the comparison of a feature node.
type Operator uint8

const (
	OperatorEquals Operator = iota
	OperatorLessThan
	OperatorLessThanOrEquals
	OperatorGreaterThan
	OperatorGreaterThanOrEquals
)

// Node is one element of an expression. Only the fields relevant to the
// node's semantic are meaningful.
type Node struct {
	Semantic NodeSemantic
	// ConceptNid is the referenced concept, or the type of a role or feature.
	ConceptNid    int32
	Operator      Operator
	TemplateNid   int32
	AssemblageNid int32
	Boolean       bool
	Float         float64
	// Integer holds integer literals and instants (epoch milliseconds).
	Integer int64
	// String holds string literals and substitution field names.
	String string

	children []int
	parent   int
	uuid     uuid.UUID
}

// Children returns the child indexes of the node.
func (n Node) Children() []int { return slices.Clone(n.children) }

// UUID returns the content-derived identity of the node.
func (n Node) UUID() uuid.UUID { return n.uuid }

// Expression is an arena of nodes with a single definition root.
type Expression struct {
	conceptNid int32
	nodes      []Node
	root       int
}

// ConceptNid returns the concept the expression defines.
func (e *Expression) ConceptNid() int32 { return e.conceptNid }

// Len returns the number of nodes.
func (e *Expression) Len() int { return len(e.nodes) }

// Root returns the index of the definition root.
func (e *Expression) Root() int { return e.root }

// Node returns a copy of the node at index.
func (e *Expression) Node(index int) Node {
	n := e.nodes[index]
	n.children = slices.Clone(n.children)
	return n
}

// NodeUUID returns the identity of the node at index.
func (e *Expression) NodeUUID(index int) uuid.UUID { return e.nodes[index].uuid }

// RootUUID returns the identity of the whole expression.
func (e *Expression) RootUUID() uuid.UUID { return e.nodes[e.root].uuid }

// Walk visits nodes depth-first from the root in child order until fn
// returns false.
func (e *Expression) Walk(fn func(index int, n Node) bool) {
	var visit func(int) bool
	visit = func(i int) bool {
		if !fn(i, e.Node(i)) {
			return false
		}
		for _, c := range e.nodes[i].children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(e.root)
}

// Builder assembles an expression. Constructor errors are sticky and
// reported by Build.
type Builder struct {
	expr *Expression
	err  error
}

// NewBuilder starts an expression defining conceptNid.
func NewBuilder(conceptNid int32) *Builder {
	return &Builder{expr: &Expression{conceptNid: conceptNid, root: -1}}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) add(n Node, children ...int) int {
	n.parent = -1
	b.expr.nodes = append(b.expr.nodes, n)
	idx := len(b.expr.nodes) - 1
	if len(children) > 0 {
		if err := b.AddChildren(idx, children...); err != nil {
			b.fail(err)
		}
	}
	return idx
}

// Root creates the definition root. An expression has exactly one.
func (b *Builder) Root(children ...int) int {
	if b.expr.root >= 0 {
		b.fail(fmt.Errorf("%w: expression already has a root", domain.ErrInvalidArgument))
	}
	idx := b.add(Node{Semantic: SemanticDefinitionRoot}, children...)
	if b.expr.root < 0 {
		b.expr.root = idx
	}
	return idx
}

func (b *Builder) Necessary(children ...int) int {
	return b.add(Node{Semantic: SemanticNecessarySet}, children...)
}

func (b *Builder) Sufficient(children ...int) int {
	return b.add(Node{Semantic: SemanticSufficientSet}, children...)
}

func (b *Builder) And(children ...int) int {
	return b.add(Node{Semantic: SemanticAnd}, children...)
}

func (b *Builder) Or(children ...int) int {
	return b.add(Node{Semantic: SemanticOr}, children...)
}

func (b *Builder) DisjointWith(children ...int) int {
	return b.add(Node{Semantic: SemanticDisjointWith}, children...)
}

// ConceptRef references a concept.
func (b *Builder) ConceptRef(conceptNid int32) int {
	return b.add(Node{Semantic: SemanticConcept, ConceptNid: conceptNid})
}

// SomeRole is an existential restriction over typeNid.
func (b *Builder) SomeRole(typeNid int32, child int) int {
	return b.add(Node{Semantic: SemanticRoleSome, ConceptNid: typeNid}, child)
}

// AllRole is a universal restriction over typeNid.
func (b *Builder) AllRole(typeNid int32, child int) int {
	return b.add(Node{Semantic: SemanticRoleAll, ConceptNid: typeNid}, child)
}

// Feature compares the value of typeNid against a literal or substitution.
func (b *Builder) Feature(typeNid int32, op Operator, value int) int {
	return b.add(Node{Semantic: SemanticFeature, ConceptNid: typeNid, Operator: op}, value)
}

func (b *Builder) BooleanLiteral(v bool) int {
	return b.add(Node{Semantic: SemanticLiteralBoolean, Boolean: v})
}

func (b *Builder) FloatLiteral(v float64) int {
	return b.add(Node{Semantic: SemanticLiteralFloat, Float: v})
}

func (b *Builder) InstantLiteral(epochMillis int64) int {
	return b.add(Node{Semantic: SemanticLiteralInstant, Integer: epochMillis})
}

func (b *Builder) IntegerLiteral(v int64) int {
	return b.add(Node{Semantic: SemanticLiteralInteger, Integer: v})
}

func (b *Builder) StringLiteral(v string) int {
	return b.add(Node{Semantic: SemanticLiteralString, String: v})
}

// Template stands for the values of assemblageNid substituted into
// templateNid. It never has children.
func (b *Builder) Template(templateNid, assemblageNid int32) int {
	return b.add(Node{Semantic: SemanticTemplate, TemplateNid: templateNid, AssemblageNid: assemblageNid})
}

// Substitution is a placeholder filled from a template's assemblage field.
func (b *Builder) Substitution(semantic NodeSemantic, field string) int {
	if !semantic.IsSubstitution() {
		b.fail(fmt.Errorf("%w: %s is not a substitution", domain.ErrInvalidArgument, semantic))
	}
	return b.add(Node{Semantic: semantic, String: field})
}

// AddChildren attaches children to parent. Templates, literals, concept
// references and substitutions take no children.
func (b *Builder) AddChildren(parent int, children ...int) error {
	nodes := b.expr.nodes
	if parent < 0 || parent >= len(nodes) {
		return fmt.Errorf("%w: node %d does not exist", domain.ErrInvalidArgument, parent)
	}
	p := &nodes[parent]
	switch {
	case p.Semantic == SemanticTemplate:
		return fmt.Errorf("%w: template nodes do not take children", domain.ErrUnsupported)
	case !p.Semantic.isConnector() && !p.Semantic.singleChild():
		return fmt.Errorf("%w: %s nodes do not take children", domain.ErrUnsupported, p.Semantic)
	case p.Semantic.singleChild() && len(p.children)+len(children) != 1:
		return fmt.Errorf("%w: %s nodes take exactly one child", domain.ErrInvalidArgument, p.Semantic)
	}
	for _, c := range children {
		if c < 0 || c >= len(nodes) || c == parent {
			return fmt.Errorf("%w: invalid child %d for node %d", domain.ErrInvalidArgument, c, parent)
		}
		if nodes[c].parent >= 0 {
			return fmt.Errorf("%w: node %d already has parent %d", domain.ErrInvalidArgument, c, nodes[c].parent)
		}
		if c == b.expr.root || b.isAncestor(c, parent) {
			return fmt.Errorf("%w: attaching node %d under %d would form a cycle", domain.ErrInvalidArgument, c, parent)
		}
		if p.Semantic == SemanticFeature && !nodes[c].Semantic.IsLiteral() && !nodes[c].Semantic.IsSubstitution() {
			return fmt.Errorf("%w: feature value must be a literal or substitution, got %s", domain.ErrInvalidArgument, nodes[c].Semantic)
		}
	}
	for _, c := range children {
		nodes[c].parent = parent
		p.children = append(p.children, c)
	}
	return nil
}

func (b *Builder) isAncestor(candidate, node int) bool {
	for cur := node; cur >= 0; cur = b.expr.nodes[cur].parent {
		if cur == candidate {
			return true
		}
	}
	return false
}

// Build validates the expression and computes node identities from nids.
func (b *Builder) Build() (*Expression, error) {
	if b.err != nil {
		return nil, b.err
	}
	e := b.expr
	if err := e.validate(); err != nil {
		return nil, err
	}
	if err := e.InitNodeUUIDs(nil); err != nil {
		return nil, err
	}
	b.expr = &Expression{conceptNid: e.conceptNid, root: -1}
	return e, nil
}

func (e *Expression) validate() error {
	if e.root < 0 || e.root >= len(e.nodes) || e.nodes[e.root].Semantic != SemanticDefinitionRoot {
		return fmt.Errorf("%w: expression has no definition root", domain.ErrInvalidArgument)
	}
	for i, n := range e.nodes {
		if !n.Semantic.Valid() {
			return fmt.Errorf("%w: node %d has unknown semantic %d", domain.ErrInvalidArgument, i, n.Semantic)
		}
		if i != e.root && n.parent < 0 {
			return fmt.Errorf("%w: node %d (%s) is not attached", domain.ErrInvalidArgument, i, n.Semantic)
		}
		if n.Semantic == SemanticDefinitionRoot && i != e.root {
			return fmt.Errorf("%w: second definition root at node %d", domain.ErrInvalidArgument, i)
		}
		if n.Semantic.singleChild() && len(n.children) != 1 {
			return fmt.Errorf("%w: %s node %d needs one child", domain.ErrInvalidArgument, n.Semantic, i)
		}
	}
	return nil
}
