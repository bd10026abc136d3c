package logic

import (
	"bytes"
	encbin "encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
)

// nodeNamespace seeds the name-based identities of logic nodes.
var nodeNamespace = uuid.MustParse("d96cb408-b9ae-473d-a08d-ece06dbcedf9")

// NidResolver maps a nid onto its primordial UUID.
type NidResolver func(nid int32) (uuid.UUID, error)

// InitNodeUUIDs recomputes every node identity bottom-up. A node's identity
// is derived from its semantic, its own content and the sorted identities of
// its children, so sibling order never affects it. With a nil resolver nids
// are hashed directly; with a resolver they are replaced by their UUIDs,
// which makes identities comparable across databases.
func (e *Expression) InitNodeUUIDs(resolve NidResolver) error {
	if e.root < 0 {
		return nil
	}
	var visit func(int) error
	visit = func(i int) error {
		n := &e.nodes[i]
		childIDs := make([]uuid.UUID, 0, len(n.children))
		for _, c := range n.children {
			if err := visit(c); err != nil {
				return err
			}
			childIDs = append(childIDs, e.nodes[c].uuid)
		}
		slices.SortFunc(childIDs, compareUUID)

		var buf bytes.Buffer
		buf.WriteByte(byte(n.Semantic))
		ref := func(nid int32) error {
			if resolve == nil {
				return encbin.Write(&buf, encbin.BigEndian, nid)
			}
			u, err := resolve(nid)
			if err != nil {
				return fmt.Errorf("resolve nid %d for %s node: %w", nid, n.Semantic, err)
			}
			buf.Write(u[:])
			return nil
		}
		var err error
		switch n.Semantic {
		case SemanticConcept, SemanticRoleAll, SemanticRoleSome:
			err = ref(n.ConceptNid)
		case SemanticFeature:
			err = ref(n.ConceptNid)
			buf.WriteByte(byte(n.Operator))
		case SemanticTemplate:
			if err = ref(n.TemplateNid); err == nil {
				err = ref(n.AssemblageNid)
			}
		case SemanticLiteralBoolean:
			if n.Boolean {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		case SemanticLiteralFloat:
			_ = encbin.Write(&buf, encbin.BigEndian, math.Float64bits(n.Float))
		case SemanticLiteralInstant, SemanticLiteralInteger:
			_ = encbin.Write(&buf, encbin.BigEndian, n.Integer)
		case SemanticLiteralString:
			buf.WriteString(n.String)
		default:
			if n.Semantic.IsSubstitution() {
				buf.WriteString(n.String)
			}
		}
		if err != nil {
			return err
		}
		for _, id := range childIDs {
			buf.Write(id[:])
		}
		n.uuid = uuid.NewSHA1(nodeNamespace, buf.Bytes())
		return nil
	}
	return visit(e.root)
}

func compareUUID(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }

// Canonical returns a copy with nodes renumbered depth-first and siblings
// ordered by identity. Two equivalent expressions have identical canonical
// forms.
func (e *Expression) Canonical() *Expression {
	out := &Expression{conceptNid: e.conceptNid, root: -1}
	if e.root < 0 {
		return out
	}
	var copyNode func(src, parent int) int
	copyNode = func(src, parent int) int {
		n := e.nodes[src]
		n.parent = parent
		n.children = nil
		out.nodes = append(out.nodes, n)
		idx := len(out.nodes) - 1
		children := slices.Clone(e.nodes[src].children)
		slices.SortStableFunc(children, func(a, b int) int {
			return compareUUID(e.nodes[a].uuid, e.nodes[b].uuid)
		})
		for _, c := range children {
			child := copyNode(c, idx)
			out.nodes[idx].children = append(out.nodes[idx].children, child)
		}
		return idx
	}
	out.root = copyNode(e.root, -1)
	return out
}

// Equivalent reports whether a and b define the same concept with the same
// content, regardless of node insertion order.
func Equivalent(a, b *Expression) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.root < 0 || b.root < 0 {
		return a.root < 0 && b.root < 0 && a.conceptNid == b.conceptNid
	}
	return a.conceptNid == b.conceptNid && a.RootUUID() == b.RootUUID()
}
