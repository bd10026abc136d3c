package logic

import (
	"fmt"

	"isaac/internal/binary"
	"isaac/pkg/domain"
)

// FormatVersion is the current logic graph encoding.
const FormatVersion uint8 = 1

// Encode serializes e with nids written verbatim.
func Encode(e *Expression) ([]byte, error) {
	w := binary.NewWriter()
	EncodeTo(w, e)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Expression, error) {
	return DecodeFrom(binary.NewReader(data))
}

// EncodeTo writes e using w, so a portable writer emits UUIDs for nids.
func EncodeTo(w *binary.Writer, e *Expression) {
	w.WriteUint8(FormatVersion)
	w.WriteNid(e.conceptNid)
	w.WriteUvarint(uint64(len(e.nodes)))
	w.WriteUvarint(uint64(e.root))
	for _, n := range e.nodes {
		w.WriteUint8(uint8(n.Semantic))
		switch n.Semantic {
		case SemanticConcept, SemanticRoleAll, SemanticRoleSome:
			w.WriteNid(n.ConceptNid)
		case SemanticFeature:
			w.WriteNid(n.ConceptNid)
			w.WriteUint8(uint8(n.Operator))
		case SemanticTemplate:
			w.WriteNid(n.TemplateNid)
			w.WriteNid(n.AssemblageNid)
		case SemanticLiteralBoolean:
			w.WriteBool(n.Boolean)
		case SemanticLiteralFloat:
			w.WriteFloat64(n.Float)
		case SemanticLiteralInstant, SemanticLiteralInteger:
			w.WriteInt64(n.Integer)
		case SemanticLiteralString:
			w.WriteString(n.String)
		default:
			if n.Semantic.IsSubstitution() {
				w.WriteString(n.String)
			}
		}
		w.WriteUvarint(uint64(len(n.children)))
		for _, c := range n.children {
			w.WriteUvarint(uint64(c))
		}
	}
}

// DecodeFrom reads an expression written by EncodeTo. Unknown format
// versions are rejected rather than guessed at.
func DecodeFrom(r *binary.Reader) (*Expression, error) {
	if v := r.ReadUint8(); r.Err() == nil && v != FormatVersion {
		return nil, fmt.Errorf("%w: logic graph format %d", domain.ErrUnknownFormatVersion, v)
	}
	e := &Expression{conceptNid: r.ReadNid(), root: -1}
	count := r.ReadUvarint()
	root := r.ReadUvarint()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if count > uint64(r.Remaining()) || root >= count {
		return nil, fmt.Errorf("%w: logic graph header count=%d root=%d", domain.ErrCorruptState, count, root)
	}
	e.root = int(root)
	e.nodes = make([]Node, count)
	for i := range e.nodes {
		e.nodes[i].parent = -1
	}
	for i := range e.nodes {
		n := &e.nodes[i]
		n.Semantic = NodeSemantic(r.ReadUint8())
		switch n.Semantic {
		case SemanticConcept, SemanticRoleAll, SemanticRoleSome:
			n.ConceptNid = r.ReadNid()
		case SemanticFeature:
			n.ConceptNid = r.ReadNid()
			n.Operator = Operator(r.ReadUint8())
		case SemanticTemplate:
			n.TemplateNid = r.ReadNid()
			n.AssemblageNid = r.ReadNid()
		case SemanticLiteralBoolean:
			n.Boolean = r.ReadBool()
		case SemanticLiteralFloat:
			n.Float = r.ReadFloat64()
		case SemanticLiteralInstant, SemanticLiteralInteger:
			n.Integer = r.ReadInt64()
		case SemanticLiteralString:
			n.String = r.ReadString()
		default:
			if n.Semantic.IsSubstitution() {
				n.String = r.ReadString()
			} else if !n.Semantic.isConnector() {
				r.Fail(fmt.Errorf("%w: node %d has unknown semantic %d", domain.ErrCorruptState, i, n.Semantic))
			}
		}
		kids := r.ReadUvarint()
		if kids > count {
			r.Fail(fmt.Errorf("%w: node %d claims %d children", domain.ErrCorruptState, i, kids))
		}
		for k := uint64(0); k < kids && r.Err() == nil; k++ {
			c := r.ReadUvarint()
			if c >= count || int(c) == e.root || int(c) == i || e.nodes[c].parent >= 0 {
				r.Fail(fmt.Errorf("%w: node %d has invalid child %d", domain.ErrCorruptState, i, c))
				break
			}
			e.nodes[c].parent = i
			n.children = append(n.children, int(c))
		}
		if r.Err() != nil {
			return nil, r.Err()
		}
	}
	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptState, err)
	}
	if err := e.checkAcyclic(); err != nil {
		return nil, err
	}
	if err := e.InitNodeUUIDs(nil); err != nil {
		return nil, err
	}
	return e, nil
}

// checkAcyclic confirms every node is reachable from the root exactly once.
func (e *Expression) checkAcyclic() error {
	seen := make([]bool, len(e.nodes))
	stack := []int{e.root}
	visited := 0
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			return fmt.Errorf("%w: node %d reached twice", domain.ErrCorruptState, i)
		}
		seen[i] = true
		visited++
		stack = append(stack, e.nodes[i].children...)
	}
	if visited != len(e.nodes) {
		return fmt.Errorf("%w: %d of %d nodes unreachable", domain.ErrCorruptState, len(e.nodes)-visited, len(e.nodes))
	}
	return nil
}
