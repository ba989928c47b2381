package scheduler

import (
	"fmt"
	"strconv"

	"github.com/latticerun/dispatcher/pkg/transport"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// evaluatePure computes a parameter/subscript/attribute/generator node
// inline, per §4.5 step 3a: parameter nodes take their value attribute;
// subscript/generator nodes index the sole parent's output by key;
// attribute nodes read attribute_name off the sole parent's output.
func evaluatePure(graph *transport.Graph, node *transport.Node, outputs transport.OutputLookup) (transportable.Transportable, error) {
	switch {
	case node.HasValue:
		return node.Value, nil

	case node.IsSublattice():
		return transportable.Transportable{}, fmt.Errorf("node %d: sublattice nodes are not pure", node.ID)

	default:
		parents := graph.Dependencies(node.ID)
		if len(parents) != 1 {
			return transportable.Transportable{}, fmt.Errorf("node %d: expected exactly one parent, got %d", node.ID, len(parents))
		}
		parentOut, ok := outputs(parents[0])
		if !ok {
			return transportable.Transportable{}, fmt.Errorf("node %d: parent %d has no output", node.ID, parents[0])
		}
		v, err := transportable.MaterializeAny(parentOut)
		if err != nil {
			return transportable.Transportable{}, fmt.Errorf("node %d: %w", node.ID, err)
		}

		var projected any
		switch {
		case node.AttributeName != "":
			projected, err = indexValue(v, node.AttributeName)
		default:
			projected, err = indexValue(v, node.Key)
		}
		if err != nil {
			return transportable.Transportable{}, fmt.Errorf("node %d: %w", node.ID, err)
		}
		return transportable.Wrap(projected)
	}
}

// indexValue projects key off v: a map is indexed by key directly; a slice
// is indexed by key parsed as an integer.
func indexValue(v any, key string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		val, ok := t[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		return val, nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("non-integer index %q into list", key)
		}
		if idx < 0 || idx >= len(t) {
			return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(t))
		}
		return t[idx], nil
	default:
		return nil, fmt.Errorf("cannot index value of type %T", v)
	}
}
