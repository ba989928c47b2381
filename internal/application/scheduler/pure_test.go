package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticerun/dispatcher/pkg/transport"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

func TestEvaluatePure_ParameterNode(t *testing.T) {
	g := transport.NewGraph()
	n := &transport.Node{ID: 1, Name: transport.MarkerParameter + "x", Value: transportable.MustWrap(7), HasValue: true}
	g.AddNode(n)

	out, err := evaluatePure(g, n, nil)
	require.NoError(t, err)

	var v int
	require.NoError(t, transportable.Materialize(out, &v))
	assert.Equal(t, 7, v)
}

func TestEvaluatePure_SubscriptNode_IndexesList(t *testing.T) {
	g := transport.NewGraph()
	parent := &transport.Node{ID: 1, Name: "task"}
	child := &transport.Node{ID: 2, Name: transport.MarkerSubscript + "1", Key: "1"}
	g.AddNode(parent)
	g.AddNode(child)
	g.AddEdge(1, 2, transport.EdgeRecord{ParamType: transport.ParamArg})

	outputs := func(id int) (transportable.Transportable, bool) {
		if id == 1 {
			return transportable.MustWrap([]any{"a", "b", "c"}), true
		}
		return transportable.Transportable{}, false
	}

	out, err := evaluatePure(g, child, outputs)
	require.NoError(t, err)

	var v string
	require.NoError(t, transportable.Materialize(out, &v))
	assert.Equal(t, "b", v)
}

func TestEvaluatePure_SubscriptNode_IndexesMap(t *testing.T) {
	g := transport.NewGraph()
	parent := &transport.Node{ID: 1, Name: "task"}
	child := &transport.Node{ID: 2, Name: transport.MarkerSubscript + "k", Key: "name"}
	g.AddNode(parent)
	g.AddNode(child)
	g.AddEdge(1, 2, transport.EdgeRecord{ParamType: transport.ParamArg})

	outputs := func(id int) (transportable.Transportable, bool) {
		return transportable.MustWrap(map[string]any{"name": "alice"}), true
	}

	out, err := evaluatePure(g, child, outputs)
	require.NoError(t, err)
	var v string
	require.NoError(t, transportable.Materialize(out, &v))
	assert.Equal(t, "alice", v)
}

func TestEvaluatePure_AttributeNode(t *testing.T) {
	g := transport.NewGraph()
	parent := &transport.Node{ID: 1, Name: "task"}
	child := &transport.Node{ID: 2, Name: transport.MarkerAttribute + "field", AttributeName: "field"}
	g.AddNode(parent)
	g.AddNode(child)
	g.AddEdge(1, 2, transport.EdgeRecord{ParamType: transport.ParamArg})

	outputs := func(id int) (transportable.Transportable, bool) {
		return transportable.MustWrap(map[string]any{"field": 99.0}), true
	}

	out, err := evaluatePure(g, child, outputs)
	require.NoError(t, err)
	var v float64
	require.NoError(t, transportable.Materialize(out, &v))
	assert.Equal(t, 99.0, v)
}

func TestEvaluatePure_SublatticeNotPure(t *testing.T) {
	g := transport.NewGraph()
	n := &transport.Node{ID: 1, Name: transport.MarkerSublattice + "0"}
	g.AddNode(n)
	_, err := evaluatePure(g, n, nil)
	assert.Error(t, err)
}

func TestEvaluatePure_WrongParentCount(t *testing.T) {
	g := transport.NewGraph()
	child := &transport.Node{ID: 3, Name: transport.MarkerSubscript + "0", Key: "0"}
	g.AddNode(child)
	_, err := evaluatePure(g, child, nil)
	assert.Error(t, err)
}

func TestEvaluatePure_MissingParentOutput(t *testing.T) {
	g := transport.NewGraph()
	parent := &transport.Node{ID: 1, Name: "task"}
	child := &transport.Node{ID: 2, Name: transport.MarkerSubscript + "0", Key: "0"}
	g.AddNode(parent)
	g.AddNode(child)
	g.AddEdge(1, 2, transport.EdgeRecord{ParamType: transport.ParamArg})

	outputs := func(id int) (transportable.Transportable, bool) { return transportable.Transportable{}, false }
	_, err := evaluatePure(g, child, outputs)
	assert.Error(t, err)
}

func TestIndexValue_OutOfRange(t *testing.T) {
	_, err := indexValue([]any{1, 2}, "5")
	assert.Error(t, err)
}

func TestIndexValue_NonIntegerIndexIntoList(t *testing.T) {
	_, err := indexValue([]any{1, 2}, "x")
	assert.Error(t, err)
}

func TestIndexValue_MissingKey(t *testing.T) {
	_, err := indexValue(map[string]any{"a": 1}, "b")
	assert.Error(t, err)
}

func TestIndexValue_UnindexableType(t *testing.T) {
	_, err := indexValue(42, "0")
	assert.Error(t, err)
}
