package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticerun/dispatcher/pkg/transportable"
)

func outputsFrom(m map[int]transportable.Transportable) OutputLookup {
	return func(id int) (transportable.Transportable, bool) {
		v, ok := m[id]
		return v, ok
	}
}

func TestAssembleInputs_PositionalOrdering(t *testing.T) {
	g := NewGraph()
	g.AddNode(newNode(1, "a"))
	g.AddNode(newNode(2, "b"))
	g.AddNode(newNode(3, "child"))
	g.AddEdge(1, 3, EdgeRecord{ParamType: ParamArg, ArgIndex: 1})
	g.AddEdge(2, 3, EdgeRecord{ParamType: ParamArg, ArgIndex: 0})

	outputs := outputsFrom(map[int]transportable.Transportable{
		1: transportable.MustWrap("first-node"),
		2: transportable.MustWrap("second-node"),
	})

	in, err := g.AssembleInputs(3, outputs)
	require.NoError(t, err)
	require.Len(t, in.Args, 2)

	var a0, a1 string
	require.NoError(t, transportable.Materialize(in.Args[0], &a0))
	require.NoError(t, transportable.Materialize(in.Args[1], &a1))
	assert.Equal(t, "second-node", a0) // arg_index 0
	assert.Equal(t, "first-node", a1)  // arg_index 1
}

func TestAssembleInputs_Kwargs(t *testing.T) {
	g := NewGraph()
	g.AddNode(newNode(1, "a"))
	g.AddNode(newNode(2, "child"))
	g.AddEdge(1, 2, EdgeRecord{ParamType: ParamKwarg, EdgeName: "x"})

	outputs := outputsFrom(map[int]transportable.Transportable{1: transportable.MustWrap("val")})
	in, err := g.AssembleInputs(2, outputs)
	require.NoError(t, err)
	require.Contains(t, in.Kwargs, "x")

	var v string
	require.NoError(t, transportable.Materialize(in.Kwargs["x"], &v))
	assert.Equal(t, "val", v)
}

func TestAssembleInputs_WaitOnlyContributesNoData(t *testing.T) {
	g := NewGraph()
	g.AddNode(newNode(1, "a"))
	g.AddNode(newNode(2, "child"))
	g.AddEdge(1, 2, EdgeRecord{ParamType: ParamWaitOnly})

	outputs := outputsFrom(map[int]transportable.Transportable{})
	in, err := g.AssembleInputs(2, outputs)
	require.NoError(t, err)
	assert.Empty(t, in.Args)
	assert.Empty(t, in.Kwargs)
}

func TestAssembleInputs_MissingParentOutput(t *testing.T) {
	g := NewGraph()
	g.AddNode(newNode(1, "a"))
	g.AddNode(newNode(2, "child"))
	g.AddEdge(1, 2, EdgeRecord{ParamType: ParamArg, ArgIndex: 0})

	outputs := outputsFrom(map[int]transportable.Transportable{})
	_, err := g.AssembleInputs(2, outputs)
	assert.Error(t, err)
}

func TestAssembleInputs_ElectronList(t *testing.T) {
	g := NewGraph()
	g.AddNode(newNode(1, "a"))
	g.AddNode(newNode(2, "b"))
	g.AddNode(newNode(3, MarkerElectronList+"0"))
	g.AddEdge(1, 3, EdgeRecord{ParamType: ParamArg})
	g.AddEdge(2, 3, EdgeRecord{ParamType: ParamArg})

	outputs := outputsFrom(map[int]transportable.Transportable{
		1: transportable.MustWrap(1),
		2: transportable.MustWrap(2),
	})

	in, err := g.AssembleInputs(3, outputs)
	require.NoError(t, err)
	require.Contains(t, in.Kwargs, "x")

	var list []any
	require.NoError(t, transportable.Materialize(in.Kwargs["x"], &list))
	assert.Equal(t, []any{1.0, 2.0}, list)
}

func TestAssembleInputs_ElectronDict(t *testing.T) {
	g := NewGraph()
	g.AddNode(newNode(1, "a"))
	g.AddNode(newNode(2, MarkerElectronDict+"0"))
	g.AddEdge(1, 2, EdgeRecord{ParamType: ParamKwarg, EdgeName: "key1"})

	outputs := outputsFrom(map[int]transportable.Transportable{1: transportable.MustWrap("v1")})
	in, err := g.AssembleInputs(2, outputs)
	require.NoError(t, err)
	require.Contains(t, in.Kwargs, "x")

	var dict map[string]any
	require.NoError(t, transportable.Materialize(in.Kwargs["x"], &dict))
	assert.Equal(t, map[string]any{"key1": "v1"}, dict)
}

func TestAssembleInputs_NodeNotFound(t *testing.T) {
	g := NewGraph()
	_, err := g.AssembleInputs(99, outputsFrom(nil))
	assert.Error(t, err)
}
