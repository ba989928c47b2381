package transport

import (
	"fmt"
	"sort"

	"github.com/latticerun/dispatcher/pkg/transportable"
)

// Inputs is the assembled call shape for one node invocation: positional
// args and keyword args, both still transportables.
type Inputs struct {
	Args   []transportable.Transportable
	Kwargs map[string]transportable.Transportable
}

// OutputLookup resolves a parent node's completed output. The scheduler
// backs this with the Result Store; tests back it with a plain map.
type OutputLookup func(nodeID int) (transportable.Transportable, bool)

// AssembleInputs implements task-input assembly (§4.2): given a child node
// and its parents' completed outputs, produce the {args, kwargs} the Task
// Runner passes to the executor. Wait-only edges never contribute data.
func (g *Graph) AssembleInputs(childID int, outputs OutputLookup) (Inputs, error) {
	child, err := g.Node(childID)
	if err != nil {
		return Inputs{}, err
	}

	parents := g.Dependencies(childID)

	switch {
	case child.IsElectronList():
		list := make([]any, 0, len(parents))
		for _, p := range parents {
			out, ok := outputs(p)
			if !ok {
				return Inputs{}, fmt.Errorf("assemble inputs for node %d: parent %d has no output", childID, p)
			}
			v, err := transportable.MaterializeAny(out)
			if err != nil {
				return Inputs{}, fmt.Errorf("assemble inputs for node %d: %w", childID, err)
			}
			list = append(list, v)
		}
		wrapped, err := transportable.Wrap(list)
		if err != nil {
			return Inputs{}, fmt.Errorf("assemble inputs for node %d: %w", childID, err)
		}
		return Inputs{Kwargs: map[string]transportable.Transportable{"x": wrapped}}, nil

	case child.IsElectronDict():
		dict := make(map[string]any)
		for _, p := range parents {
			for _, rec := range g.EdgeData(p, childID) {
				if rec.ParamType == ParamWaitOnly {
					continue
				}
				out, ok := outputs(p)
				if !ok {
					return Inputs{}, fmt.Errorf("assemble inputs for node %d: parent %d has no output", childID, p)
				}
				v, err := transportable.MaterializeAny(out)
				if err != nil {
					return Inputs{}, fmt.Errorf("assemble inputs for node %d: %w", childID, err)
				}
				dict[rec.EdgeName] = v
			}
		}
		wrapped, err := transportable.Wrap(dict)
		if err != nil {
			return Inputs{}, fmt.Errorf("assemble inputs for node %d: %w", childID, err)
		}
		return Inputs{Kwargs: map[string]transportable.Transportable{"x": wrapped}}, nil

	default:
		in := Inputs{Kwargs: make(map[string]transportable.Transportable)}
		// positional args are ordered by arg_index across all parents.
		type positional struct {
			index int
			value transportable.Transportable
		}
		var positionals []positional

		for _, p := range parents {
			out, ok := outputs(p)
			for _, rec := range g.EdgeData(p, childID) {
				switch rec.ParamType {
				case ParamWaitOnly:
					continue
				case ParamArg:
					if !ok {
						return Inputs{}, fmt.Errorf("assemble inputs for node %d: parent %d has no output", childID, p)
					}
					positionals = append(positionals, positional{index: rec.ArgIndex, value: out})
				case ParamKwarg:
					if !ok {
						return Inputs{}, fmt.Errorf("assemble inputs for node %d: parent %d has no output", childID, p)
					}
					in.Kwargs[rec.EdgeName] = out
				}
			}
		}

		sort.SliceStable(positionals, func(i, j int) bool { return positionals[i].index < positionals[j].index })
		for _, p := range positionals {
			in.Args = append(in.Args, p.value)
		}
		return in, nil
	}
}
