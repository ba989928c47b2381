// Package lattice defines the lattice-serialization format (§6): the JSON
// document a dispatch is submitted as, carrying the workflow function, its
// arguments, metadata, and the transport graph in node-link form.
package lattice

import (
	"encoding/json"
	"fmt"

	"github.com/latticerun/dispatcher/pkg/executor"
	"github.com/latticerun/dispatcher/pkg/transport"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// Metadata carries the lattice-level settings the graph's nodes don't
// already own individually.
type Metadata struct {
	ResultsDir              string         `json:"results_dir"`
	Schedule                map[string]any `json:"schedule,omitempty"`
	WorkflowExecutor        string         `json:"workflow_executor"`
	WorkflowExecutorConfig  map[string]any `json:"workflow_executor_config,omitempty"`
	DefaultNodeExecutor     string         `json:"default_node_executor"`
}

// Lattice is a workflow definition: a function plus its transport graph and
// metadata (glossary).
type Lattice struct {
	Function transportable.Transportable             `json:"function"`
	Source   string                                  `json:"source"`
	Args     []transportable.Transportable           `json:"args,omitempty"`
	Kwargs   map[string]transportable.Transportable  `json:"kwargs,omitempty"`
	Metadata Metadata                                `json:"metadata"`
	Graph    *transport.Graph                        `json:"-"`
}

// wireNode / wireEdge / wireDoc mirror the node-link JSON shape the
// transport graph serializes to/from on the wire (§4.6: "node-link form").
type wireNode struct {
	ID            int                          `json:"id"`
	Name          string                       `json:"name"`
	Function      *transportable.Transportable `json:"function,omitempty"`
	Value         *transportable.Transportable `json:"value,omitempty"`
	Key           string                       `json:"key,omitempty"`
	AttributeName string                       `json:"attribute_name,omitempty"`
	Metadata      wireMetadata                 `json:"metadata"`
}

type wireMetadata struct {
	Executor       string                          `json:"executor"`
	ExecutorConfig map[string]any                  `json:"executor_config,omitempty"`
	CallBefore     []transportable.Transportable   `json:"call_before,omitempty"`
	CallAfter      []transportable.Transportable   `json:"call_after,omitempty"`
	Schedule       map[string]any                  `json:"schedule,omitempty"`
}

type wireEdge struct {
	Source    int    `json:"source"`
	Target    int    `json:"target"`
	ParamType string `json:"param_type"`
	EdgeName  string `json:"edge_name,omitempty"`
	ArgIndex  int    `json:"arg_index,omitempty"`
}

type wireDoc struct {
	Function transportable.Transportable            `json:"function"`
	Source   string                                 `json:"source"`
	Args     []transportable.Transportable          `json:"args,omitempty"`
	Kwargs   map[string]transportable.Transportable `json:"kwargs,omitempty"`
	Metadata Metadata                               `json:"metadata"`
	Nodes    []wireNode                             `json:"nodes"`
	Edges    []wireEdge                             `json:"edges"`
}

// Decode parses a serialized lattice document into a Lattice with its
// transport graph built.
func Decode(data []byte) (*Lattice, error) {
	var doc wireDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode lattice: %w", err)
	}

	graph := transport.NewGraph()
	for _, wn := range doc.Nodes {
		n := &transport.Node{
			ID:            wn.ID,
			Name:          wn.Name,
			Key:           wn.Key,
			AttributeName: wn.AttributeName,
			Metadata: transport.NodeMetadata{
				ExecutorShortName: wn.Metadata.Executor,
				ExecutorConfig:    wn.Metadata.ExecutorConfig,
				CallBefore:        wn.Metadata.CallBefore,
				CallAfter:         wn.Metadata.CallAfter,
				Schedule:          wn.Metadata.Schedule,
			},
		}
		if wn.Function != nil {
			n.Function = *wn.Function
			n.HasFunction = true
		}
		if wn.Value != nil {
			n.Value = *wn.Value
			n.HasValue = true
		}
		graph.AddNode(n)
	}
	for _, we := range doc.Edges {
		graph.AddEdge(we.Source, we.Target, transport.EdgeRecord{
			ParamType: transport.ParamType(we.ParamType),
			EdgeName:  we.EdgeName,
			ArgIndex:  we.ArgIndex,
		})
	}

	return &Lattice{
		Function: doc.Function,
		Source:   doc.Source,
		Args:     doc.Args,
		Kwargs:   doc.Kwargs,
		Metadata: doc.Metadata,
		Graph:    graph,
	}, nil
}

// IsClientPostprocess reports whether this lattice's post-process executor
// is the "client" sentinel (§4.3/§4.5).
func (l *Lattice) IsClientPostprocess() bool {
	return l.Metadata.WorkflowExecutor == executor.ClientExecutorName
}
