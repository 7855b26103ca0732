package framework

import (
	"errors"
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// StageGraph is the dependency graph of a stage list: one vertex per stage,
// one edge from each consumed stage to its consumer.
type StageGraph struct {
	graph graph.Graph[string, string]
	order []string
}

// BuildStageGraph validates a stage list and returns its dependency graph.
// Names must be unique and every consumed stage must appear strictly earlier
// in the list, which makes the graph acyclic by construction.
func BuildStageGraph(stages []*StageDefinition) (*StageGraph, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one stage")
	}
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	position := make(map[string]int, len(stages))
	order := make([]string, 0, len(stages))
	for i, stage := range stages {
		if stage == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
		if _, dup := position[stage.Name()]; dup {
			return nil, fmt.Errorf("duplicate stage %s", stage.Name())
		}
		if err := g.AddVertex(stage.Name(), graph.VertexAttribute("label", stage.Title())); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		position[stage.Name()] = i
		order = append(order, stage.Name())
	}
	for i, stage := range stages {
		for _, dep := range stage.Consumes() {
			at, ok := position[dep]
			if !ok {
				return nil, fmt.Errorf("stage %s consumes unknown stage %s", stage.Name(), dep)
			}
			if at >= i {
				return nil, fmt.Errorf("stage %s consumes %s, which does not run before it", stage.Name(), dep)
			}
			if err := g.AddEdge(dep, stage.Name()); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, fmt.Errorf("stage %s: dependency cycle through %s", stage.Name(), dep)
				}
				return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
			}
		}
	}
	return &StageGraph{graph: g, order: order}, nil
}

// Order returns the stage names in execution order.
func (s *StageGraph) Order() []string {
	return append([]string(nil), s.order...)
}

// Dependents returns the stages that directly consume name.
func (s *StageGraph) Dependents(name string) ([]string, error) {
	adjacency, err := s.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adjacency[name]
	if !ok {
		return nil, fmt.Errorf("unknown stage %s", name)
	}
	var out []string
	for _, candidate := range s.order {
		if _, ok := edges[candidate]; ok {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// WriteDOT renders the graph in Graphviz DOT form.
func (s *StageGraph) WriteDOT(w io.Writer) error {
	return draw.DOT(s.graph, w)
}
