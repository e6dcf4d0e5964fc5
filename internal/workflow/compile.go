package workflow

import (
	"fmt"

	"github.com/mohammad-safakhou/contentpipe/internal/executor"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

// NodeKind is the action a compiled task performs.
type NodeKind int

const (
	NodeStage NodeKind = iota
	NodeReview
	NodeNormalize
)

// Node is the work behind one executor task.
type Node struct {
	Kind NodeKind
	// Stage is the pipeline stage name for NodeStage.
	Stage string
	Gate  review.GateSpec
	Keys  []string
}

// Graph is a compiled definition.
type Graph struct {
	Name  string
	Exec  executor.Graph
	Nodes map[string]Node
	// Order lists task ids in declaration order.
	Order []string
}

// CompileOptions selects optional steps.
type CompileOptions struct {
	IncludeOptional bool
}

// ReviewTaskID is the task id of the gate for stage.
func ReviewTaskID(stage string) string { return "review:" + stage }

// NormalizeTaskID is the task id of the normalisation step.
const NormalizeTaskID = "normalize"

// Compile turns d into an executor graph. Every step depends on all tasks of
// the previous step; members of a parallel step share those dependencies.
func Compile(d *Definition, opts CompileOptions) (*Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		Name:  d.Name,
		Exec:  executor.Graph{Tasks: make(map[string]executor.Task)},
		Nodes: make(map[string]Node),
	}
	var prev []string
	add := func(id string, n Node, retries int) error {
		if _, dup := g.Nodes[id]; dup {
			return fmt.Errorf("%w: duplicate task %q", ErrInvalidDefinition, id)
		}
		g.Nodes[id] = n
		stage := n.Stage
		if n.Kind == NodeReview {
			stage = n.Gate.Stage
		}
		g.Exec.Tasks[id] = executor.Task{
			ID:         id,
			Stage:      stage,
			DependsOn:  append([]string(nil), prev...),
			MaxRetries: retries,
		}
		g.Order = append(g.Order, id)
		return nil
	}

	for _, s := range d.Steps {
		var ids []string
		switch {
		case s.Stage != "":
			if s.Optional && !opts.IncludeOptional {
				continue
			}
			if err := add(s.Stage, Node{Kind: NodeStage, Stage: s.Stage}, s.Retries); err != nil {
				return nil, err
			}
			ids = []string{s.Stage}
		case s.Review != nil:
			id := ReviewTaskID(s.Review.Stage)
			if err := add(id, Node{Kind: NodeReview, Gate: *s.Review}, 0); err != nil {
				return nil, err
			}
			ids = []string{id}
		case len(s.Parallel) > 0:
			if s.Optional && !opts.IncludeOptional {
				continue
			}
			for _, name := range s.Parallel {
				if err := add(name, Node{Kind: NodeStage, Stage: name}, s.Retries); err != nil {
					return nil, err
				}
				ids = append(ids, name)
			}
		case s.Normalize != nil:
			if err := add(NormalizeTaskID, Node{Kind: NodeNormalize, Keys: s.Normalize.Keys}, 0); err != nil {
				return nil, err
			}
			ids = []string{NormalizeTaskID}
		}
		prev = ids
	}
	return g, nil
}
