package engine

import (
	"context"
	"path/filepath"
	"strings"
)

// Action performs the work of one step. Paths for declared artifacts are
// obtained from a.
type Action func(ctx context.Context, a Artifacts) error

// Step is one named unit of work inside a graph. Inputs name artifacts
// produced by other steps of the same graph; Outputs name artifacts this step
// produces. Data dependencies between steps follow from these names.
type Step struct {
	Name    string
	Inputs  []string
	Outputs []string
	Action  Action
}

// Artifacts resolves declared artifact names to paths in the graph's
// temporary directory.
type Artifacts struct {
	dir     string
	inputs  map[string]bool
	outputs map[string]bool
}

// Input returns the path of a declared input, or "" if name was not declared.
func (a Artifacts) Input(name string) string {
	if !a.inputs[name] {
		return ""
	}
	return filepath.Join(a.dir, name)
}

// Output returns the path of a declared output, or "" if name was not declared.
func (a Artifacts) Output(name string) string {
	if !a.outputs[name] {
		return ""
	}
	return filepath.Join(a.dir, name)
}

func (g *Graph) artifactsFor(dir string, s Step) Artifacts {
	a := Artifacts{
		dir:     dir,
		inputs:  make(map[string]bool, len(s.Inputs)),
		outputs: make(map[string]bool, len(s.Outputs)),
	}
	for _, n := range s.Inputs {
		a.inputs[n] = true
	}
	for _, n := range s.Outputs {
		a.outputs[n] = true
	}
	return a
}

// Graph is a validated, immutable set of steps for one unit of work.
type Graph struct {
	ID    string
	steps []Step

	// order holds step indices in execution order.
	order []int
	// deps holds, per step index, the indices of steps it consumes from.
	deps [][]int
}

// NewGraph validates steps and computes their execution order. Ties are
// broken by declaration order, so the order is stable.
func NewGraph(id string, steps ...Step) (*Graph, error) {
	if id == "" {
		return nil, invalidf(id, "graph id is empty")
	}
	if len(steps) == 0 {
		return nil, invalidf(id, "graph has no steps")
	}

	names := make(map[string]int, len(steps))
	producer := make(map[string]int)
	for i, s := range steps {
		if s.Name == "" {
			return nil, invalidf(id, "step %d has no name", i)
		}
		if _, dup := names[s.Name]; dup {
			return nil, invalidf(id, "duplicate step name %q", s.Name)
		}
		if s.Action == nil {
			return nil, invalidf(id, "step %q has no action", s.Name)
		}
		names[s.Name] = i

		for _, out := range s.Outputs {
			if err := validArtifactName(out); err != "" {
				return nil, invalidf(id, "step %q output %q: %s", s.Name, out, err)
			}
			if p, ok := producer[out]; ok {
				return nil, invalidf(id, "artifact %q produced by both %q and %q", out, steps[p].Name, s.Name)
			}
			producer[out] = i
		}
	}

	deps := make([][]int, len(steps))
	outgoing := make([][]int, len(steps))
	indeg := make([]int, len(steps))
	for i, s := range steps {
		seen := make(map[int]bool)
		for _, in := range s.Inputs {
			if err := validArtifactName(in); err != "" {
				return nil, invalidf(id, "step %q input %q: %s", s.Name, in, err)
			}
			p, ok := producer[in]
			if !ok {
				return nil, invalidf(id, "step %q input %q is not produced by any step", s.Name, in)
			}
			if p == i {
				return nil, cycleError(id, []string{s.Name})
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			deps[i] = append(deps[i], p)
			outgoing[p] = append(outgoing[p], i)
			indeg[i]++
		}
	}

	// Kahn's algorithm; scanning in declaration order keeps ties stable.
	order := make([]int, 0, len(steps))
	placed := make([]bool, len(steps))
	for len(order) < len(steps) {
		progressed := false
		for i := range steps {
			if placed[i] || indeg[i] != 0 {
				continue
			}
			placed[i] = true
			order = append(order, i)
			for _, m := range outgoing[i] {
				indeg[m]--
			}
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for i, s := range steps {
				if !placed[i] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, cycleError(id, stuck)
		}
	}

	return &Graph{
		ID:    id,
		steps: append([]Step(nil), steps...),
		order: order,
		deps:  deps,
	}, nil
}

func validArtifactName(name string) string {
	switch {
	case name == "":
		return "empty name"
	case name == "." || name == "..":
		return "reserved name"
	case strings.ContainsAny(name, `/\`):
		return "must not contain a path separator"
	}
	return ""
}

// Steps returns the steps in execution order.
func (g *Graph) Steps() []Step {
	out := make([]Step, len(g.order))
	for i, idx := range g.order {
		out[i] = g.steps[idx]
	}
	return out
}

// StageID names one step of one graph uniquely across a batch.
func StageID(step, graphID string) string {
	return step + ":" + graphID
}
