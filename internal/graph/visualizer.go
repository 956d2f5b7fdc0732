package graph

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Visualizer provides methods to visualize the dependency graph
type Visualizer[K comparable] struct {
	graph *DependencyGraph[K]
}

// NewVisualizer creates a new graph visualizer
func NewVisualizer[K comparable](graph *DependencyGraph[K]) *Visualizer[K] {
	return &Visualizer[K]{graph: graph}
}

// WriteDOT writes the graph in Graphviz DOT format
func (v *Visualizer[K]) WriteDOT(w io.Writer, name string) error {
	nodes := v.graph.Nodes()

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", name)
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	ids := make(map[K]string, len(nodes))
	for i, node := range nodes {
		ids[node.Key] = fmt.Sprintf("n%d", i)
	}

	for _, node := range nodes {
		fmt.Fprintf(&b, "  %s [label=%q, fillcolor=%q, style=%q];\n",
			ids[node.Key], node.Label, nodeColor(node.Attrs), nodeStyle(node.Attrs))
	}

	for _, node := range nodes {
		for _, dep := range node.Dependencies {
			fmt.Fprintf(&b, "  %s -> %s;\n", ids[node.Key], ids[dep])
		}
	}

	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteText writes the nodes in dependency order, one per line with their
// direct dependencies.
func (v *Visualizer[K]) WriteText(w io.Writer) error {
	sorted, err := v.graph.TopologicalSort()
	if err != nil {
		sorted = v.graph.Nodes()
	}

	var b strings.Builder
	for _, node := range sorted {
		b.WriteString(node.Label)
		if len(node.Attrs) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(node.Attrs, ", "))
		}

		if len(node.Dependencies) > 0 {
			labels := make([]string, len(node.Dependencies))
			for i, dep := range node.Dependencies {
				depNode, _ := v.graph.GetNode(dep)
				labels[i] = depNode.Label
			}
			fmt.Fprintf(&b, " -> [%s]", strings.Join(labels, ", "))
		}
		b.WriteString("\n")
	}

	_, err = io.WriteString(w, b.String())
	return err
}

func nodeColor(attrs []string) string {
	switch {
	case slices.Contains(attrs, "provider"):
		return "lightyellow"
	case slices.Contains(attrs, "submodule"):
		return "lightgray"
	case slices.Contains(attrs, "lazy"):
		return "lightgreen"
	default:
		return "lightblue"
	}
}

func nodeStyle(attrs []string) string {
	if slices.Contains(attrs, "multi") {
		return "filled,dashed"
	}
	return "filled"
}
