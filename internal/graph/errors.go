package graph

import (
	"fmt"
	"strings"
)

// CircularDependencyError reports a cycle found by DetectCycles. Path holds the
// depth-first path from the traversal root to the node that depends on Node,
// which is already on the path.
type CircularDependencyError[K comparable] struct {
	Node K
	Path []K
}

func (e *CircularDependencyError[K]) Error() string {
	var b strings.Builder
	b.WriteString("circular dependency detected:\n\n")

	for _, node := range e.Path {
		b.WriteString(fmt.Sprintf("    %v\n", node))
		b.WriteString("      ↓\n")
	}
	b.WriteString(fmt.Sprintf("    %v (cycle)\n", e.Node))

	return b.String()
}

// Cycle returns only the members of the cycle, starting at Node.
func (e *CircularDependencyError[K]) Cycle() []K {
	for i, node := range e.Path {
		if node == e.Node {
			return append([]K(nil), e.Path[i:]...)
		}
	}
	return nil
}
