// Package graph models declared service dependencies for static analysis:
// cycle detection in discovery order, topological ordering and rendering.
package graph

import (
	"fmt"
	"sync"
)

// DependencyGraph is a directed graph whose edges point from a service to the
// services it depends on. Nodes and edges keep their insertion order so every
// traversal is deterministic.
type DependencyGraph[K comparable] struct {
	mu    sync.RWMutex
	order []K
	nodes map[K]*Node[K]
}

// Node represents a service in the dependency graph
type Node[K comparable] struct {
	Key   K
	Label string

	// Attrs are free-form rendering hints, e.g. "lazy" or "submodule".
	Attrs []string

	Dependencies []K // services this node depends on
	Dependents   []K // services that depend on this node
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph[K comparable]() *DependencyGraph[K] {
	return &DependencyGraph[K]{
		nodes: make(map[K]*Node[K]),
	}
}

// AddNode adds a node, or updates the label and attributes of an existing one.
func (g *DependencyGraph[K]) AddNode(key K, label string, attrs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.ensure(key)
	if label != "" {
		node.Label = label
	}
	node.Attrs = append(node.Attrs, attrs...)
}

// AddEdge records that from depends on to. Missing nodes are created.
func (g *DependencyGraph[K]) AddEdge(from, to K) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode := g.ensure(from)
	toNode := g.ensure(to)

	for _, dep := range fromNode.Dependencies {
		if dep == to {
			return
		}
	}

	fromNode.Dependencies = append(fromNode.Dependencies, to)
	toNode.Dependents = append(toNode.Dependents, from)
}

func (g *DependencyGraph[K]) ensure(key K) *Node[K] {
	node, ok := g.nodes[key]
	if !ok {
		node = &Node[K]{Key: key, Label: fmt.Sprint(key)}
		g.nodes[key] = node
		g.order = append(g.order, key)
	}
	return node
}

// DetectCycles walks the graph depth-first from every node in insertion order
// and reports the first dependency that leads back into the current path.
func (g *DependencyGraph[K]) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visiting := make(map[K]bool)
	visited := make(map[K]bool)
	var path []K

	var visit func(key K) error
	visit = func(key K) error {
		if visiting[key] {
			return &CircularDependencyError[K]{Node: key, Path: append([]K(nil), path...)}
		}
		if visited[key] {
			return nil
		}

		visiting[key] = true
		path = append(path, key)

		for _, dep := range g.nodes[key].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		delete(visiting, key)
		visited[key] = true
		return nil
	}

	for _, key := range g.order {
		if err := visit(key); err != nil {
			return err
		}
	}

	return nil
}

// IsAcyclic returns true if the graph has no cycles
func (g *DependencyGraph[K]) IsAcyclic() bool {
	return g.DetectCycles() == nil
}

// TopologicalSort returns nodes in dependency order (dependencies first).
// Ties are broken by insertion order.
func (g *DependencyGraph[K]) TopologicalSort() ([]*Node[K], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	remaining := make(map[K]int, len(g.nodes))
	for key, node := range g.nodes {
		remaining[key] = len(node.Dependencies)
	}

	result := make([]*Node[K], 0, len(g.nodes))
	done := make(map[K]bool, len(g.nodes))

	// Kahn's algorithm, rescanning in insertion order to keep output stable.
	for len(result) < len(g.order) {
		progressed := false
		for _, key := range g.order {
			if done[key] || remaining[key] > 0 {
				continue
			}

			node := g.nodes[key]
			result = append(result, node)
			done[key] = true
			progressed = true

			for _, dependent := range node.Dependents {
				remaining[dependent]--
			}
		}

		if !progressed {
			return nil, fmt.Errorf("circular dependency detected: graph contains %d nodes but only %d could be sorted",
				len(g.nodes), len(result))
		}
	}

	return result, nil
}

// GetDependencies returns the direct dependencies of a node
func (g *DependencyGraph[K]) GetDependencies(key K) []K {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, ok := g.nodes[key]; ok {
		return append([]K(nil), node.Dependencies...)
	}
	return nil
}

// GetDependents returns the nodes that depend on the given node
func (g *DependencyGraph[K]) GetDependents(key K) []K {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if node, ok := g.nodes[key]; ok {
		return append([]K(nil), node.Dependents...)
	}
	return nil
}

// GetTransitiveDependencies returns all dependencies (direct and indirect)
// in depth-first discovery order.
func (g *DependencyGraph[K]) GetTransitiveDependencies(key K) []K {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[K]bool{key: true}
	var result []K

	var collect func(current K)
	collect = func(current K) {
		node, ok := g.nodes[current]
		if !ok {
			return
		}
		for _, dep := range node.Dependencies {
			if !visited[dep] {
				visited[dep] = true
				result = append(result, dep)
				collect(dep)
			}
		}
	}

	collect(key)
	return result
}

// GetNode returns the node for a given key
func (g *DependencyGraph[K]) GetNode(key K) (*Node[K], bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[key]
	return node, ok
}

// Nodes returns every node in insertion order.
func (g *DependencyGraph[K]) Nodes() []*Node[K] {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*Node[K], len(g.order))
	for i, key := range g.order {
		nodes[i] = g.nodes[key]
	}
	return nodes
}

// Size returns the number of nodes in the graph
func (g *DependencyGraph[K]) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// String returns a string representation of the node
func (n *Node[K]) String() string {
	return fmt.Sprintf("Node{%s, deps:%d, dependents:%d}", n.Label, len(n.Dependencies), len(n.Dependents))
}
