// Package taskgraph builds the initial execution queue from a root task by
// walking its dependency DAG in post-order, deduplicated by identity.
package taskgraph

import "github.com/forgeflow/forgeflow/internal/task"

// Materialize performs a depth-first, post-order traversal of root's
// dependency graph and returns every reachable task exactly once, each one
// appearing after all of its transitive dependencies. root is always the
// last element.
//
// Diamond dependencies are emitted once, at the point their first consumer
// requires them. Cycles are not detected: acyclicity is an invariant of the
// input graph.
func Materialize(root task.Task) []task.Task {
	queue := make([]task.Task, 0)
	visited := make(map[string]struct{})

	var visit func(t task.Task)
	visit = func(t task.Task) {
		visited[t.Identity()] = struct{}{}
		for _, dep := range t.Dependencies() {
			if _, ok := visited[dep.Identity()]; ok {
				continue
			}
			visit(dep)
		}
		queue = append(queue, t)
	}
	visit(root)

	return queue
}
