package dag

// GetReadyTasks returns the PENDING tasks whose dependencies are all DONE or
// SKIPPED, in canonical (registration) order.
//
// This function is pure: it does not mutate graph or state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	var ready []string
	for _, node := range g.nodes {
		if state[node.Name] != TaskPending {
			continue
		}
		depsOK := true
		for _, p := range g.incoming[node.canonicalIndex] {
			if !IsSuccessful(state[g.nodes[p].Name]) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}
	return ready
}
