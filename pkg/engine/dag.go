package engine

import "fmt"

// Node is a vertex of a computation graph, as seen by BuildDAG.
type Node[ID comparable] interface {
	NodeID() ID
	Dependencies() []ID
}

// BuildDAG returns an evaluation order for nodes in which every node comes
// after its dependencies. Dependencies that are not in nodes are treated as
// already available. Every id in want must be reachable.
func BuildDAG[ID comparable, N Node[ID]](nodes []N, want []ID) ([]ID, error) {
	present := make(map[ID]bool, len(nodes))
	for _, node := range nodes {
		present[node.NodeID()] = true
	}

	evaluationOrder := make([]ID, 0, len(nodes))
	done := make(map[ID]bool, len(nodes))

	for {
		progress := false
		for _, node := range nodes {
			id := node.NodeID()
			if done[id] {
				continue
			}

			ready := true
			for _, dep := range node.Dependencies() {
				if present[dep] && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[id] = true
				evaluationOrder = append(evaluationOrder, id)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, id := range want {
		if !done[id] {
			return nil, fmt.Errorf("node %v could not be computed (cycle in computation graph)", id)
		}
	}

	return evaluationOrder, nil
}
