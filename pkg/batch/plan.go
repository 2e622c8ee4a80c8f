package batch

import (
	"fmt"
)

// node is one operation in the dispatch plan. parent is the index of the
// in-batch operation this one depends on, or -1. parentID carries the
// parent's resource id once it is known.
type node struct {
	index       int
	op          OperationDescriptor
	parent      int
	children    []int
	pendingDeps int
	parentID    string
}

// plan is a dependency-respecting dispatch order. Items whose ParentRef
// names the NaturalKey of another operation in the batch wait for that
// operation; independent items run concurrently.
type plan struct {
	nodes []*node
}

// buildPlan links batch-internal parent references and rejects setups that
// could never dispatch: duplicate referenced keys, self references, and
// dependency cycles.
func buildPlan(ops []OperationDescriptor) (*plan, error) {
	nodes := make([]*node, len(ops))
	byKey := make(map[string][]int)

	for i, op := range ops {
		nodes[i] = &node{index: i, op: op, parent: -1}
		if op.Kind.Creates() {
			byKey[op.NaturalKey] = append(byKey[op.NaturalKey], i)
		}
	}

	for i, op := range ops {
		if op.ParentRef == "" {
			continue
		}
		candidates := byKey[op.ParentRef]
		if len(candidates) == 0 {
			// ParentRef names an existing remote resource.
			continue
		}
		if len(candidates) > 1 {
			return nil, fmt.Errorf("parent ref %q is ambiguous: %d operations share that natural key",
				op.ParentRef, len(candidates))
		}
		parent := candidates[0]
		if parent == i {
			return nil, fmt.Errorf("operation %s %q references itself", op.Kind, op.NaturalKey)
		}
		nodes[i].parent = parent
		nodes[i].pendingDeps = 1
		nodes[parent].children = append(nodes[parent].children, i)
	}

	if err := checkAcyclic(nodes); err != nil {
		return nil, err
	}

	return &plan{nodes: nodes}, nil
}

// checkAcyclic walks each parent chain; a chain longer than the batch means
// a cycle.
func checkAcyclic(nodes []*node) error {
	for i := range nodes {
		steps := 0
		for at := nodes[i].parent; at != -1; at = nodes[at].parent {
			steps++
			if steps > len(nodes) {
				return fmt.Errorf("dependency cycle involving %s %q",
					nodes[i].op.Kind, nodes[i].op.NaturalKey)
			}
		}
	}
	return nil
}

// roots returns the nodes with no unresolved dependencies.
func (p *plan) roots() []*node {
	var out []*node
	for _, n := range p.nodes {
		if n.pendingDeps == 0 {
			out = append(out, n)
		}
	}
	return out
}
