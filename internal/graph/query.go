package graph

import (
	"fmt"
	"sort"

	"certnode/internal/domain"
)

type QueryOptions struct {
	Direction domain.GraphDirection
	// MaxDepth bounds hops from the root; 0 returns the root alone.
	MaxDepth int
	// MaxNodes caps the node count including the root; 0 is unbounded.
	MaxNodes int
}

// Query materializes the graph around rootID. Ancestors are reached through
// parent edges only and descendants through child edges only, so siblings
// are not pulled in by a "both" query.
func (sn *Snapshot) Query(rootID string, opts QueryOptions) (domain.Graph, error) {
	if opts.MaxDepth < 0 || opts.MaxNodes < 0 {
		return domain.Graph{}, fmt.Errorf("%w: graph limits must not be negative", domain.ErrInvalidArgument)
	}
	if opts.Direction == "" {
		opts.Direction = domain.DirectionBoth
	}
	switch opts.Direction {
	case domain.DirectionBoth, domain.DirectionAncestors, domain.DirectionDescendants:
	default:
		return domain.Graph{}, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidArgument, opts.Direction)
	}
	root, ok := sn.View(rootID)
	if !ok {
		return domain.Graph{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, rootID)
	}

	state := &queryState{
		maxDepth: opts.MaxDepth,
		maxNodes: opts.MaxNodes,
		distance: map[string]int{rootID: 0},
		order:    []string{rootID},
		hit:      map[string]struct{}{},
	}
	if opts.Direction != domain.DirectionDescendants {
		state.walk(rootID, sn.ParentIDs)
	}
	if opts.Direction != domain.DirectionAncestors {
		state.walk(rootID, sn.ChildIDs)
	}

	nodes := make([]domain.GraphNode, 0, len(state.order))
	nodes = append(nodes, domain.GraphNode{ReceiptView: root})
	for _, id := range state.order[1:] {
		view, ok := sn.View(id)
		if !ok {
			continue
		}
		nodes = append(nodes, domain.GraphNode{ReceiptView: view, Distance: state.distance[id]})
	}

	edges := make([]domain.Relationship, 0)
	for _, id := range state.order {
		for _, rel := range sn.ChildrenOf(id) {
			if _, in := state.distance[rel.ChildReceiptID]; in {
				edges = append(edges, rel)
			}
		}
	}

	return domain.Graph{
		RootID:    rootID,
		Direction: opts.Direction,
		Nodes:     nodes,
		Edges:     edges,
		Truncated: len(state.hit) > 0,
		Limits: domain.GraphLimits{
			MaxDepth: opts.MaxDepth,
			MaxNodes: opts.MaxNodes,
			Hit:      state.hitList(),
		},
	}, nil
}

type queryState struct {
	maxDepth int
	maxNodes int
	distance map[string]int
	order    []string
	hit      map[string]struct{}
}

func (q *queryState) walk(rootID string, next func(string) []string) {
	type item struct {
		id    string
		depth int
	}
	queue := []item{{id: rootID}}
	seen := map[string]struct{}{rootID: {}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		neighbors := next(cur.id)
		if len(neighbors) == 0 {
			continue
		}
		if cur.depth >= q.maxDepth {
			q.truncate("max_depth")
			continue
		}
		for _, n := range neighbors {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			if _, already := q.distance[n]; !already {
				if q.maxNodes > 0 && len(q.order) >= q.maxNodes {
					q.truncate("max_nodes")
					return
				}
				q.distance[n] = cur.depth + 1
				q.order = append(q.order, n)
			}
			queue = append(queue, item{id: n, depth: cur.depth + 1})
		}
	}
}

func (q *queryState) truncate(reason string) {
	q.hit[reason] = struct{}{}
}

func (q *queryState) hitList() []string {
	if len(q.hit) == 0 {
		return nil
	}
	out := make([]string, 0, len(q.hit))
	for reason := range q.hit {
		out = append(out, reason)
	}
	sort.Strings(out)
	return out
}
