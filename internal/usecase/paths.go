package usecase

import (
	"fmt"

	"certnode/internal/domain"
	"certnode/internal/graph"
)

const (
	DefaultMaxPaths     = 10
	DefaultPathMaxDepth = 10
)

// FindPaths returns up to maxPaths directed paths from one receipt to another
// following parent to child edges, each at most maxDepth hops long. Paths are
// distinct by receipt sequence and relation types. Non-positive limits fall
// back to the defaults.
func FindPaths(snap *graph.Snapshot, fromID, toID string, maxPaths, maxDepth int) ([]domain.Path, error) {
	if !snap.Has(fromID) {
		return nil, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, fromID)
	}
	if !snap.Has(toID) {
		return nil, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, toID)
	}
	if maxPaths <= 0 {
		maxPaths = DefaultMaxPaths
	}
	if maxDepth <= 0 {
		maxDepth = DefaultPathMaxDepth
	}
	if fromID == toID {
		return []domain.Path{{Hops: []domain.PathHop{{ReceiptID: fromID}}}}, nil
	}

	// Only nodes that can still reach the target are worth entering.
	canReach := map[string]struct{}{toID: {}}
	for _, id := range snap.Ancestors(toID) {
		canReach[id] = struct{}{}
	}
	if _, ok := canReach[fromID]; !ok {
		return nil, nil
	}

	f := pathFinder{snap: snap, target: toID, canReach: canReach, maxPaths: maxPaths, maxDepth: maxDepth}
	f.walk([]domain.PathHop{{ReceiptID: fromID}})
	return f.found, nil
}

type pathFinder struct {
	snap     *graph.Snapshot
	target   string
	canReach map[string]struct{}
	maxPaths int
	maxDepth int
	found    []domain.Path
}

func (f *pathFinder) walk(hops []domain.PathHop) {
	if len(f.found) >= f.maxPaths {
		return
	}
	cur := hops[len(hops)-1].ReceiptID
	if cur == f.target {
		f.found = append(f.found, domain.Path{Hops: append([]domain.PathHop(nil), hops...)})
		return
	}
	if len(hops)-1 >= f.maxDepth {
		return
	}
	for _, rel := range f.snap.ChildrenOf(cur) {
		if _, ok := f.canReach[rel.ChildReceiptID]; !ok {
			continue
		}
		f.walk(append(hops, domain.PathHop{ReceiptID: rel.ChildReceiptID, RelationType: rel.RelationType}))
		if len(f.found) >= f.maxPaths {
			return
		}
	}
}
