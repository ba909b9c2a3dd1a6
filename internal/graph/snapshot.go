package graph

import (
	"sync"

	"certnode/internal/domain"
)

// Snapshot is a read view of the store pinned at a version. Derived values
// (depth, linked domains) are computed lazily and memoized per snapshot,
// which is safe because nothing visible to it can change.
type Snapshot struct {
	store   *Store
	version uint64

	memoMu sync.Mutex
	depth  map[string]int
}

func newSnapshot(s *Store, version uint64) *Snapshot {
	return &Snapshot{store: s, version: version, depth: map[string]int{}}
}

func (sn *Snapshot) Version() uint64 {
	return sn.version
}

func (sn *Snapshot) Receipt(id string) (domain.Receipt, bool) {
	sn.store.mu.RLock()
	defer sn.store.mu.RUnlock()
	idx, ok := sn.store.byID[id]
	if !ok {
		return domain.Receipt{}, false
	}
	entry := sn.store.receipts[idx]
	if entry.seq > sn.version {
		return domain.Receipt{}, false
	}
	return entry.receipt, true
}

func (sn *Snapshot) Has(id string) bool {
	_, ok := sn.Receipt(id)
	return ok
}

// Receipts returns every visible receipt in insertion order.
func (sn *Snapshot) Receipts() []domain.Receipt {
	sn.store.mu.RLock()
	defer sn.store.mu.RUnlock()
	out := make([]domain.Receipt, 0, len(sn.store.receipts))
	for _, entry := range sn.store.receipts {
		if entry.seq > sn.version {
			break
		}
		out = append(out, entry.receipt)
	}
	return out
}

// Relationships returns every visible edge in insertion order.
func (sn *Snapshot) Relationships() []domain.Relationship {
	sn.store.mu.RLock()
	defer sn.store.mu.RUnlock()
	out := make([]domain.Relationship, 0, len(sn.store.edges))
	for _, entry := range sn.store.edges {
		if entry.seq > sn.version {
			break
		}
		out = append(out, entry.rel)
	}
	return out
}

// ParentsOf returns the edges whose child is id.
func (sn *Snapshot) ParentsOf(id string) []domain.Relationship {
	return sn.edgesFrom(sn.store.parents, id)
}

// ChildrenOf returns the edges whose parent is id.
func (sn *Snapshot) ChildrenOf(id string) []domain.Relationship {
	return sn.edgesFrom(sn.store.children, id)
}

func (sn *Snapshot) edgesFrom(index map[string][]int, id string) []domain.Relationship {
	sn.store.mu.RLock()
	defer sn.store.mu.RUnlock()
	idxs := index[id]
	out := make([]domain.Relationship, 0, len(idxs))
	for _, idx := range idxs {
		entry := sn.store.edges[idx]
		if entry.seq > sn.version {
			continue
		}
		out = append(out, entry.rel)
	}
	return out
}

// ParentIDs returns the distinct parent ids of id in edge order.
func (sn *Snapshot) ParentIDs(id string) []string {
	return distinctIDs(sn.ParentsOf(id), func(r domain.Relationship) string { return r.ParentReceiptID })
}

// ChildIDs returns the distinct child ids of id in edge order.
func (sn *Snapshot) ChildIDs(id string) []string {
	return distinctIDs(sn.ChildrenOf(id), func(r domain.Relationship) string { return r.ChildReceiptID })
}

func distinctIDs(rels []domain.Relationship, pick func(domain.Relationship) string) []string {
	if len(rels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(rels))
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		id := pick(r)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Depth is 0 for a receipt without parents and 1 + the deepest parent
// otherwise.
func (sn *Snapshot) Depth(id string) int {
	sn.memoMu.Lock()
	defer sn.memoMu.Unlock()
	if d, ok := sn.depth[id]; ok {
		return d
	}

	type frame struct {
		id       string
		parents  []string
		expanded bool
	}
	stack := []frame{{id: id}}
	for len(stack) > 0 {
		top := len(stack) - 1
		f := stack[top]
		if _, done := sn.depth[f.id]; done {
			stack = stack[:top]
			continue
		}
		if !f.expanded {
			parents := sn.ParentIDs(f.id)
			stack[top].parents = parents
			stack[top].expanded = true
			for _, p := range parents {
				if _, done := sn.depth[p]; !done {
					stack = append(stack, frame{id: p})
				}
			}
			continue
		}
		stack = stack[:top]
		d := 0
		for _, p := range f.parents {
			if pd := sn.depth[p] + 1; pd > d {
				d = pd
			}
		}
		sn.depth[f.id] = d
	}
	return sn.depth[id]
}

// Ancestors returns every receipt id id transitively descends from.
func (sn *Snapshot) Ancestors(id string) []string {
	return collect(id, sn.ParentIDs)
}

// Descendants returns every receipt id transitively derived from id.
func (sn *Snapshot) Descendants(id string) []string {
	return collect(id, sn.ChildIDs)
}

// Reachable reports whether to descends from from along parent to child edges.
func (sn *Snapshot) Reachable(from, to string) bool {
	return reachable(from, to, sn.ChildIDs)
}

// LinkedDomains returns the domains present among all transitive ancestors
// and descendants of id, excluding id itself, in canonical domain order.
func (sn *Snapshot) LinkedDomains(id string) []domain.ReceiptDomain {
	present := map[domain.ReceiptDomain]bool{}
	for _, other := range append(sn.Ancestors(id), sn.Descendants(id)...) {
		if r, ok := sn.Receipt(other); ok {
			present[r.Domain] = true
		}
	}
	out := make([]domain.ReceiptDomain, 0, len(present))
	for _, d := range domain.AllDomains {
		if present[d] {
			out = append(out, d)
		}
	}
	return out
}

// View returns the receipt with its graph depth filled in. Trust fields are
// left for the trust engine.
func (sn *Snapshot) View(id string) (domain.ReceiptView, bool) {
	r, ok := sn.Receipt(id)
	if !ok {
		return domain.ReceiptView{}, false
	}
	return domain.ReceiptView{Receipt: r, GraphDepth: sn.Depth(id)}, true
}
