package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"certnode/internal/domain"
)

// Journal persists mutations. It is called inside the store's critical
// section before the in-memory apply; an error aborts the mutation.
type Journal interface {
	AppendReceipt(ctx context.Context, receipt domain.Receipt, edges []domain.Relationship) error
	AppendRelationship(ctx context.Context, rel domain.Relationship) error
}

// Source replays persisted state in insertion order.
type Source interface {
	LoadReceipts(ctx context.Context) ([]domain.Receipt, error)
	LoadRelationships(ctx context.Context) ([]domain.Relationship, error)
}

// LinkRequest describes an edge to add. Parent provides provenance for Child.
type LinkRequest struct {
	ParentID     string
	ChildID      string
	RelationType domain.RelationType
	Description  string
	CreatedBy    string
}

type receiptEntry struct {
	receipt domain.Receipt
	seq     uint64
}

type edgeEntry struct {
	rel domain.Relationship
	seq uint64
}

type edgeKey struct {
	parent   string
	child    string
	relation domain.RelationType
}

// Store is the append-only receipt graph. Receipts live in an arena and the
// adjacency indices hold arena offsets keyed by receipt id. All mutations
// are serialized; readers work on a Snapshot pinned to a version.
type Store struct {
	mu sync.RWMutex

	journal Journal
	now     func() time.Time
	newID   func() string

	version  uint64
	receipts []receiptEntry
	edges    []edgeEntry
	byID     map[string]int
	parents  map[string][]int
	children map[string][]int
	edgeSet  map[edgeKey]struct{}
}

type Option func(*Store)

func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		byID:     map[string]int{},
		parents:  map[string][]int{},
		children: map[string][]int{},
		edgeSet:  map[edgeKey]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert adds a signed receipt together with edges from each parent to it.
// Either the receipt and all edges are applied or nothing is.
func (s *Store) Insert(ctx context.Context, receipt domain.Receipt, links []LinkRequest) ([]domain.Relationship, error) {
	if strings.TrimSpace(receipt.ID) == "" {
		return nil, fmt.Errorf("%w: receipt id is required", domain.ErrInvalidEnvelope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[receipt.ID]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateReceipt, receipt.ID)
	}
	rels := make([]domain.Relationship, 0, len(links))
	seen := map[edgeKey]struct{}{}
	for _, link := range links {
		if link.ChildID == "" {
			link.ChildID = receipt.ID
		}
		if link.ChildID != receipt.ID {
			return nil, fmt.Errorf("%w: edge child %s is not the inserted receipt", domain.ErrInvalidRelation, link.ChildID)
		}
		if err := s.checkLinkLocked(link, true); err != nil {
			return nil, err
		}
		key := edgeKey{parent: link.ParentID, child: link.ChildID, relation: link.RelationType}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s -[%s]-> %s", domain.ErrDuplicateRelationship, link.ParentID, link.RelationType, link.ChildID)
		}
		seen[key] = struct{}{}
		rels = append(rels, s.newRelationship(link))
	}

	if s.journal != nil {
		if err := s.journal.AppendReceipt(ctx, receipt, rels); err != nil {
			return nil, fmt.Errorf("journal receipt %s: %w", receipt.ID, err)
		}
	}
	s.applyReceiptLocked(receipt)
	for _, rel := range rels {
		s.applyEdgeLocked(rel)
	}
	return rels, nil
}

// Link adds one edge between existing receipts. The cycle check, the journal
// write and the insert run under one lock.
func (s *Store) Link(ctx context.Context, link LinkRequest) (domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLinkLocked(link, false); err != nil {
		return domain.Relationship{}, err
	}
	rel := s.newRelationship(link)
	if s.journal != nil {
		if err := s.journal.AppendRelationship(ctx, rel); err != nil {
			return domain.Relationship{}, fmt.Errorf("journal relationship: %w", err)
		}
	}
	s.applyEdgeLocked(rel)
	return rel, nil
}

// Load hydrates an empty store from src. Persisted state goes through the
// same structural checks as live writes but is not journaled again.
func (s *Store) Load(ctx context.Context, src Source) error {
	if src == nil {
		return errors.New("graph source is required")
	}
	receipts, err := src.LoadReceipts(ctx)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}
	rels, err := src.LoadRelationships(ctx)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.receipts) > 0 {
		return errors.New("graph store already holds receipts")
	}
	for _, r := range receipts {
		if _, exists := s.byID[r.ID]; exists {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateReceipt, r.ID)
		}
		s.applyReceiptLocked(r)
	}
	for _, rel := range rels {
		link := LinkRequest{ParentID: rel.ParentReceiptID, ChildID: rel.ChildReceiptID, RelationType: rel.RelationType}
		if err := s.checkLinkLocked(link, false); err != nil {
			return fmt.Errorf("relationship %s: %w", rel.ID, err)
		}
		s.applyEdgeLocked(rel)
	}
	return nil
}

// Snapshot pins the current version. Later writes are invisible to it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newSnapshot(s, s.version)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// checkLinkLocked validates an edge. childIsNew marks the child as the receipt
// being inserted, which cannot yet be reached from anything.
func (s *Store) checkLinkLocked(link LinkRequest, childIsNew bool) error {
	if !link.RelationType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRelation, link.RelationType)
	}
	if link.ParentID == "" || link.ChildID == "" {
		return fmt.Errorf("%w: parent and child ids are required", domain.ErrInvalidRelation)
	}
	if link.ParentID == link.ChildID {
		return fmt.Errorf("%w: %s", domain.ErrSelfLink, link.ParentID)
	}
	if _, ok := s.byID[link.ParentID]; !ok {
		return fmt.Errorf("%w: parent receipt %s", domain.ErrNotFound, link.ParentID)
	}
	if childIsNew {
		return nil
	}
	if _, ok := s.byID[link.ChildID]; !ok {
		return fmt.Errorf("%w: child receipt %s", domain.ErrNotFound, link.ChildID)
	}
	if _, dup := s.edgeSet[edgeKey{parent: link.ParentID, child: link.ChildID, relation: link.RelationType}]; dup {
		return fmt.Errorf("%w: %s -[%s]-> %s", domain.ErrDuplicateRelationship, link.ParentID, link.RelationType, link.ChildID)
	}
	if reachable(link.ChildID, link.ParentID, s.childIDsLocked) {
		return fmt.Errorf("%w: %s -> %s (%s already descends from %s)", domain.ErrCycleDetected, link.ParentID, link.ChildID, link.ParentID, link.ChildID)
	}
	return nil
}

func (s *Store) newRelationship(link LinkRequest) domain.Relationship {
	return domain.Relationship{
		ID:              s.newID(),
		ParentReceiptID: link.ParentID,
		ChildReceiptID:  link.ChildID,
		RelationType:    link.RelationType,
		Description:     link.Description,
		CreatedBy:       link.CreatedBy,
		CreatedAt:       s.now().UTC(),
	}
}

func (s *Store) applyReceiptLocked(r domain.Receipt) {
	s.version++
	s.byID[r.ID] = len(s.receipts)
	s.receipts = append(s.receipts, receiptEntry{receipt: r, seq: s.version})
}

func (s *Store) applyEdgeLocked(rel domain.Relationship) {
	s.version++
	idx := len(s.edges)
	s.edges = append(s.edges, edgeEntry{rel: rel, seq: s.version})
	s.children[rel.ParentReceiptID] = append(s.children[rel.ParentReceiptID], idx)
	s.parents[rel.ChildReceiptID] = append(s.parents[rel.ChildReceiptID], idx)
	s.edgeSet[edgeKey{parent: rel.ParentReceiptID, child: rel.ChildReceiptID, relation: rel.RelationType}] = struct{}{}
}

func (s *Store) childIDsLocked(id string) []string {
	idxs := s.children[id]
	out := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.edges[idx].rel.ChildReceiptID)
	}
	return out
}
