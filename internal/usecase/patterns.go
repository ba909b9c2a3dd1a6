package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"certnode/internal/domain"
)

// PatternFunc evaluates one named rule over a receipt neighborhood.
type PatternFunc func(ctx context.Context, in *PatternInput) ([]domain.PatternMatch, error)

type PatternOptions struct {
	// HighValueThreshold is the transaction amount at or above which an
	// orphaned transaction is flagged.
	HighValueThreshold float64
	// AmendmentLimit is the number of amendments a receipt may carry before
	// it is flagged.
	AmendmentLimit int
}

func DefaultPatternOptions() PatternOptions {
	return PatternOptions{HighValueThreshold: 10000, AmendmentLimit: 3}
}

// PatternInput is the receipt and relationship set a pattern runs over, with
// adjacency indices built once per detection.
type PatternInput struct {
	Receipts      []domain.Receipt
	Relationships []domain.Relationship
	Options       PatternOptions

	byID     map[string]domain.Receipt
	parents  map[string][]domain.Relationship
	children map[string][]domain.Relationship
}

func NewPatternInput(receipts []domain.Receipt, rels []domain.Relationship, opts PatternOptions) *PatternInput {
	in := &PatternInput{
		Receipts:      receipts,
		Relationships: rels,
		Options:       opts,
		byID:          make(map[string]domain.Receipt, len(receipts)),
		parents:       map[string][]domain.Relationship{},
		children:      map[string][]domain.Relationship{},
	}
	for _, r := range receipts {
		in.byID[r.ID] = r
	}
	for _, rel := range rels {
		in.parents[rel.ChildReceiptID] = append(in.parents[rel.ChildReceiptID], rel)
		in.children[rel.ParentReceiptID] = append(in.children[rel.ParentReceiptID], rel)
	}
	return in
}

func (in *PatternInput) Receipt(id string) (domain.Receipt, bool) {
	r, ok := in.byID[id]
	return r, ok
}

func (in *PatternInput) ParentsOf(id string) []domain.Relationship  { return in.parents[id] }
func (in *PatternInput) ChildrenOf(id string) []domain.Relationship { return in.children[id] }

// Descendants returns every receipt in the input reachable from id.
func (in *PatternInput) Descendants(id string) []domain.Receipt {
	seen := map[string]struct{}{id: {}}
	queue := []string{id}
	var out []domain.Receipt
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, rel := range in.children[cur] {
			next := rel.ChildReceiptID
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
			if r, ok := in.byID[next]; ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// PatternRegistry maps pattern names to rules. Rules are independent; adding
// one never touches the others.
type PatternRegistry struct {
	mu       sync.RWMutex
	opts     PatternOptions
	patterns map[string]PatternFunc
}

func NewPatternRegistry(opts PatternOptions) *PatternRegistry {
	return &PatternRegistry{opts: opts, patterns: map[string]PatternFunc{}}
}

// DefaultPatternRegistry returns a registry holding the built-in rules.
func DefaultPatternRegistry(opts PatternOptions) *PatternRegistry {
	r := NewPatternRegistry(opts)
	for name, fn := range builtinPatterns() {
		r.patterns[name] = fn
	}
	return r
}

func (r *PatternRegistry) Register(name string, fn PatternFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: pattern name and func are required", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.patterns[name]; exists {
		return fmt.Errorf("%w: pattern %q already registered", domain.ErrInvalidArgument, name)
	}
	r.patterns[name] = fn
	return nil
}

// RegisterEngine registers every rule an external engine exposes.
func (r *PatternRegistry) RegisterEngine(engine PatternEngine) error {
	for _, name := range engine.Patterns() {
		name := name
		err := r.Register(name, func(ctx context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
			return engine.Evaluate(ctx, name, in)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PatternRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.patterns))
	for name := range r.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect runs a single pattern.
func (r *PatternRegistry) Detect(ctx context.Context, name string, receipts []domain.Receipt, rels []domain.Relationship) ([]domain.PatternMatch, error) {
	r.mu.RLock()
	fn, ok := r.patterns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPatternUnknown, name)
	}
	matches, err := fn(ctx, NewPatternInput(receipts, rels, r.opts))
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", name, err)
	}
	return stampPattern(name, matches), nil
}

// DetectAll runs every registered pattern over one shared input. Matches are
// ordered by descending risk score, then pattern name and receipt id.
func (r *PatternRegistry) DetectAll(ctx context.Context, receipts []domain.Receipt, rels []domain.Relationship) ([]domain.PatternMatch, error) {
	in := NewPatternInput(receipts, rels, r.opts)
	var out []domain.PatternMatch
	for _, name := range r.Names() {
		r.mu.RLock()
		fn := r.patterns[name]
		r.mu.RUnlock()
		matches, err := fn(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", name, err)
		}
		out = append(out, stampPattern(name, matches)...)
	}
	sortMatches(out)
	return out, nil
}

func stampPattern(name string, matches []domain.PatternMatch) []domain.PatternMatch {
	for i := range matches {
		if matches[i].Pattern == "" {
			matches[i].Pattern = name
		}
	}
	return matches
}

func sortMatches(matches []domain.PatternMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if a.Pattern != b.Pattern {
			return a.Pattern < b.Pattern
		}
		return a.ReceiptID < b.ReceiptID
	})
}
