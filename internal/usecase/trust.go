package usecase

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"certnode/internal/domain"
	"certnode/internal/graph"
)

const TrustPolicyVersion = "trust.v1"

// Trust rule conditions.
const (
	TrustWhenLinkedDomain = "linked_domain"
	TrustWhenMinDepth     = "min_depth"
	TrustWhenHasParent    = "has_parent"
)

const basisPoints = 10000

// TrustPolicy holds the trust weights. Scores are expressed as fractions in
// YAML and evaluated in basis points.
type TrustPolicy struct {
	Version  string      `yaml:"version"`
	Baseline float64     `yaml:"baseline"`
	Cap      float64     `yaml:"cap"`
	Rules    []TrustRule `yaml:"rules"`
	Tiers    []TrustTier `yaml:"tiers"`
}

type TrustRule struct {
	Name     string               `yaml:"name"`
	When     string               `yaml:"when"`
	Domain   domain.ReceiptDomain `yaml:"domain,omitempty"`
	MinDepth int                  `yaml:"min_depth,omitempty"`
	Bonus    float64              `yaml:"bonus"`
}

type TrustTier struct {
	Level domain.TrustLevel `yaml:"level"`
	Min   float64           `yaml:"min"`
}

func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{
		Version:  TrustPolicyVersion,
		Baseline: 0.60,
		Cap:      1.00,
		Rules: []TrustRule{
			{Name: "content_linked", When: TrustWhenLinkedDomain, Domain: domain.DomainContent, Bonus: 0.20},
			{Name: "operations_linked", When: TrustWhenLinkedDomain, Domain: domain.DomainOperations, Bonus: 0.15},
			{Name: "deep_provenance", When: TrustWhenMinDepth, MinDepth: 3, Bonus: 0.05},
			{Name: "has_parent", When: TrustWhenHasParent, Bonus: 0.05},
		},
		Tiers: []TrustTier{
			{Level: domain.TrustLevelPlatinum, Min: 0.95},
			{Level: domain.TrustLevelVerified, Min: 0.85},
		},
	}
}

// ParseTrustPolicy decodes a YAML policy. Unknown fields are rejected.
func ParseTrustPolicy(data []byte) (TrustPolicy, error) {
	var p TrustPolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return TrustPolicy{}, fmt.Errorf("decode trust policy: %w", err)
	}
	if p.Version == "" {
		p.Version = TrustPolicyVersion
	}
	if err := p.Validate(); err != nil {
		return TrustPolicy{}, err
	}
	return p, nil
}

func LoadTrustPolicy(path string) (TrustPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrustPolicy{}, fmt.Errorf("read trust policy: %w", err)
	}
	return ParseTrustPolicy(data)
}

func (p TrustPolicy) Validate() error {
	if !fraction(p.Baseline) || !fraction(p.Cap) {
		return fmt.Errorf("%w: baseline and cap must be within [0,1]", domain.ErrInvalidArgument)
	}
	if p.Baseline > p.Cap {
		return fmt.Errorf("%w: baseline %.2f exceeds cap %.2f", domain.ErrInvalidArgument, p.Baseline, p.Cap)
	}
	names := map[string]struct{}{}
	for _, r := range p.Rules {
		if r.Name == "" {
			return fmt.Errorf("%w: trust rule name is required", domain.ErrInvalidArgument)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("%w: duplicate trust rule %q", domain.ErrInvalidArgument, r.Name)
		}
		names[r.Name] = struct{}{}
		if r.Bonus < 0 || !fraction(r.Bonus) {
			return fmt.Errorf("%w: rule %q bonus must be within [0,1]", domain.ErrInvalidArgument, r.Name)
		}
		switch r.When {
		case TrustWhenLinkedDomain:
			if !r.Domain.Valid() {
				return fmt.Errorf("%w: rule %q has unknown domain %q", domain.ErrInvalidArgument, r.Name, r.Domain)
			}
		case TrustWhenMinDepth:
			if r.MinDepth <= 0 {
				return fmt.Errorf("%w: rule %q needs min_depth > 0", domain.ErrInvalidArgument, r.Name)
			}
		case TrustWhenHasParent:
		default:
			return fmt.Errorf("%w: rule %q has unknown condition %q", domain.ErrInvalidArgument, r.Name, r.When)
		}
	}
	for _, t := range p.Tiers {
		switch t.Level {
		case domain.TrustLevelPlatinum, domain.TrustLevelVerified, domain.TrustLevelBasic:
		default:
			return fmt.Errorf("%w: unknown trust level %q", domain.ErrInvalidArgument, t.Level)
		}
		if !fraction(t.Min) {
			return fmt.Errorf("%w: tier %s threshold must be within [0,1]", domain.ErrInvalidArgument, t.Level)
		}
	}
	return nil
}

func fraction(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func toBP(v float64) int {
	return int(math.Round(v * basisPoints))
}

func fromBP(bp int) float64 {
	return float64(bp) / basisPoints
}

// TrustEngine scores receipts against a graph snapshot.
type TrustEngine struct {
	policy TrustPolicy
	tiers  []TrustTier
}

func NewTrustEngine(policy TrustPolicy) (*TrustEngine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	tiers := append([]TrustTier(nil), policy.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Min > tiers[j].Min })
	return &TrustEngine{policy: policy, tiers: tiers}, nil
}

func (e *TrustEngine) Policy() TrustPolicy {
	return e.policy
}

// Level maps a score to its tier. Scores below every threshold are BASIC.
func (e *TrustEngine) Level(score float64) domain.TrustLevel {
	bp := toBP(score)
	for _, t := range e.tiers {
		if bp >= toBP(t.Min) {
			return t.Level
		}
	}
	return domain.TrustLevelBasic
}

// Assess computes the trust breakdown for id as seen by snap.
func (e *TrustEngine) Assess(snap *graph.Snapshot, id string) (domain.TrustAssessment, error) {
	if !snap.Has(id) {
		return domain.TrustAssessment{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, id)
	}
	depth := snap.Depth(id)
	linked := snap.LinkedDomains(id)
	hasParent := len(snap.ParentIDs(id)) > 0

	present := make(map[domain.ReceiptDomain]bool, len(linked))
	for _, d := range linked {
		present[d] = true
	}

	total := toBP(e.policy.Baseline)
	components := make([]domain.TrustComponent, 0, len(e.policy.Rules)+1)
	components = append(components, domain.TrustComponent{Name: "baseline", Applied: true, Weight: e.policy.Baseline})
	for _, rule := range e.policy.Rules {
		var applied bool
		switch rule.When {
		case TrustWhenLinkedDomain:
			applied = present[rule.Domain]
		case TrustWhenMinDepth:
			applied = depth >= rule.MinDepth
		case TrustWhenHasParent:
			applied = hasParent
		}
		if applied {
			total += toBP(rule.Bonus)
		}
		components = append(components, domain.TrustComponent{Name: rule.Name, Applied: applied, Weight: rule.Bonus})
	}
	if limit := toBP(e.policy.Cap); total > limit {
		total = limit
	}
	score := fromBP(total)
	return domain.TrustAssessment{
		ReceiptID:     id,
		Score:         score,
		Level:         e.Level(score),
		GraphDepth:    depth,
		LinkedDomains: linked,
		Components:    components,
	}, nil
}

// View returns the receipt view for id with trust fields populated.
func (e *TrustEngine) View(snap *graph.Snapshot, id string) (domain.ReceiptView, error) {
	view, ok := snap.View(id)
	if !ok {
		return domain.ReceiptView{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, id)
	}
	assessment, err := e.Assess(snap, id)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	view.TrustScore = assessment.Score
	view.TrustLevel = assessment.Level
	return view, nil
}
