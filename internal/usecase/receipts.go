package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"certnode/internal/domain"
	"certnode/internal/graph"
	cryptoinfra "certnode/internal/infra/crypto"
)

// ServiceLimits bounds graph reads. Zero values fall back to the defaults.
type ServiceLimits struct {
	GraphMaxDepth      int
	GraphMaxNodes      int
	PathMaxDepth       int
	MaxPaths           int
	CrossProductWindow time.Duration
}

func DefaultServiceLimits() ServiceLimits {
	return ServiceLimits{
		GraphMaxDepth:      10,
		GraphMaxNodes:      1000,
		PathMaxDepth:       DefaultPathMaxDepth,
		MaxPaths:           DefaultMaxPaths,
		CrossProductWindow: DefaultCrossProductWindow,
	}
}

// ReceiptService is the ingestion and query entry point used by the API and
// the CLI.
type ReceiptService struct {
	Graph     *graph.Store
	Envelopes Envelopes
	Signers   SignerSource
	Keys      domain.KeyProvider
	Trust     *TrustEngine
	Patterns  *PatternRegistry
	Cache     VerificationCache
	CacheTTL  time.Duration
	Limits    ServiceLimits
	Metrics   Metrics
	Logger    *zap.Logger
}

type CreateReceiptRequest struct {
	Domain       domain.ReceiptDomain
	Data         domain.Payload
	ParentIDs    []string
	RelationType domain.RelationType
	Description  string
	CreatedBy    string
}

// CreateReceipt signs a new receipt and links it under its parents in one
// atomic insert. The graph hash commits to the parents' content hashes.
func (s *ReceiptService) CreateReceipt(ctx context.Context, req CreateReceiptRequest) (domain.ReceiptView, error) {
	if err := s.readyToSign(); err != nil {
		return domain.ReceiptView{}, err
	}
	if !req.Domain.Valid() {
		return domain.ReceiptView{}, fmt.Errorf("%w: unknown domain %q", domain.ErrInvalidPayload, req.Domain)
	}
	parentIDs := dedupe(req.ParentIDs)
	relation := req.RelationType
	if relation == "" {
		relation = domain.RelationReferences
	}
	if len(parentIDs) > 0 && !relation.Valid() {
		return domain.ReceiptView{}, fmt.Errorf("%w: %q", domain.ErrInvalidRelation, relation)
	}

	snap := s.Graph.Snapshot()
	parentHashes := make([]string, 0, len(parentIDs))
	for _, id := range parentIDs {
		parent, ok := snap.Receipt(id)
		if !ok {
			return domain.ReceiptView{}, fmt.Errorf("%w: parent receipt %s", domain.ErrNotFound, id)
		}
		parentHashes = append(parentHashes, parent.ContentHash)
	}
	graphHash, err := cryptoinfra.GraphHash(parentHashes)
	if err != nil {
		return domain.ReceiptView{}, err
	}

	signer, err := s.Signers.Active()
	if err != nil {
		return domain.ReceiptView{}, fmt.Errorf("signing key: %w", err)
	}
	receipt, err := s.Envelopes.Sign(domain.Document{
		Domain:    req.Domain,
		Data:      req.Data,
		ParentIDs: parentIDs,
		GraphHash: graphHash,
	}, signer)
	if err != nil {
		return domain.ReceiptView{}, err
	}

	links := make([]graph.LinkRequest, 0, len(parentIDs))
	for _, id := range parentIDs {
		links = append(links, graph.LinkRequest{
			ParentID:     id,
			ChildID:      receipt.ID,
			RelationType: relation,
			Description:  req.Description,
			CreatedBy:    req.CreatedBy,
		})
	}
	if _, err := s.Graph.Insert(ctx, receipt, links); err != nil {
		s.logger().Warn("receipt rejected",
			zap.String("receipt_id", receipt.ID),
			zap.String("domain", string(req.Domain)),
			zap.Error(err))
		return domain.ReceiptView{}, err
	}
	s.metrics().ReceiptCreated(req.Domain)
	s.logger().Info("receipt created",
		zap.String("receipt_id", receipt.ID),
		zap.String("domain", string(req.Domain)),
		zap.String("kid", receipt.KID),
		zap.Int("parents", len(parentIDs)))
	return s.Trust.View(s.Graph.Snapshot(), receipt.ID)
}

// Import stores an externally signed envelope after verifying it. Parents
// named in the signed payload must already be present.
func (s *ReceiptService) Import(ctx context.Context, env domain.Envelope, relation domain.RelationType) (domain.ReceiptView, error) {
	if err := s.ready(); err != nil {
		return domain.ReceiptView{}, err
	}
	result, err := s.Verify(ctx, env)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	if !result.Valid {
		return domain.ReceiptView{}, fmt.Errorf("%w: %s: %s", domain.ErrInvalidEnvelope, result.Reason, result.Detail)
	}
	receipt, err := cryptoinfra.ReceiptFromEnvelope(env)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	parents, err := cryptoinfra.ParentIDs(env)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	snap := s.Graph.Snapshot()
	parentHashes := make([]string, 0, len(parents))
	for _, id := range parents {
		parent, ok := snap.Receipt(id)
		if !ok {
			return domain.ReceiptView{}, fmt.Errorf("%w: parent receipt %s", domain.ErrNotFound, id)
		}
		parentHashes = append(parentHashes, parent.ContentHash)
	}
	graphHash, err := cryptoinfra.GraphHash(parentHashes)
	if err != nil {
		return domain.ReceiptView{}, err
	}
	if graphHash != receipt.GraphHash {
		return domain.ReceiptView{}, fmt.Errorf("%w: graph_hash does not match the stored parents", domain.ErrInvalidEnvelope)
	}
	if relation == "" {
		relation = domain.RelationReferences
	}
	links := make([]graph.LinkRequest, 0, len(parents))
	for _, id := range parents {
		links = append(links, graph.LinkRequest{ParentID: id, ChildID: receipt.ID, RelationType: relation})
	}
	if _, err := s.Graph.Insert(ctx, receipt, links); err != nil {
		return domain.ReceiptView{}, err
	}
	s.metrics().ReceiptCreated(receipt.Domain)
	return s.Trust.View(s.Graph.Snapshot(), receipt.ID)
}

// Link adds an edge between two stored receipts.
func (s *ReceiptService) Link(ctx context.Context, req graph.LinkRequest) (domain.Relationship, error) {
	if err := s.ready(); err != nil {
		return domain.Relationship{}, err
	}
	rel, err := s.Graph.Link(ctx, req)
	if err != nil {
		s.metrics().LinkResult(req.RelationType, linkOutcome(err))
		s.logger().Warn("link rejected",
			zap.String("parent_id", req.ParentID),
			zap.String("child_id", req.ChildID),
			zap.String("relation_type", string(req.RelationType)),
			zap.Error(err))
		return domain.Relationship{}, err
	}
	s.metrics().LinkResult(rel.RelationType, "accepted")
	s.logger().Info("receipts linked",
		zap.String("relationship_id", rel.ID),
		zap.String("parent_id", rel.ParentReceiptID),
		zap.String("child_id", rel.ChildReceiptID),
		zap.String("relation_type", string(rel.RelationType)))
	return rel, nil
}

func linkOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, domain.ErrDuplicateRelationship):
		return "duplicate"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "invalid"
	}
}

func (s *ReceiptService) Get(_ context.Context, id string) (domain.ReceiptView, error) {
	if err := s.ready(); err != nil {
		return domain.ReceiptView{}, err
	}
	return s.Trust.View(s.Graph.Snapshot(), id)
}

type GraphQuery struct {
	Direction domain.GraphDirection
	MaxDepth  int
	MaxNodes  int
}

// QueryGraph returns the neighborhood of a receipt with trust fields filled
// in from the same snapshot.
func (s *ReceiptService) QueryGraph(_ context.Context, id string, q GraphQuery) (domain.Graph, error) {
	if err := s.ready(); err != nil {
		return domain.Graph{}, err
	}
	limits := s.limits()
	if q.MaxDepth <= 0 {
		q.MaxDepth = limits.GraphMaxDepth
	}
	if q.MaxNodes <= 0 || q.MaxNodes > limits.GraphMaxNodes {
		q.MaxNodes = limits.GraphMaxNodes
	}
	if q.Direction == "" {
		q.Direction = domain.DirectionBoth
	}
	snap := s.Graph.Snapshot()
	g, err := snap.Query(id, graph.QueryOptions{Direction: q.Direction, MaxDepth: q.MaxDepth, MaxNodes: q.MaxNodes})
	if err != nil {
		return domain.Graph{}, err
	}
	for i := range g.Nodes {
		a, err := s.Trust.Assess(snap, g.Nodes[i].ID)
		if err != nil {
			return domain.Graph{}, err
		}
		g.Nodes[i].TrustScore = a.Score
		g.Nodes[i].TrustLevel = a.Level
	}
	return g, nil
}

func (s *ReceiptService) AssessTrust(_ context.Context, id string) (domain.TrustAssessment, error) {
	if err := s.ready(); err != nil {
		return domain.TrustAssessment{}, err
	}
	return s.Trust.Assess(s.Graph.Snapshot(), id)
}

func (s *ReceiptService) Completeness(_ context.Context, id string) (domain.Completeness, error) {
	if err := s.ready(); err != nil {
		return domain.Completeness{}, err
	}
	return Completeness(s.Graph.Snapshot(), id)
}

func (s *ReceiptService) FindPaths(_ context.Context, fromID, toID string, maxPaths int) ([]domain.Path, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	limits := s.limits()
	if maxPaths <= 0 {
		maxPaths = limits.MaxPaths
	}
	return FindPaths(s.Graph.Snapshot(), fromID, toID, maxPaths, limits.PathMaxDepth)
}

// CrossProduct verifies two receipts against each other. Paths are searched
// from a to b first and from b to a when none exist.
func (s *ReceiptService) CrossProduct(_ context.Context, aID, bID string) (domain.CrossProductResult, error) {
	if err := s.ready(); err != nil {
		return domain.CrossProductResult{}, err
	}
	if aID == bID {
		return domain.CrossProductResult{}, fmt.Errorf("%w: cross-product needs two distinct receipts", domain.ErrInvalidArgument)
	}
	limits := s.limits()
	snap := s.Graph.Snapshot()
	a, ok := snap.Receipt(aID)
	if !ok {
		return domain.CrossProductResult{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, aID)
	}
	b, ok := snap.Receipt(bID)
	if !ok {
		return domain.CrossProductResult{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, bID)
	}
	paths, err := FindPaths(snap, aID, bID, limits.MaxPaths, limits.PathMaxDepth)
	if err != nil {
		return domain.CrossProductResult{}, err
	}
	if len(paths) == 0 {
		paths, err = FindPaths(snap, bID, aID, limits.MaxPaths, limits.PathMaxDepth)
		if err != nil {
			return domain.CrossProductResult{}, err
		}
	}
	return VerifyCrossProduct(a, b, paths, CrossProductOptions{Window: limits.CrossProductWindow}), nil
}

// DetectPatterns runs one named pattern, or every pattern when name is empty,
// over the receipts in the current snapshot.
func (s *ReceiptService) DetectPatterns(ctx context.Context, name string) ([]domain.PatternMatch, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.Patterns == nil {
		return nil, fmt.Errorf("%w: no pattern registry configured", domain.ErrPatternUnknown)
	}
	snap := s.Graph.Snapshot()
	receipts := snap.Receipts()
	rels := snap.Relationships()
	if name == "" {
		matches, err := s.Patterns.DetectAll(ctx, receipts, rels)
		if err != nil {
			return nil, err
		}
		counts := map[string]int{}
		for _, m := range matches {
			counts[m.Pattern]++
		}
		for pattern, n := range counts {
			s.metrics().PatternMatches(pattern, n)
		}
		return matches, nil
	}
	matches, err := s.Patterns.Detect(ctx, name, receipts, rels)
	if err != nil {
		return nil, err
	}
	s.metrics().PatternMatches(name, len(matches))
	return matches, nil
}

// Verify checks an envelope against the configured key provider. Results are
// cached per envelope and per resolved public key.
func (s *ReceiptService) Verify(ctx context.Context, env domain.Envelope) (domain.Verification, error) {
	if s.Envelopes == nil {
		return domain.Verification{}, errors.New("envelope service is required")
	}
	key, cacheable := s.cacheKey(ctx, env)
	if cacheable {
		cached, ok, err := s.Cache.Get(ctx, key)
		if err == nil && ok {
			s.metrics().VerificationResult(cached.Reason, true)
			return *cached, nil
		}
	}
	result, err := s.Envelopes.Verify(ctx, env, s.Keys)
	if err != nil {
		return domain.Verification{}, err
	}
	if cacheable {
		if err := s.Cache.Put(ctx, key, result, s.CacheTTL); err != nil {
			s.logger().Warn("verification cache put failed", zap.Error(err))
		}
	}
	s.metrics().VerificationResult(result.Reason, false)
	if !result.Valid {
		s.logger().Info("receipt failed verification",
			zap.String("receipt_id", result.ReceiptID),
			zap.String("reason", string(result.Reason)))
	}
	return result, nil
}

// cacheKey binds a cached verdict to the envelope and to the thumbprint of the
// key its kid resolves to now. A kid that is dropped from the key set, or
// rebound to another key, misses the cache.
func (s *ReceiptService) cacheKey(ctx context.Context, env domain.Envelope) (string, bool) {
	if s.Cache == nil || s.Keys == nil || env.KID == "" {
		return "", false
	}
	pub, err := s.Keys.PublicKey(ctx, env.KID)
	if err != nil {
		return "", false
	}
	thumbprint, err := cryptoinfra.Thumbprint(pub)
	if err != nil {
		return "", false
	}
	digest, err := cryptoinfra.ContentHash(env)
	if err != nil {
		return "", false
	}
	return digest + "." + thumbprint, true
}

// VerifyStored re-verifies the envelope held for a stored receipt.
func (s *ReceiptService) VerifyStored(ctx context.Context, id string) (domain.Verification, error) {
	if s.Graph == nil {
		return domain.Verification{}, errors.New("graph store is required")
	}
	r, ok := s.Graph.Snapshot().Receipt(id)
	if !ok {
		return domain.Verification{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, id)
	}
	return s.Verify(ctx, r.Envelope)
}

func (s *ReceiptService) ready() error {
	if s.Graph == nil {
		return errors.New("graph store is required")
	}
	if s.Trust == nil {
		return errors.New("trust engine is required")
	}
	return nil
}

func (s *ReceiptService) readyToSign() error {
	if err := s.ready(); err != nil {
		return err
	}
	if s.Envelopes == nil || s.Signers == nil {
		return errors.New("envelope service and signer are required")
	}
	return nil
}

func (s *ReceiptService) limits() ServiceLimits {
	def := DefaultServiceLimits()
	l := s.Limits
	if l.GraphMaxDepth <= 0 {
		l.GraphMaxDepth = def.GraphMaxDepth
	}
	if l.GraphMaxNodes <= 0 {
		l.GraphMaxNodes = def.GraphMaxNodes
	}
	if l.PathMaxDepth <= 0 {
		l.PathMaxDepth = def.PathMaxDepth
	}
	if l.MaxPaths <= 0 {
		l.MaxPaths = def.MaxPaths
	}
	if l.CrossProductWindow <= 0 {
		l.CrossProductWindow = def.CrossProductWindow
	}
	return l
}

func (s *ReceiptService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *ReceiptService) metrics() Metrics {
	if s.Metrics == nil {
		return nopMetrics{}
	}
	return s.Metrics
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
