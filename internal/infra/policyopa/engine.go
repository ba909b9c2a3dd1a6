package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"certnode/internal/domain"
	"certnode/internal/usecase"
)

// Every pattern lives in its own package under this root and exposes a
// partial set rule named matches.
const (
	packageRoot  = "data.certnode.patterns"
	patternQuery = "data.certnode.patterns[input.pattern].matches"
)

// Engine evaluates Rego pattern packs over receipt neighborhoods.
type Engine struct {
	query    rego.PreparedEvalQuery
	patterns []string
	digest   string
}

var _ usecase.PatternEngine = (*Engine)(nil)

// NewEngine compiles every rule file below dir.
func NewEngine(ctx context.Context, dir string) (*Engine, error) {
	digest, err := BundleDigest(dir)
	if err != nil {
		return nil, fmt.Errorf("digest pattern bundle: %w", err)
	}
	return newEngine(ctx, digest, rego.Load([]string{dir}, nil))
}

// NewEngineFromModules compiles in-memory modules keyed by file name.
func NewEngineFromModules(ctx context.Context, modules map[string]string) (*Engine, error) {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	opts := make([]func(*rego.Rego), 0, len(names))
	files := make([]digestEntry, 0, len(names))
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
		files = append(files, digestEntry{Path: name, SHA256: sha256Hex(modules[name])})
	}
	digest, err := digestOf(files)
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, digest, opts...)
}

func newEngine(ctx context.Context, digest string, sources ...func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := append([]func(*rego.Rego){
		rego.Query(patternQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}, sources...)
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile pattern bundle: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	patterns := discoverPatterns(compiler)
	if len(patterns) == 0 {
		return nil, fmt.Errorf("pattern bundle defines no packages under %s", packageRoot)
	}
	return &Engine{query: prepared, patterns: patterns, digest: digest}, nil
}

func (e *Engine) Patterns() []string {
	return append([]string(nil), e.patterns...)
}

func (e *Engine) Digest() string {
	return e.digest
}

// Evaluate runs one pattern. The match set is returned sorted by receipt id.
func (e *Engine) Evaluate(ctx context.Context, pattern string, in *usecase.PatternInput) ([]domain.PatternMatch, error) {
	if e == nil {
		return nil, errors.New("pattern engine is nil")
	}
	if !e.has(pattern) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPatternUnknown, pattern)
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(buildInput(pattern, in)))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	matches, err := decodeMatches(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", pattern, err)
	}
	for i := range matches {
		matches[i].Pattern = pattern
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ReceiptID < matches[j].ReceiptID })
	return matches, nil
}

func (e *Engine) has(pattern string) bool {
	i := sort.SearchStrings(e.patterns, pattern)
	return i < len(e.patterns) && e.patterns[i] == pattern
}

func discoverPatterns(compiler *ast.Compiler) []string {
	seen := map[string]struct{}{}
	for _, module := range compiler.Modules {
		pkg := module.Package.Path.String()
		name, ok := strings.CutPrefix(pkg, packageRoot+".")
		if !ok || name == "" || strings.Contains(name, ".") {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func decodeMatches(value any) ([]domain.PatternMatch, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var matches []domain.PatternMatch
	if err := json.Unmarshal(payload, &matches); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	for _, m := range matches {
		if m.ReceiptID == "" {
			return nil, errors.New("match without receipt_id")
		}
		switch m.RiskLevel {
		case domain.RiskHigh, domain.RiskMedium, domain.RiskLow:
		default:
			return nil, fmt.Errorf("match for %s has unknown risk level %q", m.ReceiptID, m.RiskLevel)
		}
		if m.RiskScore < 0 || m.RiskScore > 1 {
			return nil, fmt.Errorf("match for %s has risk score %v outside [0,1]", m.ReceiptID, m.RiskScore)
		}
	}
	return matches, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	forbidden := map[string]struct{}{}
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, builtin := ast.BuiltinMap[name]; !builtin {
				return false
			}
			if _, ok := allowedBuiltins[name]; !ok {
				forbidden[name] = struct{}{}
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
