package policyopa

import "github.com/open-policy-agent/opa/ast"

// Pattern packs must be pure functions of their input: no clock, network or
// randomness.
var allowedBuiltins = map[string]struct{}{
	"abs":                   {},
	"and":                   {},
	"array.concat":          {},
	"assign":                {},
	"ceil":                  {},
	"concat":                {},
	"contains":              {},
	"count":                 {},
	"div":                   {},
	"endswith":              {},
	"eq":                    {},
	"equal":                 {},
	"floor":                 {},
	"format_int":            {},
	"gt":                    {},
	"gte":                   {},
	"internal.member_2":     {},
	"internal.member_3":     {},
	"lower":                 {},
	"lt":                    {},
	"lte":                   {},
	"max":                   {},
	"min":                   {},
	"minus":                 {},
	"mul":                   {},
	"neq":                   {},
	"object.get":            {},
	"or":                    {},
	"plus":                  {},
	"round":                 {},
	"sort":                  {},
	"split":                 {},
	"sprintf":               {},
	"startswith":            {},
	"sum":                   {},
	"time.parse_rfc3339_ns": {},
	"trim":                  {},
	"upper":                 {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, b := range builtins {
		if _, ok := allowedBuiltins[b.Name]; ok {
			allowed = append(allowed, b)
		}
	}
	return allowed
}
