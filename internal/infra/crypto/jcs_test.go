package crypto

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"certnode/internal/domain"
)

func TestCanonicalizeJSON_Golden(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{
			name:  "canonical_mixed",
			input: `{"é": 1E21, "c": 0.0000001, "b": [3, 2.50, {"z": null, "a": true}], "a": "x\u0007y"}`,
		},
		{
			name:  "canonical_utf16_keys",
			input: `{"דּ": 3, "😀": 2, "€": 1}`,
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := CanonicalizeJSON([]byte(tc.input))
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			g.Assert(t, tc.name, actual)
		})
	}
}

func TestCanonicalizeJSON_Numbers(t *testing.T) {
	cases := map[string]string{
		`0`:                "0",
		`-0`:               "0",
		`1.0`:              "1",
		`100`:              "100",
		`123456789012`:     "123456789012",
		`0.000001`:         "0.000001",
		`1e-7`:             "1e-7",
		`-1.5e-9`:          "-1.5e-9",
		`1e20`:             "100000000000000000000",
		`1e21`:             "1e+21",
		`12345678901e15`:   "1.2345678901e+25",
		`9007199254740992`: "9007199254740992",
		`2.50`:             "2.5",
	}
	for input, expected := range cases {
		actual, err := CanonicalizeJSON([]byte(input))
		if err != nil {
			t.Fatalf("canonicalize %s: %v", input, err)
		}
		if string(actual) != expected {
			t.Fatalf("canonicalize %s: got %s want %s", input, actual, expected)
		}
	}
}

func TestCanonicalizeJSON_Stability(t *testing.T) {
	a := []byte(`{"b":1,"a":{"y":[1,2],"x":"v"}}`)
	b := []byte(" { \"a\" : { \"x\" : \"v\", \"y\" : [ 1.0 , 2 ] } ,\n \"b\" : 1e0 } ")

	ca, err := CanonicalizeJSON(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	cb, err := CanonicalizeJSON(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected equal canonical forms, got %s and %s", ca, cb)
	}

	type inner struct {
		Y []int  `json:"y"`
		X string `json:"x"`
	}
	type outer struct {
		B int   `json:"b"`
		A inner `json:"a"`
	}
	cs, err := CanonicalizeAny(outer{B: 1, A: inner{Y: []int{1, 2}, X: "v"}})
	if err != nil {
		t.Fatalf("canonicalize struct: %v", err)
	}
	if string(cs) != string(ca) {
		t.Fatalf("struct canonical form %s differs from %s", cs, ca)
	}
}

func TestCanonicalizeJSON_KeepsNulls(t *testing.T) {
	withNull, err := CanonicalizeJSON([]byte(`{"a":null,"b":1}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	without, err := CanonicalizeJSON([]byte(`{"b":1}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(withNull) == string(without) {
		t.Fatal("null members must not be dropped")
	}
}

func TestCanonicalize_StructuralErrors(t *testing.T) {
	cyclicMap := map[string]any{}
	cyclicMap["self"] = cyclicMap

	cyclicSlice := make([]any, 1)
	cyclicSlice[0] = cyclicSlice

	var deep any = "leaf"
	for i := 0; i < maxCanonicalDepth+2; i++ {
		deep = []any{deep}
	}

	cases := map[string]func() ([]byte, error){
		"nan":           func() ([]byte, error) { return CanonicalizeAny(math.NaN()) },
		"inf":           func() ([]byte, error) { return CanonicalizeAny(math.Inf(1)) },
		"cyclic map":    func() ([]byte, error) { return CanonicalizeAny(cyclicMap) },
		"cyclic slice":  func() ([]byte, error) { return CanonicalizeAny(cyclicSlice) },
		"too deep":      func() ([]byte, error) { return CanonicalizeAny(deep) },
		"trailing data": func() ([]byte, error) { return CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)) },
		"invalid json":  func() ([]byte, error) { return CanonicalizeJSON([]byte(`{"a":`)) },
		"unsupported":   func() ([]byte, error) { return CanonicalizeAny(map[string]any{"ch": make(chan int)}) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fn()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestCanonicalizeJSON_SharedNonCyclicReference(t *testing.T) {
	shared := map[string]any{"k": "v"}
	out, err := CanonicalizeAny(map[string]any{"a": shared, "b": shared})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !strings.Contains(string(out), `"b":{"k":"v"}`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestCanonicalize_RejectsLossyInput(t *testing.T) {
	type note struct {
		Text string `json:"text"`
	}
	cases := map[string]func() ([]byte, error){
		"integer above 2^53":     func() ([]byte, error) { return CanonicalizeJSON([]byte(`{"n":9007199254740993}`)) },
		"excess decimal digits":  func() ([]byte, error) { return CanonicalizeJSON([]byte(`0.10000000000000000001`)) },
		"underflow":              func() ([]byte, error) { return CanonicalizeJSON([]byte(`1e-400`)) },
		"overflow":               func() ([]byte, error) { return CanonicalizeJSON([]byte(`1e400`)) },
		"int64 above 2^53":       func() ([]byte, error) { return CanonicalizeAny(int64(1<<53 + 1)) },
		"max uint64":             func() ([]byte, error) { return CanonicalizeAny(map[string]any{"n": uint64(math.MaxUint64)}) },
		"json.Number above 2^53": func() ([]byte, error) { return CanonicalizeAny(map[string]any{"n": json.Number("9007199254740993")}) },
		"invalid utf8 value":     func() ([]byte, error) { return CanonicalizeAny(map[string]any{"s": "a\xff"}) },
		"invalid utf8 key":       func() ([]byte, error) { return CanonicalizeAny(map[string]any{"\xfe": 1}) },
		"invalid utf8 document":  func() ([]byte, error) { return CanonicalizeJSON([]byte("{\"s\":\"a\xff\"}")) },
		"invalid utf8 in struct": func() ([]byte, error) { return CanonicalizeAny(note{Text: "a\xff"}) },
		"invalid utf8 nested":    func() ([]byte, error) { return CanonicalizeAny(map[string]any{"notes": []note{{Text: "\xfe"}}}) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := fn()
			if err == nil {
				t.Fatalf("expected error, got %s", out)
			}
			if !errors.Is(err, domain.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestCanonicalize_DistinctInputsStayDistinct(t *testing.T) {
	pairs := [][2]string{
		{`{"n":9007199254740992}`, `{"n":9007199254740994}`},
		{`{"n":1e21}`, `{"n":1e20}`},
		{`{"a":null}`, `{}`},
		{`[1,2]`, `[2,1]`},
		{`{"n":0.1}`, `{"n":0.10000000000000002}`},
	}
	for _, pair := range pairs {
		left, err := CanonicalizeJSON([]byte(pair[0]))
		if err != nil {
			t.Fatalf("canonicalize %s: %v", pair[0], err)
		}
		right, err := CanonicalizeJSON([]byte(pair[1]))
		if err != nil {
			t.Fatalf("canonicalize %s: %v", pair[1], err)
		}
		if string(left) == string(right) {
			t.Fatalf("%s and %s collapsed to %s", pair[0], pair[1], left)
		}
	}
}

func TestCanonicalizeAny_NestedTypedValues(t *testing.T) {
	type entry struct {
		Path   string `json:"path"`
		SHA256 string `json:"sha256"`
	}
	out, err := CanonicalizeAny(map[string]any{
		"files": []entry{{Path: "b.rego", SHA256: "02"}, {Path: "a.rego", SHA256: "01"}},
		"count": int64(1 << 53),
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"count":9007199254740992,"files":[{"path":"b.rego","sha256":"02"},{"path":"a.rego","sha256":"01"}]}`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
}
