package domain

type GraphDirection string

const (
	DirectionBoth        GraphDirection = "both"
	DirectionAncestors   GraphDirection = "ancestors"
	DirectionDescendants GraphDirection = "descendants"
)

type GraphNode struct {
	ReceiptView
	// Distance is the number of hops from the query root.
	Distance int `json:"distance"`
}

type GraphLimits struct {
	MaxDepth int      `json:"max_depth"`
	MaxNodes int      `json:"max_nodes"`
	Hit      []string `json:"hit,omitempty"`
}

// Graph is a derived, unpersisted view around a root receipt.
type Graph struct {
	RootID    string         `json:"root_id"`
	Direction GraphDirection `json:"direction"`
	Nodes     []GraphNode    `json:"nodes"`
	Edges     []Relationship `json:"edges"`
	Truncated bool           `json:"truncated"`
	Limits    GraphLimits    `json:"limits"`
}

type TrustComponent struct {
	Name    string  `json:"name"`
	Applied bool    `json:"applied"`
	Weight  float64 `json:"weight"`
}

type TrustAssessment struct {
	ReceiptID     string           `json:"receipt_id"`
	Score         float64          `json:"score"`
	Level         TrustLevel       `json:"level"`
	GraphDepth    int              `json:"graph_depth"`
	LinkedDomains []ReceiptDomain  `json:"linked_domains"`
	Components    []TrustComponent `json:"components"`
}

type CompletenessSignal struct {
	Name        string `json:"name"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

type Completeness struct {
	ReceiptID string               `json:"receipt_id"`
	Score     float64              `json:"score"`
	Signals   []CompletenessSignal `json:"signals"`
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

type PatternMatch struct {
	Pattern        string    `json:"pattern"`
	ReceiptID      string    `json:"receipt_id"`
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskScore      float64   `json:"risk_score"`
	Recommendation string    `json:"recommendation"`
	Evidence       []string  `json:"evidence,omitempty"`
}

type PathHop struct {
	ReceiptID string `json:"receipt_id"`
	// RelationType labels the edge entering this hop; empty for the first hop.
	RelationType RelationType `json:"relation_type,omitempty"`
}

type Path struct {
	Hops []PathHop `json:"hops"`
}

func (p Path) Len() int {
	if len(p.Hops) == 0 {
		return 0
	}
	return len(p.Hops) - 1
}

const (
	CheckGraphPath         = "Graph Path"
	CheckHashConsistency   = "Hash Consistency"
	CheckTemporalProximity = "Temporal Proximity"
	CheckEntityMatch       = "Entity Match"
)

type CrossProductCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

type CrossProductResult struct {
	ReceiptA string              `json:"receipt_a"`
	ReceiptB string              `json:"receipt_b"`
	Valid    bool                `json:"valid"`
	Checks   []CrossProductCheck `json:"checks"`
	Paths    []Path              `json:"paths,omitempty"`
}

func (r CrossProductResult) Check(name string) (CrossProductCheck, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CrossProductCheck{}, false
}
