package schema

// Plan is the ordered list of natural-language steps produced by a planner.
type Plan struct {
	Steps []string `json:"steps"`
}

// CriticIssue is one problem a critic found in a plan.
type CriticIssue struct {
	Description string `json:"description"`
	Severity    string `json:"severity"` // none | low | medium | high | critical
	Impact      string `json:"impact"`
}

// CriticFeedback is a critic's verdict on a plan. A score of 100 accepts it.
type CriticFeedback struct {
	Score   int           `json:"score"`
	Issues  []CriticIssue `json:"issues,omitempty"`
	Summary string        `json:"summary,omitempty"`
}
