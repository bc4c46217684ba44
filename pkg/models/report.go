package models

// CostReport is an aggregated cost row grouped by project, agent and model.
type CostReport struct {
	Project      string `json:"project"`
	Agent        string `json:"agent"`
	Model        string `json:"model"`
	RequestCount int    `json:"request_count"`
	Hits         int    `json:"hits"`
	TotalTokens  int64  `json:"total_tokens"`
	Cost         Nanos  `json:"cost"`
	Savings      Nanos  `json:"savings"`
}
