package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps upstream spend in USD for a project per period.
// Project "*" applies to every project. An empty Model covers all models.
type BudgetPolicy struct {
	Project string       `json:"project" yaml:"project"`
	Model   string       `json:"model,omitempty" yaml:"model,omitempty"`
	MaxUSD  float64      `json:"max_usd" yaml:"max_usd"`
	Period  BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current spend against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Spent     Nanos        `json:"spent"`
	Remaining Nanos        `json:"remaining"`
}
