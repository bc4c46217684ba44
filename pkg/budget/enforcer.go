package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/gatecache/pkg/models"
)

// ErrBudgetExceeded is returned when a request exceeds the budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Spender reports recorded upstream spend. tracker.Tracker satisfies it.
type Spender interface {
	SpendSince(ctx context.Context, project, model string, since time.Time) (models.Nanos, error)
}

// Enforcer checks upstream spend against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	spender  Spender
	now      func() time.Time
}

// New creates an Enforcer with the given policies and spend source.
func New(policies []models.BudgetPolicy, s Spender) *Enforcer {
	return &Enforcer{policies: policies, spender: s, now: time.Now}
}

// Check returns ErrBudgetExceeded if the project has reached any
// applicable policy for model.
func (e *Enforcer) Check(ctx context.Context, project, model string) error {
	if e == nil {
		return nil
	}
	for _, p := range e.applicablePolicies(project, model) {
		spent, err := e.spent(ctx, p, project)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if spent >= models.NanosFromUSD(p.MaxUSD) {
			return fmt.Errorf("%w: project %q spent $%.2f of $%.2f %s",
				ErrBudgetExceeded, project, spent.USD(), p.MaxUSD, p.Period)
		}
	}
	return nil
}

// Status returns the budget status for a project across all applicable
// policies.
func (e *Enforcer) Status(ctx context.Context, project string) ([]models.BudgetStatus, error) {
	policies := e.policiesForProject(project)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		spent, err := e.spent(ctx, p, project)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := models.NanosFromUSD(p.MaxUSD) - spent
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Spent:     spent,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

// spent is the policy's spend so far this period. A wildcard policy is
// applied per project.
func (e *Enforcer) spent(ctx context.Context, p models.BudgetPolicy, project string) (models.Nanos, error) {
	return e.spender.SpendSince(ctx, project, p.Model, periodStart(p.Period, e.now()))
}

// policiesForProject returns all policies matching a project (ignoring
// model filter).
func (e *Enforcer) policiesForProject(project string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Project == "*" || p.Project == project {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) applicablePolicies(project, model string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policiesForProject(project) {
		if p.Model == "" || p.Model == model {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
