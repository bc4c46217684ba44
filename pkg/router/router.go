// Package router decides which upstream provider serves a request and
// what it is expected to cost.
package router

import (
	"fmt"
	"strings"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/pricing"
	"github.com/rs/zerolog/log"
)

// ErrUnknownModel is returned when no provider or price can be found for
// a request. It is the same sentinel as pricing.ErrUnknownModel.
var ErrUnknownModel = pricing.ErrUnknownModel

// Metadata is the part of a request routing looks at.
type Metadata struct {
	Model         string
	AgentType     string
	System        string
	FirstUserText string
}

// Target is one provider attempt in a routing decision.
type Target struct {
	Provider config.ProviderConfig
	// Model is the upstream model name after alias resolution.
	Model string
	Price pricing.Entry
	// WouldBe is the price used for savings. For paid providers it equals
	// Price; for local providers it is the counterfactual paid price.
	WouldBe pricing.Entry
}

// Local reports whether the target is a free local provider.
func (t Target) Local() bool { return t.Provider.Local() }

// Decision is the routing result: the primary target followed by the
// fallback chain.
type Decision struct {
	Tier    string
	Reason  string
	Targets []Target
}

// Primary returns the first target.
func (d Decision) Primary() Target { return d.Targets[0] }

// Router resolves requests against immutable routing rules.
type Router struct {
	providers  map[string]config.ProviderConfig
	routing    config.RoutingConfig
	agentRules map[string]string
	tierRules  map[string]string
	keywords   []config.RoleKeywords
	table      *pricing.Table
}

// New creates a Router. Every provider named by a rule must exist.
func New(cfg *config.Config, table *pricing.Table) (*Router, error) {
	r := &Router{
		providers:  make(map[string]config.ProviderConfig, len(cfg.Providers)),
		routing:    cfg.Routing,
		agentRules: lowerKeys(cfg.Routing.AgentRules),
		tierRules:  lowerKeys(cfg.Routing.TierRules),
		keywords:   cfg.Routing.RoleKeywords,
		table:      table,
	}
	for _, p := range cfg.Providers {
		r.providers[p.Name] = p
	}
	if len(r.keywords) == 0 {
		r.keywords = DefaultRoleKeywords
	}

	check := func(where, name string) error {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("%s: unknown provider %q", where, name)
		}
		return nil
	}
	if d := cfg.Routing.DefaultProvider; d != "" {
		if err := check("default_provider", d); err != nil {
			return nil, err
		}
	}
	for role, name := range r.agentRules {
		if err := check("agent rule "+role, name); err != nil {
			return nil, err
		}
	}
	for tier, name := range r.tierRules {
		if err := check("tier rule "+tier, name); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Routing.FallbackChain {
		if err := check("fallback chain", name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// Route picks the provider for md. The first matching rule wins: explicit
// agent role, then model tier, then a role inferred from the prompt, then
// the default provider.
func (r *Router) Route(md Metadata) (Decision, error) {
	tier := ExtractTier(md.Model)

	name, reason := r.match(md, tier)
	if name == "" {
		return Decision{Tier: tier}, fmt.Errorf("%w: no route for model %q", ErrUnknownModel, md.Model)
	}

	primary, err := r.target(r.providers[name], md.Model)
	if err != nil {
		return Decision{Tier: tier}, err
	}
	if tier == TierUnknown && primary.Local() {
		tier = TierLocal
	}

	d := Decision{Tier: tier, Reason: reason, Targets: []Target{primary}}
	for _, fb := range r.routing.FallbackChain {
		if fb == name {
			continue
		}
		t, err := r.target(r.providers[fb], md.Model)
		if err != nil {
			log.Debug().Err(err).Str("provider", fb).Msg("skipping fallback without price")
			continue
		}
		d.Targets = append(d.Targets, t)
	}
	return d, nil
}

func (r *Router) match(md Metadata, tier string) (provider, reason string) {
	if role := strings.ToLower(strings.TrimSpace(md.AgentType)); role != "" {
		if p, ok := r.agentRules[role]; ok {
			return p, "agent_rule:" + role
		}
	}
	if p, ok := r.tierRules[tier]; ok {
		return p, "model_tier:" + tier
	}
	text := md.System
	if strings.TrimSpace(text) == "" {
		text = md.FirstUserText
	}
	if role := r.inferRole(text); role != "" {
		return r.agentRules[role], "inferred_agent:" + role
	}
	if r.routing.DefaultProvider != "" {
		return r.routing.DefaultProvider, "default"
	}
	return "", ""
}

// inferRole returns the first role whose keywords appear in text and that
// has an agent rule.
func (r *Router) inferRole(text string) string {
	if text == "" || len(r.agentRules) == 0 {
		return ""
	}
	lower := strings.ToLower(text)
	for _, rk := range r.keywords {
		role := strings.ToLower(rk.Role)
		if _, ok := r.agentRules[role]; !ok {
			continue
		}
		for _, p := range rk.Patterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return role
			}
		}
	}
	return ""
}

func (r *Router) target(p config.ProviderConfig, requested string) (Target, error) {
	model := ResolveModel(p, requested)
	t := Target{Provider: p, Model: model}

	if p.Local() {
		t.Price = pricing.Free(model, p.Name)
		t.WouldBe = r.counterfactual(requested)
		return t, nil
	}

	price, err := r.table.Lookup(model)
	if err != nil {
		return Target{}, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	t.Price = price
	t.WouldBe = price
	return t, nil
}

// counterfactual prices a local request as if it had gone to the
// configured paid provider.
func (r *Router) counterfactual(requested string) pricing.Entry {
	model := requested
	if wh := r.routing.WouldHaveUsed; wh.Model != "" || wh.Provider != "" {
		if p, ok := r.providers[wh.Provider]; ok {
			model = ResolveModel(p, requested)
		}
		if wh.Model != "" {
			model = wh.Model
		}
	}
	price, err := r.table.Lookup(model)
	if err != nil {
		return pricing.Entry{Model: model}
	}
	return price
}

// ResolveModel maps a requested model to the name the provider expects:
// an explicit alias, else the default model when the provider declares a
// model list that does not include the request.
func ResolveModel(p config.ProviderConfig, requested string) string {
	norm := strings.ToLower(strings.TrimSpace(requested))
	for from, to := range p.ModelAliases {
		if strings.ToLower(from) == norm {
			return to
		}
	}
	if norm == "" {
		return p.DefaultModel
	}
	if len(p.Models) > 0 && p.DefaultModel != "" {
		for _, m := range p.Models {
			if strings.ToLower(m) == norm {
				return requested
			}
		}
		return p.DefaultModel
	}
	return requested
}
