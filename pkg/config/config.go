package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pario-ai/gatecache/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all gatecache configuration. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	Listen      string                      `yaml:"listen"`
	DBPath      string                      `yaml:"db_path"`
	Server      ServerConfig                `yaml:"server"`
	Providers   []ProviderConfig            `yaml:"providers"`
	Credentials map[string]CredentialConfig `yaml:"credentials"`
	Auth        AuthConfig                  `yaml:"auth"`
	Routing     RoutingConfig               `yaml:"routing"`
	Pricing     PricingConfig               `yaml:"pricing"`
	Cache       CacheConfig                 `yaml:"cache"`
	Analytics   AnalyticsConfig             `yaml:"analytics"`
	Audit       AuditConfig                 `yaml:"audit"`
	Budget      BudgetConfig                `yaml:"budget"`
	Log         LogConfig                   `yaml:"log"`
}

// ServerConfig bounds the inbound side of the gateway.
type ServerConfig struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// DrainLimit caps how much of an upstream stream is read after the
	// client has gone away.
	DrainLimit int64 `yaml:"drain_limit"`
}

// Provider types.
const (
	TypeAnthropic = "anthropic"
	TypeOpenAI    = "openai"
	TypeDeepSeek  = "deepseek"
	TypeAzure     = "azure"
	TypeOllama    = "ollama"
)

// ProviderConfig defines an upstream LLM provider.
type ProviderConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	URL  string `yaml:"url"`

	// CredentialRef is an opaque handle resolved through the credential
	// store. It is never a raw secret.
	CredentialRef   string `yaml:"credential_ref"`
	SessionTokenEnv string `yaml:"session_token_env"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Passthrough     *bool  `yaml:"passthrough"`

	Models       []string          `yaml:"models"`
	DefaultModel string            `yaml:"default_model"`
	ModelAliases map[string]string `yaml:"model_aliases"`
	Stream       *bool             `yaml:"stream"`

	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`
	Headers   map[string]string `yaml:"headers"`

	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// Local reports whether the provider runs on the local machine and is
// therefore free.
func (p ProviderConfig) Local() bool { return p.Type == TypeOllama }

// AllowsPassthrough reports whether a caller-supplied credential may be
// forwarded to this provider.
func (p ProviderConfig) AllowsPassthrough() bool {
	if p.Passthrough != nil {
		return *p.Passthrough
	}
	return p.Type == TypeAnthropic || p.Type == TypeOpenAI
}

// Streams reports whether the provider supports streaming responses.
func (p ProviderConfig) Streams() bool {
	if p.Stream != nil {
		return *p.Stream
	}
	return true
}

// CredentialConfig is a stored credential: either a literal value or a
// command whose trimmed stdout is the secret.
type CredentialConfig struct {
	Value   string   `yaml:"value"`
	Command []string `yaml:"command"`
}

// AuthConfig controls credential resolution.
type AuthConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RoutingConfig defines how requests are mapped to providers.
type RoutingConfig struct {
	DefaultProvider string            `yaml:"default_provider"`
	AgentRules      map[string]string `yaml:"agent_rules"`
	TierRules       map[string]string `yaml:"tier_rules"`
	RoleKeywords    []RoleKeywords    `yaml:"role_keywords"`
	FallbackChain   []string          `yaml:"fallback_chain"`
	WouldHaveUsed   Counterfactual    `yaml:"would_have_used"`
}

// RoleKeywords lists phrases that identify an agent role in prompt text.
type RoleKeywords struct {
	Role     string   `yaml:"role"`
	Patterns []string `yaml:"patterns"`
}

// Counterfactual names the paid provider and model a local request is
// priced against for savings.
type Counterfactual struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// PricingConfig holds per-model price overrides in USD per million tokens.
type PricingConfig struct {
	Overrides []PriceOverride `yaml:"overrides"`
}

// PriceOverride replaces or adds a pricing table entry.
type PriceOverride struct {
	Model      string  `yaml:"model"`
	Provider   string  `yaml:"provider"`
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	CacheWrite float64 `yaml:"cache_write"`
	CacheRead  float64 `yaml:"cache_read"`
}

// Second-tier cache backends.
const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes"`
	Tier       TierConfig    `yaml:"tier"`
}

// TierConfig selects an optional persistent or shared second cache tier.
type TierConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig addresses the shared cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AnalyticsConfig controls the in-memory analytics engine.
type AnalyticsConfig struct {
	RecentCapacity int `yaml:"recent_capacity"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	// PruneSchedule is a standard five-field cron expression.
	PruneSchedule string   `yaml:"prune_schedule"`
	Include       []string `yaml:"include"` // "prompts", "responses", "metadata"
	ExcludeModels []string `yaml:"exclude_models"`
	MaxBodySize   int      `yaml:"max_body_size"` // bytes
}

// BudgetConfig controls spend enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// LogConfig controls process logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "gatecache.db",
		Server: ServerConfig{
			MaxBodyBytes: 32 << 20,
			DrainLimit:   4 << 20,
		},
		Auth: AuthConfig{
			CacheTTL: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        time.Hour,
			MaxEntries: 1000,
			MaxBytes:   256 << 20,
			Tier:       TierConfig{Backend: BackendNone},
		},
		Analytics: AnalyticsConfig{
			RecentCapacity: 100,
		},
		Audit: AuditConfig{
			RetentionDays: 30,
			PruneSchedule: "0 * * * *",
			Include:       []string{"metadata"},
			MaxBodySize:   64 << 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyProviderDefaults() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Timeout == 0 {
			p.Timeout = 300 * time.Second
		}
		switch p.Type {
		case TypeAnthropic:
			if p.URL == "" {
				p.URL = "https://api.anthropic.com"
			}
			if p.SessionTokenEnv == "" {
				p.SessionTokenEnv = "CLAUDE_CODE_OAUTH_TOKEN"
			}
			if p.APIKeyEnv == "" {
				p.APIKeyEnv = "ANTHROPIC_API_KEY"
			}
		case TypeOpenAI:
			if p.URL == "" {
				p.URL = "https://api.openai.com"
			}
			if p.APIKeyEnv == "" {
				p.APIKeyEnv = "OPENAI_API_KEY"
			}
		case TypeDeepSeek:
			if p.URL == "" {
				p.URL = "https://api.deepseek.com"
			}
			if p.APIKeyEnv == "" {
				p.APIKeyEnv = "DEEPSEEK_API_KEY"
			}
		case TypeAzure:
			if p.APIKeyEnv == "" {
				p.APIKeyEnv = "AZURE_OPENAI_API_KEY"
			}
			if p.APIVersion == "" {
				p.APIVersion = "2024-02-15-preview"
			}
		case TypeOllama:
			if p.URL == "" {
				p.URL = "http://localhost:11434"
			}
		}
	}
}

// Provider returns the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider with empty name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate provider %q", p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeAnthropic, TypeOpenAI, TypeDeepSeek, TypeOllama:
		case TypeAzure:
			if p.Deployment == "" {
				errs = append(errs, fmt.Errorf("provider %q: azure requires deployment", p.Name))
			}
			if p.URL == "" {
				errs = append(errs, fmt.Errorf("provider %q: azure requires url", p.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type))
		}
		if p.RateLimit < 0 || p.Burst < 0 {
			errs = append(errs, fmt.Errorf("provider %q: negative rate limit", p.Name))
		}
	}

	known := func(where, name string) {
		if name != "" && !seen[name] {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", where, name))
		}
	}
	known("routing.default_provider", c.Routing.DefaultProvider)
	for role, name := range c.Routing.AgentRules {
		known("routing.agent_rules."+role, name)
	}
	for tier, name := range c.Routing.TierRules {
		known("routing.tier_rules."+tier, name)
	}
	for _, name := range c.Routing.FallbackChain {
		known("routing.fallback_chain", name)
	}
	for _, rk := range c.Routing.RoleKeywords {
		if strings.TrimSpace(rk.Role) == "" {
			errs = append(errs, errors.New("routing.role_keywords: empty role"))
		}
	}

	if c.Cache.MaxEntries < 0 || c.Cache.MaxBytes < 0 || c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache: bounds must be non-negative"))
	}
	switch c.Cache.Tier.Backend {
	case "", BackendNone, BackendSQLite:
	case BackendRedis:
		if c.Cache.Tier.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.tier.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.tier: unknown backend %q", c.Cache.Tier.Backend))
	}
	if c.Analytics.RecentCapacity < 0 {
		errs = append(errs, errors.New("analytics.recent_capacity must be non-negative"))
	}
	for _, p := range c.Budget.Policies {
		if p.Period != models.BudgetDaily && p.Period != models.BudgetMonthly {
			errs = append(errs, fmt.Errorf("budget: unknown period %q", p.Period))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
