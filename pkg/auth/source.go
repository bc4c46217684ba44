package auth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// Source looks up a named secret.
type Source interface {
	Lookup(ctx context.Context, name string) (string, bool)
}

// EnvSource reads process environment variables.
type EnvSource struct{}

// Lookup implements Source.
func (EnvSource) Lookup(_ context.Context, name string) (string, bool) {
	return os.LookupEnv(name)
}

// MapSource serves secrets from a fixed map. It is mostly useful in tests
// and for injecting an external store's snapshot.
type MapSource map[string]string

// Lookup implements Source.
func (m MapSource) Lookup(_ context.Context, name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// ConfigSource resolves credential references from the credentials section
// of the config. A reference is either a literal value or a command whose
// trimmed stdout is the secret.
type ConfigSource struct {
	creds   map[string]config.CredentialConfig
	timeout time.Duration
}

// NewConfigSource creates a ConfigSource.
func NewConfigSource(creds map[string]config.CredentialConfig) *ConfigSource {
	return &ConfigSource{creds: creds, timeout: 10 * time.Second}
}

// Lookup implements Source.
func (s *ConfigSource) Lookup(ctx context.Context, name string) (string, bool) {
	c, ok := s.creds[name]
	if !ok {
		return "", false
	}
	if c.Value != "" {
		return c.Value, true
	}
	if len(c.Command) == 0 {
		return "", false
	}
	v, err := s.run(ctx, c.Command)
	if err != nil {
		log.Warn().Err(err).Str("credential_ref", name).Msg("credential command failed")
		return "", false
	}
	return v, v != ""
}

func (s *ConfigSource) run(ctx context.Context, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w", argv[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CachedSource decorates a Source with an in-memory TTL cache. Only found
// values are cached.
type CachedSource struct {
	inner Source
	cache *cache.Cache
}

// NewCachedSource wraps inner, caching values for ttl.
func NewCachedSource(inner Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

// Lookup implements Source.
func (s *CachedSource) Lookup(ctx context.Context, name string) (string, bool) {
	if val, found := s.cache.Get(name); found {
		if str, ok := val.(string); ok {
			return str, true
		}
	}
	v, ok := s.inner.Lookup(ctx, name)
	if ok {
		s.cache.Set(name, v, cache.DefaultExpiration)
	}
	return v, ok
}
