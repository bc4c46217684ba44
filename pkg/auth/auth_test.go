package auth

import (
	"context"
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicProvider() config.ProviderConfig {
	return config.ProviderConfig{
		Name:            "claude",
		Type:            config.TypeAnthropic,
		SessionTokenEnv: "CLAUDE_CODE_OAUTH_TOKEN",
		APIKeyEnv:       "ANTHROPIC_API_KEY",
		CredentialRef:   "claude-key",
	}
}

func TestResolveOrder(t *testing.T) {
	ctx := context.Background()
	p := anthropicProvider()
	supplied := &Credential{Value: "sk-ant-api-caller", Kind: KindAPIKey, Origin: OriginPassthrough}

	full := MapSource{
		"CLAUDE_CODE_OAUTH_TOKEN": "sk-ant-oat-session",
		"ANTHROPIC_API_KEY":       "sk-ant-api-env",
	}
	store := MapSource{"claude-key": "sk-ant-api-store"}

	tests := []struct {
		name     string
		env      Source
		store    Source
		supplied *Credential
		want     string
		origin   Origin
		kind     Kind
	}{
		{"passthrough first", full, store, supplied, "sk-ant-api-caller", OriginPassthrough, KindAPIKey},
		{"session env", full, store, nil, "sk-ant-oat-session", OriginSessionEnv, KindBearer},
		{"api key env", MapSource{"ANTHROPIC_API_KEY": "sk-ant-api-env"}, store, nil, "sk-ant-api-env", OriginAPIKeyEnv, KindAPIKey},
		{"store", MapSource{}, store, nil, "sk-ant-api-store", OriginStore, KindAPIKey},
		{"blank env ignored", MapSource{"ANTHROPIC_API_KEY": "  "}, store, nil, "sk-ant-api-store", OriginStore, KindAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewResolver(tt.env, tt.store).Resolve(ctx, p, tt.supplied)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Value)
			assert.Equal(t, tt.origin, c.Origin)
			assert.Equal(t, tt.kind, c.Kind)
		})
	}
}

func TestResolvePassthroughDisabled(t *testing.T) {
	p := anthropicProvider()
	off := false
	p.Passthrough = &off

	c, err := NewResolver(MapSource{"ANTHROPIC_API_KEY": "env"}, nil).
		Resolve(context.Background(), p, &Credential{Value: "caller", Origin: OriginPassthrough})
	require.NoError(t, err)
	assert.Equal(t, "env", c.Value)
}

func TestResolveOAuthKeyIsBearer(t *testing.T) {
	c, err := NewResolver(MapSource{"ANTHROPIC_API_KEY": "sk-ant-oat01-abc"}, nil).
		Resolve(context.Background(), anthropicProvider(), nil)
	require.NoError(t, err)
	assert.Equal(t, KindBearer, c.Kind)
}

func TestResolveNoCredential(t *testing.T) {
	_, err := NewResolver(MapSource{}, MapSource{}).Resolve(context.Background(), anthropicProvider(), nil)
	assert.ErrorIs(t, err, ErrNoCredential)

	local := config.ProviderConfig{Name: "ollama", Type: config.TypeOllama}
	c, err := NewResolver(nil, nil).Resolve(context.Background(), local, nil)
	require.NoError(t, err)
	assert.Empty(t, c.Value)
	assert.Equal(t, OriginNone, c.Origin)
}

func TestFromRequest(t *testing.T) {
	h := http.Header{}
	assert.Nil(t, FromRequest(h))

	h.Set("Authorization", "Bearer tok-123")
	c := FromRequest(h)
	require.NotNil(t, c)
	assert.Equal(t, "tok-123", c.Value)
	assert.Equal(t, KindBearer, c.Kind)

	h.Set("x-api-key", "sk-ant-api03-xyz")
	c = FromRequest(h)
	require.NotNil(t, c)
	assert.Equal(t, "sk-ant-api03-xyz", c.Value)
	assert.Equal(t, KindAPIKey, c.Kind)
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "", Credential{}.Masked())
	assert.Equal(t, "****", Credential{Value: "short"}.Masked())
	assert.Equal(t, "sk-ant-a****", Credential{Value: "sk-ant-api03-secret"}.Masked())
}

type countingSource struct {
	MapSource
	calls int
}

func (c *countingSource) Lookup(ctx context.Context, name string) (string, bool) {
	c.calls++
	return c.MapSource.Lookup(ctx, name)
}

func TestCachedSource(t *testing.T) {
	inner := &countingSource{MapSource: MapSource{"k": "v"}}
	s := NewCachedSource(inner, time.Minute)

	for i := 0; i < 3; i++ {
		v, ok := s.Lookup(context.Background(), "k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	}
	assert.Equal(t, 1, inner.calls)

	_, ok := s.Lookup(context.Background(), "missing")
	assert.False(t, ok)
	_, _ = s.Lookup(context.Background(), "missing")
	assert.Equal(t, 3, inner.calls, "misses are not cached")
}

func TestConfigSource(t *testing.T) {
	creds := map[string]config.CredentialConfig{
		"literal": {Value: "abc"},
		"empty":   {},
	}
	if runtime.GOOS != "windows" {
		creds["cmd"] = config.CredentialConfig{Command: []string{"echo", "  from-cmd  "}}
		creds["failing"] = config.CredentialConfig{Command: []string{"false"}}
	}
	s := NewConfigSource(creds)
	ctx := context.Background()

	v, ok := s.Lookup(ctx, "literal")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = s.Lookup(ctx, "empty")
	assert.False(t, ok)
	_, ok = s.Lookup(ctx, "unknown")
	assert.False(t, ok)

	if runtime.GOOS != "windows" {
		v, ok = s.Lookup(ctx, "cmd")
		assert.True(t, ok)
		assert.Equal(t, "from-cmd", v)

		_, ok = s.Lookup(ctx, "failing")
		assert.False(t, ok)
	}
}
