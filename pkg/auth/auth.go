// Package auth resolves the credential used for each upstream call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pario-ai/gatecache/pkg/config"
)

// ErrNoCredential is returned when no credential source yields a value for
// a provider that needs one.
var ErrNoCredential = errors.New("no credential available")

// Kind says how a credential is presented upstream.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindBearer Kind = "bearer"
)

// Origin records where a credential came from. It is safe to log.
type Origin string

const (
	OriginPassthrough Origin = "passthrough"
	OriginSessionEnv  Origin = "session_env"
	OriginAPIKeyEnv   Origin = "api_key_env"
	OriginStore       Origin = "store"
	OriginNone        Origin = "none"
)

// oauthPrefix marks Anthropic subscription tokens, which are sent as
// bearer tokens rather than API keys.
const oauthPrefix = "sk-ant-oat"

// Credential is a resolved secret. Value must never be logged.
type Credential struct {
	Value  string
	Kind   Kind
	Origin Origin
}

// Masked returns a short prefix suitable for logs.
func (c Credential) Masked() string {
	if c.Value == "" {
		return ""
	}
	if len(c.Value) <= 12 {
		return "****"
	}
	return c.Value[:8] + "****"
}

func classify(value string, origin Origin) Credential {
	kind := KindAPIKey
	if strings.HasPrefix(value, oauthPrefix) || origin == OriginSessionEnv {
		kind = KindBearer
	}
	return Credential{Value: value, Kind: kind, Origin: origin}
}

// FromRequest extracts a caller-supplied credential from inbound headers,
// or nil when there is none.
func FromRequest(h http.Header) *Credential {
	if v := strings.TrimSpace(h.Get("x-api-key")); v != "" {
		c := classify(v, OriginPassthrough)
		return &c
	}
	if v := h.Get("Authorization"); v != "" {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok && strings.TrimSpace(token) != "" {
			return &Credential{Value: strings.TrimSpace(token), Kind: KindBearer, Origin: OriginPassthrough}
		}
	}
	return nil
}

// Resolver walks the credential sources in priority order.
type Resolver struct {
	env   Source
	store Source
}

// NewResolver returns a Resolver reading environment-style variables from
// env and provider credential references from store. Either may be nil.
func NewResolver(env, store Source) *Resolver {
	return &Resolver{env: env, store: store}
}

// Resolve returns the credential for p. The first available of these
// wins: the supplied passthrough credential (when p accepts it), the
// session token variable, the API key variable, the stored credential.
// Callers pass supplied only when the inbound wire format matches the
// provider's.
func (r *Resolver) Resolve(ctx context.Context, p config.ProviderConfig, supplied *Credential) (Credential, error) {
	if supplied != nil && supplied.Value != "" && p.AllowsPassthrough() {
		return *supplied, nil
	}
	if v, ok := lookup(ctx, r.env, p.SessionTokenEnv); ok {
		return classify(v, OriginSessionEnv), nil
	}
	if v, ok := lookup(ctx, r.env, p.APIKeyEnv); ok {
		return classify(v, OriginAPIKeyEnv), nil
	}
	if v, ok := lookup(ctx, r.store, p.CredentialRef); ok {
		return classify(v, OriginStore), nil
	}
	if p.Local() {
		return Credential{Origin: OriginNone}, nil
	}
	return Credential{}, fmt.Errorf("%w for provider %s", ErrNoCredential, p.Name)
}

func lookup(ctx context.Context, s Source, name string) (string, bool) {
	if s == nil || name == "" {
		return "", false
	}
	v, ok := s.Lookup(ctx, name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
