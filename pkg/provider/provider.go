// Package provider implements the upstream LLM clients. The set of
// variants is closed: anthropic, openai, deepseek, azure and ollama.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/models"
)

// Format is a wire format for inference requests and responses.
type Format string

const (
	FormatAnthropic Format = "anthropic"
	FormatOpenAI    Format = "openai"
)

var (
	// ErrUpstreamTimeout is returned when the provider does not answer
	// within its timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamError matches every *UpstreamError.
	ErrUpstreamError = errors.New("upstream error")
)

// UpstreamError is a failed upstream exchange: a transport failure
// (Status 0), a non-2xx status or a malformed body.
type UpstreamError struct {
	Provider string
	Status   int
	Body     []byte
	Err      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("upstream %s returned %d", e.Provider, e.Status)
	default:
		return fmt.Sprintf("upstream %s failed", e.Provider)
	}
}

// Is lets errors.Is match ErrUpstreamError.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamError }

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClientError reports whether the upstream rejected the request itself
// (a 4xx status), in which case its body is worth passing through.
func (e *UpstreamError) ClientError() bool { return e.Status >= 400 && e.Status < 500 }

// Request is one upstream call.
type Request struct {
	// Body is the inbound JSON body. Clients rewrite the model and strip
	// gateway-only fields before sending.
	Body []byte
	// Format is the inbound wire format. Responses are returned in it.
	Format     Format
	Model      string
	Credential auth.Credential
	// Header carries selected inbound headers to forward.
	Header http.Header
}

// Response is a completed unary upstream call, in the inbound format.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Usage      models.Usage
	Model      string
}

// Stream is an open upstream event stream in the provider's native
// format. The caller must close Body.
type Stream struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Format     Format
}

// Client is an upstream provider.
type Client interface {
	Name() string
	Type() string
	Format() Format
	Local() bool
	Streams() bool
	Complete(ctx context.Context, req *Request) (*Response, error)
	CompleteStream(ctx context.Context, req *Request) (*Stream, error)
	Health(ctx context.Context) error
}

// New creates the client for a provider config.
func New(cfg config.ProviderConfig) (Client, error) {
	base := newBase(cfg)
	switch cfg.Type {
	case config.TypeAnthropic:
		return &anthropicClient{base: base}, nil
	case config.TypeOpenAI, config.TypeDeepSeek:
		return &openAIClient{base: base, endpoint: joinURL(cfg.URL, "/v1/chat/completions")}, nil
	case config.TypeAzure:
		return newAzure(base), nil
	case config.TypeOllama:
		return &openAIClient{
			base:       base,
			endpoint:   joinURL(cfg.URL, "/v1/chat/completions"),
			healthPath: "/api/version",
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Registry holds the configured clients by name.
type Registry struct {
	order   []string
	clients map[string]Client
}

// NewRegistry creates clients for every provider in cfgs.
func NewRegistry(cfgs []config.ProviderConfig) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client, len(cfgs))}
	for _, c := range cfgs {
		client, err := New(c)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", c.Name, err)
		}
		r.Register(client)
	}
	return r, nil
}

// Register adds or replaces a client.
func (r *Registry) Register(c Client) {
	if r.clients == nil {
		r.clients = make(map[string]Client)
	}
	if _, ok := r.clients[c.Name()]; !ok {
		r.order = append(r.order, c.Name())
	}
	r.clients[c.Name()] = c
}

// Get returns the named client.
func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// All returns the clients in registration order.
func (r *Registry) All() []Client {
	out := make([]Client, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.clients[n])
	}
	return out
}

// Health checks every provider concurrently and reports which are up.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	var mu sync.Mutex
	var wg sync.WaitGroup
	out := make(map[string]bool, len(r.clients))
	for _, c := range r.All() {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			err := c.Health(ctx)
			mu.Lock()
			out[c.Name()] = err == nil
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out
}

// Names returns the sorted provider names.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}
