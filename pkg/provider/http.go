package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"
)

const (
	healthTimeout   = 5 * time.Second
	maxUpstreamBody = 64 << 20
)

// gatewayFields are request fields meaningful only to the gateway.
var gatewayFields = []string{"agent_type", "project_id"}

// base carries what every HTTP client variant shares.
type base struct {
	cfg     config.ProviderConfig
	http    *http.Client
	limiter *rate.Limiter
}

func newBase(cfg config.ProviderConfig) base {
	b := base{
		cfg:  cfg,
		http: &http.Client{},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return b
}

func (b *base) Name() string  { return b.cfg.Name }
func (b *base) Type() string  { return b.cfg.Type }
func (b *base) Local() bool   { return b.cfg.Local() }
func (b *base) Streams() bool { return b.cfg.Streams() }

func joinURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// prepareBody sets the upstream model and removes gateway-only fields.
func prepareBody(body []byte, model string) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, err
	}
	for _, f := range gatewayFields {
		if out, err = sjson.DeleteBytes(out, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// withTimeout bounds ctx by the provider timeout.
func (b *base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, b.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// post sends body and returns the raw response. Transport failures are
// mapped to ErrUpstreamTimeout or *UpstreamError. The caller closes the
// body.
func (b *base) post(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, b.transportError(ctx, fmt.Errorf("rate limit: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Provider: b.cfg.Name, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header = header
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, b.transportError(ctx, err)
	}
	return resp, nil
}

func (b *base) transportError(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%s: %w", b.cfg.Name, ErrUpstreamTimeout)
	}
	return &UpstreamError{Provider: b.cfg.Name, Err: err}
}

// readAll reads a unary response, mapping non-2xx statuses to
// *UpstreamError.
func (b *base) readAll(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, b.transportError(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Provider: b.cfg.Name, Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

// openStream checks the status of a streaming response and ties the
// timeout to the body's lifetime.
func (b *base) openStream(resp *http.Response, cancel context.CancelFunc, format Format) (*Stream, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &UpstreamError{Provider: b.cfg.Name, Status: resp.StatusCode, Body: body}
	}
	return &Stream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Format:     format,
	}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// probe issues a GET and treats any response as healthy unless strict
// requires a 2xx status.
func (b *base) probe(ctx context.Context, url string, strict bool) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return b.transportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if strict && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return &UpstreamError{Provider: b.cfg.Name, Status: resp.StatusCode}
	}
	return nil
}

func malformed(provider string, err error) error {
	return &UpstreamError{Provider: provider, Status: http.StatusBadGateway, Err: fmt.Errorf("malformed response: %w", err)}
}
