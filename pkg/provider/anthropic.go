package provider

import (
	"context"
	"net/http"

	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/tidwall/gjson"
)

const defaultAnthropicVersion = "2023-06-01"

type anthropicClient struct {
	base
}

func (c *anthropicClient) Format() Format { return FormatAnthropic }

func (c *anthropicClient) headers(req *Request) http.Header {
	h := http.Header{}
	version := defaultAnthropicVersion
	if req.Header != nil {
		if v := req.Header.Get("anthropic-version"); v != "" {
			version = v
		}
		if v := req.Header.Get("anthropic-beta"); v != "" {
			h.Set("anthropic-beta", v)
		}
	}
	h.Set("anthropic-version", version)

	switch {
	case req.Credential.Value == "":
	case req.Credential.Kind == auth.KindBearer:
		h.Set("Authorization", "Bearer "+req.Credential.Value)
	default:
		h.Set("x-api-key", req.Credential.Value)
	}
	return h
}

func (c *anthropicClient) body(req *Request) ([]byte, error) {
	if req.Format == FormatOpenAI {
		return OpenAIToAnthropicRequest(req.Body, req.Model)
	}
	return prepareBody(req.Body, req.Model)
}

func (c *anthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := c.body(req)
	if err != nil {
		return nil, &UpstreamError{Provider: c.Name(), Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.post(ctx, joinURL(c.cfg.URL, "/v1/messages"), c.headers(req), body)
	if err != nil {
		return nil, err
	}
	raw, err := c.readAll(ctx, resp)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, malformed(c.Name(), errInvalidJSON)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
		Usage:      AnthropicUsage(gjson.GetBytes(raw, "usage")),
		Model:      gjson.GetBytes(raw, "model").String(),
	}
	if req.Format == FormatOpenAI {
		if out.Body, err = AnthropicToOpenAIResponse(raw); err != nil {
			return nil, malformed(c.Name(), err)
		}
	}
	return out, nil
}

func (c *anthropicClient) CompleteStream(ctx context.Context, req *Request) (*Stream, error) {
	if req.Format != FormatAnthropic {
		return nil, &UpstreamError{Provider: c.Name(), Err: errStreamFormat}
	}
	body, err := prepareBody(req.Body, req.Model)
	if err != nil {
		return nil, &UpstreamError{Provider: c.Name(), Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	resp, err := c.post(ctx, joinURL(c.cfg.URL, "/v1/messages"), c.headers(req), body)
	if err != nil {
		cancel()
		return nil, err
	}
	return c.openStream(resp, cancel, FormatAnthropic)
}

// Health treats any HTTP answer from the base URL as healthy.
func (c *anthropicClient) Health(ctx context.Context) error {
	return c.probe(ctx, c.cfg.URL, false)
}
