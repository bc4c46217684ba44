package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	errStreamFormat = errors.New("streaming across wire formats is not supported")
	errInvalidJSON  = errors.New("invalid JSON")
)

// openAIClient serves every OpenAI-compatible variant: OpenAI, DeepSeek,
// Azure OpenAI and Ollama.
type openAIClient struct {
	base
	endpoint string
	// healthPath, when set, is probed and must answer 2xx. Otherwise any
	// answer from the base URL counts.
	healthPath string
	// azureAuth sends api keys in the api-key header.
	azureAuth bool
}

func newAzure(b base) *openAIClient {
	u := joinURL(b.cfg.URL, "/openai/deployments/"+url.PathEscape(b.cfg.Deployment)+"/chat/completions")
	u += "?api-version=" + url.QueryEscape(b.cfg.APIVersion)
	return &openAIClient{base: b, endpoint: u, azureAuth: true}
}

func (c *openAIClient) Format() Format { return FormatOpenAI }

func (c *openAIClient) headers(req *Request) http.Header {
	h := http.Header{}
	switch {
	case req.Credential.Value == "":
	case c.azureAuth && req.Credential.Kind != auth.KindBearer:
		h.Set("api-key", req.Credential.Value)
	default:
		h.Set("Authorization", "Bearer "+req.Credential.Value)
	}
	return h
}

func (c *openAIClient) body(req *Request) ([]byte, error) {
	if req.Format == FormatAnthropic {
		return AnthropicToOpenAIRequest(req.Body, req.Model)
	}
	return prepareBody(req.Body, req.Model)
}

func (c *openAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := c.body(req)
	if err != nil {
		return nil, &UpstreamError{Provider: c.Name(), Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.post(ctx, c.endpoint, c.headers(req), body)
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
	if e := gjson.GetBytes(raw, "error"); e.Exists() && e.Type != gjson.Null {
		return nil, &UpstreamError{Provider: c.Name(), Status: http.StatusBadGateway, Body: raw}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
		Usage:      OpenAIUsage(gjson.GetBytes(raw, "usage")),
		Model:      gjson.GetBytes(raw, "model").String(),
	}
	if req.Format == FormatAnthropic {
		if out.Body, err = OpenAIToAnthropicResponse(raw); err != nil {
			return nil, malformed(c.Name(), err)
		}
	}
	return out, nil
}

func (c *openAIClient) CompleteStream(ctx context.Context, req *Request) (*Stream, error) {
	if req.Format != FormatOpenAI {
		return nil, &UpstreamError{Provider: c.Name(), Err: errStreamFormat}
	}
	body, err := prepareBody(req.Body, req.Model)
	if err == nil {
		body, err = sjson.SetBytes(body, "stream_options.include_usage", true)
	}
	if err != nil {
		return nil, &UpstreamError{Provider: c.Name(), Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	resp, err := c.post(ctx, c.endpoint, c.headers(req), body)
	if err != nil {
		cancel()
		return nil, err
	}
	return c.openStream(resp, cancel, FormatOpenAI)
}

func (c *openAIClient) Health(ctx context.Context) error {
	if c.healthPath != "" {
		return c.probe(ctx, joinURL(c.cfg.URL, c.healthPath), true)
	}
	return c.probe(ctx, c.cfg.URL, false)
}
