// Package openai provides a vision analyzer backed by the OpenAI chat
// completions API, or any OpenAI-compatible endpoint (including the adroast
// rate-limiting proxy) selected with [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// defaultMaxTokens caps the reply length; commentary is meant to be short.
const defaultMaxTokens = 400

// Provider implements vision.Analyzer using the OpenAI API.
type Provider struct {
	client    oai.Client
	model     string
	detail    string
	maxTokens int
	jsonMode  bool
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	detail       string
	maxTokens    int
	jsonMode     bool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithImageDetail selects the image detail level ("low", "high" or "auto").
// Default: "low", which is plenty for recognising an ad.
func WithImageDetail(detail string) Option {
	return func(c *config) {
		c.detail = detail
	}
}

// WithMaxTokens caps the completion length. Default: 400.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// WithJSONMode toggles the json_object response format. Some
// OpenAI-compatible servers reject it. Default: on.
func WithJSONMode(on bool) Option {
	return func(c *config) {
		c.jsonMode = on
	}
}

// New constructs a new OpenAI vision Provider.
//
// The SDK's own retry loop is disabled: a throttled call must surface to the
// analysis loop immediately so it can honour the backend's reset hint.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{
		detail:    "low",
		maxTokens: defaultMaxTokens,
		jsonMode:  true,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:    oai.NewClient(reqOpts...),
		model:     model,
		detail:    cfg.detail,
		maxTokens: cfg.maxTokens,
		jsonMode:  cfg.jsonMode,
	}, nil
}

// Analyze implements vision.Analyzer.
func (p *Provider) Analyze(ctx context.Context, req vision.Request) (vision.Result, error) {
	if req.Frame == nil || len(req.Frame.Data) == 0 {
		return vision.Result{}, fmt.Errorf("openai: request has no frame")
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return vision.Result{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return vision.Result{}, fmt.Errorf("openai: empty choices in response")
	}

	return vision.ParseReply(resp.Choices[0].Message.Content), nil
}

// buildParams converts a vision.Request into OpenAI SDK params.
func (p *Provider) buildParams(req vision.Request) oai.ChatCompletionNewParams {
	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(vision.UserPrompt(req.Context)),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL:    req.DataURL(),
			Detail: p.detail,
		}),
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(req.InstructionOrDefault()),
			oai.UserMessage(parts),
		},
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.maxTokens))
	}
	if p.jsonMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// classifyError maps SDK errors onto the vision error contract.
func classifyError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		var h http.Header
		if apiErr.Response != nil {
			h = apiErr.Response.Header
		}
		return &vision.RateLimitError{
			RetryAfter: vision.RetryAfterFromHeader(h, time.Now()),
			Err:        fmt.Errorf("openai: chat completion: %w", err),
		}
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}

// SupportsVision reports whether model is a known image-capable model.
// Unknown models are assumed capable; the backend rejects them otherwise.
func SupportsVision(model string) bool {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-3.5"),
		strings.HasPrefix(lower, "o1-mini"),
		strings.HasPrefix(lower, "o3-mini"):
		return false
	case lower == "gpt-4" || strings.HasPrefix(lower, "gpt-4-0"):
		return false
	}
	return true
}

var _ vision.Analyzer = (*Provider)(nil)
