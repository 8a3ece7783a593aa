// Package anyllm provides a vision analyzer backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "llava", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	oai "github.com/openai/openai-go"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// defaultMaxTokens caps the reply length.
const defaultMaxTokens = 400

// SupportedProviders lists the backend names accepted by [New].
var SupportedProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Provider implements vision.Analyzer by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of [SupportedProviders]. model must be an image-capable
// model of that provider.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the backend falls back to
// its usual environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
//
// The backend gets an HTTP client whose transport disables the SDK's own
// retries and records rate-limit hints. A caller that passes
// anyllmlib.WithHTTPClient replaces it and loses both.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	opts = append([]anyllmlib.Option{
		anyllmlib.WithHTTPClient(&http.Client{Transport: noRetryTransport{base: http.DefaultTransport}}),
	}, opts...)
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, name: strings.ToLower(providerName), model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(SupportedProviders, ", "))
	}
}

// Name returns the backend name, e.g. "anthropic".
func (p *Provider) Name() string { return p.name }

// Analyze implements vision.Analyzer. It returns as soon as ctx is done,
// even if the backend is still waiting out a retry.
func (p *Provider) Analyze(ctx context.Context, req vision.Request) (vision.Result, error) {
	if req.Frame == nil || len(req.Frame.Data) == 0 {
		return vision.Result{}, fmt.Errorf("anyllm: request has no frame")
	}

	th := &throttle{}
	params := p.buildParams(req)
	done := make(chan completion, 1)
	go func() {
		resp, err := p.backend.Completion(context.WithValue(ctx, throttleKey{}, th), params)
		done <- completion{resp: resp, err: err}
	}()

	var c completion
	select {
	case c = <-done:
		if c.err != nil && ctx.Err() != nil && !errors.Is(c.err, ctx.Err()) {
			c.err = fmt.Errorf("%w: %w", ctx.Err(), c.err)
		}
	case <-ctx.Done():
		c.err = ctx.Err()
	}
	if c.err != nil {
		return vision.Result{}, classifyError(c.err, th)
	}
	if c.resp == nil || len(c.resp.Choices) == 0 {
		return vision.Result{}, fmt.Errorf("anyllm: empty choices in response")
	}

	return vision.ParseReply(c.resp.Choices[0].Message.ContentString()), nil
}

type completion struct {
	resp *anyllmlib.ChatCompletion
	err  error
}

// buildParams converts a vision.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req vision.Request) anyllmlib.CompletionParams {
	maxTokens := defaultMaxTokens
	return anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{
				Role:    anyllmlib.RoleSystem,
				Content: req.InstructionOrDefault(),
			},
			{
				Role: anyllmlib.RoleUser,
				Content: []anyllmlib.ContentPart{
					{Type: "text", Text: vision.UserPrompt(req.Context)},
					{Type: "image_url", ImageURL: &anyllmlib.ImageURL{URL: req.DataURL()}},
				},
			},
		},
		MaxTokens: &maxTokens,
	}
}

// classifyError maps backend errors onto the vision error contract. A call is
// rate limited when the backend says so or when the transport saw a 429 before
// the caller gave up.
func classifyError(err error, th *throttle) error {
	wrapped := fmt.Errorf("anyllm: completion: %w", err)
	seen, hint := th.snapshot()
	if !seen && !errors.Is(err, anyllmlib.ErrRateLimit) {
		return wrapped
	}
	if hint <= 0 {
		hint = headerHint(err)
	}
	return &vision.RateLimitError{RetryAfter: hint, Err: wrapped}
}

// headerHint reads the reset hint from SDK errors that keep the response.
func headerHint(err error) time.Duration {
	var oaiErr *oai.Error
	if errors.As(err, &oaiErr) && oaiErr.Response != nil {
		return vision.RetryAfterFromHeader(oaiErr.Response.Header, time.Now())
	}
	var antErr *anthropicsdk.Error
	if errors.As(err, &antErr) && antErr.Response != nil {
		return vision.RetryAfterFromHeader(antErr.Response.Header, time.Now())
	}
	return 0
}

type throttleKey struct{}

// throttle holds what the transport learned from a 429 during one call.
type throttle struct {
	mu         sync.Mutex
	seen       bool
	retryAfter time.Duration
}

func (t *throttle) record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = true
	t.retryAfter = max(t.retryAfter, d)
}

func (t *throttle) snapshot() (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen, t.retryAfter
}

// noRetryTransport marks every response as not retryable so the SDKs never
// sleep through a tick, and reports 429s to the call's throttle.
type noRetryTransport struct {
	base http.RoundTripper
}

func (t noRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	res.Header.Set("x-should-retry", "false")
	if res.StatusCode == http.StatusTooManyRequests {
		if th, ok := req.Context().Value(throttleKey{}).(*throttle); ok {
			th.record(vision.RetryAfterFromHeader(res.Header, time.Now()))
		}
	}
	return res, nil
}

var _ vision.Analyzer = (*Provider)(nil)
