// Package proxy implements the rate-limiting gateway that sits between
// adroast and the model API. Every client gets a fixed call budget per fixed
// window; calls within budget are forwarded upstream with the server-side API
// key, calls over budget are answered with 429 and never reach the model.
package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/adroast/internal/observe"
)

// Proxy statuses recorded on [observe.Metrics.ProxyRequests].
const (
	StatusForwarded     = "forwarded"
	StatusLimited       = "limited"
	StatusUpstreamError = "upstream_error"
)

// Config configures a [Handler].
type Config struct {
	// Upstream is the model API base URL. Required.
	Upstream string

	// APIKey replaces whatever Authorization the client sent.
	APIKey string

	// Window and MaxCalls define the per-client budget.
	Window   time.Duration
	MaxCalls int

	// Transport overrides the upstream round tripper. Default:
	// http.DefaultTransport.
	Transport http.RoundTripper

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Metrics receives proxy counters. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Handler enforces the call budget and forwards allowed requests.
type Handler struct {
	limiter *Limiter
	rp      *httputil.ReverseProxy
	now     func() time.Time
	metrics *observe.Metrics
}

// New validates cfg and returns a ready [Handler].
func New(cfg Config) (*Handler, error) {
	if cfg.Upstream == "" {
		return nil, errors.New("proxy: upstream must not be empty")
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, errors.Join(errors.New("proxy: invalid upstream"), err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("proxy: upstream must be an absolute URL")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("proxy: window must be positive")
	}
	if cfg.MaxCalls <= 0 {
		return nil, errors.New("proxy: max calls must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	h := &Handler{
		limiter: NewLimiter(cfg.Window, cfg.MaxCalls),
		now:     cfg.Now,
		metrics: cfg.Metrics,
	}
	h.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			if cfg.APIKey != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			}
		},
		Transport: cfg.Transport,
		ModifyResponse: func(resp *http.Response) error {
			h.metrics.RecordProxyRequest(resp.Request.Context(), StatusForwarded)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.metrics.RecordProxyRequest(r.Context(), StatusUpstreamError)
			observe.Logger(r.Context()).Warn("proxy: upstream call failed", "err", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return h, nil
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	d := h.limiter.Allow(ClientKey(r), now)

	hdr := w.Header()
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

	if !d.Allowed {
		retry := d.RetryAfter(now)
		hdr.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		h.metrics.RecordProxyRequest(r.Context(), StatusLimited)
		slog.Debug("proxy: call budget exhausted", "retry_after", retry)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	h.rp.ServeHTTP(w, r)
}

// ClientKey identifies the caller: a digest of its Authorization header when
// present, its remote IP otherwise.
func ClientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		sum := sha256.Sum256([]byte(auth))
		return "k_" + hex.EncodeToString(sum[:16])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip_" + r.RemoteAddr
	}
	return "ip_" + host
}
