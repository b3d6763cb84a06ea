// Package wreq is an HTTP client for interpreter threads. Every call that
// waits on the network releases the interpreter lock and can be
// interrupted by the host; request and response bodies can be streamed
// through bounded channels.
//
// Example:
//
//	c := wreq.NewClient(wreq.WithTimeout(10 * time.Second))
//	in.Do(func(t *gvl.Thread) error {
//		resp, err := c.Get(t, "https://example.com", wreq.Query("q", "go"))
//		if err != nil {
//			return err
//		}
//		defer resp.Close()
//		text, err := resp.Text(t)
//		...
//	})
package wreq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haivivi/wreq/go/pkg/body"
	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/rt"
)

const (
	// DefaultTimeout is the default total request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultConnectTimeout is the default dial timeout.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxRedirects is the default redirect limit.
	DefaultMaxRedirects = 10

	// DefaultUserAgent is sent when no User-Agent is configured.
	DefaultUserAgent = "wreq-go/1.0"

	// RequestIDHeader carries the per-request ID.
	RequestIDHeader = "X-Request-Id"
)

var errHTTPSOnly = errors.New("wreq: only https URLs are allowed")

// Client sends HTTP requests on behalf of interpreter threads. It is safe
// for concurrent use.
type Client struct {
	config *clientConfig
	http   *http.Client
}

type clientConfig struct {
	timeout        time.Duration
	connectTimeout time.Duration
	header         http.Header
	userAgent      string
	redirects      bool
	maxRedirects   int
	proxy          *url.URL
	httpsOnly      bool
	jar            http.CookieJar
	httpClient     *http.Client
	bodyCapacity   int
	logger         *slog.Logger
	metrics        *Metrics
	tracerProvider trace.TracerProvider
}

// Option is a function that configures the client.
type Option func(*clientConfig)

// WithTimeout sets the total timeout of each request, body included.
// Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.connectTimeout = d
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *clientConfig) {
		c.header.Add(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithRedirects enables following up to max redirects. max <= 0 disables
// redirects; the redirect response itself is returned.
func WithRedirects(max int) Option {
	return func(c *clientConfig) {
		c.redirects = max > 0
		c.maxRedirects = max
	}
}

// WithProxy routes requests through the given proxy.
func WithProxy(proxy *url.URL) Option {
	return func(c *clientConfig) {
		c.proxy = proxy
	}
}

// WithHTTPSOnly rejects plain http URLs.
func WithHTTPSOnly(on bool) Option {
	return func(c *clientConfig) {
		c.httpsOnly = on
	}
}

// WithCookieJar stores and sends cookies through jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *clientConfig) {
		c.jar = jar
	}
}

// WithHTTPClient uses hc instead of building a client from the options.
// Timeout, redirect, proxy and jar options are ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// WithBodyCapacity sets the chunk capacity of response body channels.
func WithBodyCapacity(n int) Option {
	return func(c *clientConfig) {
		c.bodyCapacity = n
	}
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// NewClient creates a client.
func NewClient(opts ...Option) *Client {
	cfg := &clientConfig{
		timeout:        DefaultTimeout,
		connectTimeout: DefaultConnectTimeout,
		header:         http.Header{},
		userAgent:      DefaultUserAgent,
		redirects:      true,
		maxRedirects:   DefaultMaxRedirects,
		bodyCapacity:   body.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	hc := cfg.httpClient
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{
			Timeout:   cfg.connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		if cfg.proxy != nil {
			transport.Proxy = http.ProxyURL(cfg.proxy)
		}
		hc = &http.Client{
			Transport:     transport,
			Timeout:       cfg.timeout,
			Jar:           cfg.jar,
			CheckRedirect: cfg.checkRedirect,
		}
	}
	return &Client{config: cfg, http: hc}
}

func (c *clientConfig) checkRedirect(req *http.Request, via []*http.Request) error {
	if !c.redirects {
		return http.ErrUseLastResponse
	}
	if len(via) >= c.maxRedirects {
		return fmt.Errorf("%w: stopped after %d", errRedirectLimit, c.maxRedirects)
	}
	if c.httpsOnly && req.URL.Scheme != "https" {
		return errHTTPSOnly
	}
	return nil
}

// Get sends a GET request.
func (c *Client) Get(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodGet, url, opts...)
}

// Post sends a POST request.
func (c *Client) Post(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodPost, url, opts...)
}

// Put sends a PUT request.
func (c *Client) Put(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodPut, url, opts...)
}

// Patch sends a PATCH request.
func (c *Client) Patch(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodPatch, url, opts...)
}

// Delete sends a DELETE request.
func (c *Client) Delete(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodDelete, url, opts...)
}

// Head sends a HEAD request.
func (c *Client) Head(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodHead, url, opts...)
}

// Options sends an OPTIONS request.
func (c *Client) Options(h gvl.Host, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(h, http.MethodOptions, url, opts...)
}

// Do sends a request and returns once the response headers arrived. The
// interpreter lock is released while waiting. If the host interrupts the
// thread the request is cancelled and Do returns gvl.ErrInterrupted.
func (c *Client) Do(h gvl.Host, method, rawURL string, opts ...RequestOption) (*Response, error) {
	r := &request{header: c.config.header.Clone(), query: url.Values{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.err != nil {
		return nil, wrapErr(KindBuilder, method, rawURL, r.err)
	}
	target, err := r.url(rawURL)
	if err != nil {
		return nil, wrapErr(KindBuilder, method, rawURL, err)
	}
	if c.config.httpsOnly && !hasScheme(target, "https") {
		return nil, wrapErr(KindBuilder, method, target, errHTTPSOnly)
	}
	if r.header.Get("User-Agent") == "" && c.config.userAgent != "" {
		r.header.Set("User-Agent", c.config.userAgent)
	}
	if r.contentType != "" && r.header.Get("Content-Type") == "" {
		r.header.Set("Content-Type", r.contentType)
	}
	requestID := r.header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.header.Set(RequestIDHeader, requestID)
	}

	log := c.config.logger.With("request_id", requestID)
	log.Debug("wreq: request", "method", method, "url", target)

	spanCtx, obs := c.observe(method, target, requestID, r)
	resp, err := rt.BlockOn(h, func(sigCtx context.Context) (*Response, error) {
		return c.roundTrip(sigCtx, spanCtx, h, method, target, requestID, r)
	})
	if err != nil && !errors.Is(err, gvl.ErrInterrupted) {
		if _, ok := AsError(err); !ok {
			err = wrapErr(classify(err), method, target, err)
		}
	}
	obs.end(resp, err)
	if err != nil {
		if errors.Is(err, gvl.ErrInterrupted) {
			log.Debug("wreq: request interrupted", "method", method, "url", target)
		}
		return nil, err
	}
	log.Debug("wreq: response", "status", resp.StatusCode, "remote", resp.RemoteAddr)
	return resp, nil
}

// roundTrip runs on the runtime. The request context outlives sigCtx so
// the body can be read after Do returns; sigCtx only cancels it until the
// headers arrive. spanCtx carries the trace span of the request.
func (c *Client) roundTrip(sigCtx, spanCtx context.Context, h gvl.Host, method, target, requestID string, r *request) (*Response, error) {
	ctx := trace.ContextWithSpan(rt.Default().Context(), trace.SpanFromContext(spanCtx))
	ctx, cancel := context.WithCancel(ctx)
	if r.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, r.timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}
	stop := context.AfterFunc(sigCtx, cancel)

	var mu sync.Mutex
	var local, remote net.Addr
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			mu.Lock()
			defer mu.Unlock()
			local, remote = info.Conn.LocalAddr(), info.Conn.RemoteAddr()
		},
	})

	rd := r.body
	if r.stream != nil {
		s, err := r.stream.Stream(ctx)
		if err != nil {
			stop()
			cancel()
			return nil, wrapErr(KindBuilder, method, target, err)
		}
		rd = s
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		stop()
		cancel()
		return nil, wrapErr(KindBuilder, method, target, err)
	}
	req.Header = r.header
	if r.stream != nil {
		req.ContentLength = -1
	}

	hr, err := c.http.Do(req)
	if !stop() {
		// Interrupted: the caller has already given up on this result.
		if hr != nil {
			hr.Body.Close()
		}
		cancel()
		return nil, gvl.ErrInterrupted
	}
	if err != nil {
		cancel()
		return nil, err
	}
	hr.Body = &cancelBody{ReadCloser: hr.Body, cancel: cancel}

	mu.Lock()
	defer mu.Unlock()
	return newResponse(h, method, requestID, c.config.bodyCapacity, hr, local, remote), nil
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}
