package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/circuitbreaker"
	"github.com/hmonster013/ecommerce-microservice-sub008/correlation"
	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

// Options tunes the shared call pipeline.
type Options struct {
	// CallerName goes into X-Service-Name and the User-Agent.
	CallerName string
	// CallerVersion goes into the User-Agent.
	CallerVersion string
	// Timeout is the per-call deadline.
	Timeout time.Duration
	// MaxRetries bounds retry attempts on transport faults and 5xx.
	MaxRetries int
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.CallerName == "" {
		o.CallerName = "api-gateway"
	}
	if o.CallerVersion == "" {
		o.CallerVersion = "1.0.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	return o
}

// Client is the shared HTTP pipeline behind every typed service client:
// discovery, breaker admission, header injection, deadline, bounded retry
// and response decoding.
type Client struct {
	service string
	breaker *circuitbreaker.CircuitBreaker
	resolve discovery.Resolver
	http    *http.Client
	opts    Options
	logger  *zap.Logger
}

func NewClient(
	service string,
	breaker *circuitbreaker.CircuitBreaker,
	resolver discovery.Resolver,
	opts Options,
	logger *zap.Logger,
) *Client {
	o := opts.withDefaults()
	return &Client{
		service: service,
		breaker: breaker,
		resolve: resolver,
		http:    &http.Client{Timeout: o.Timeout},
		opts:    o,
		logger:  logger,
	}
}

type callConfig struct {
	idempotencyKey string
	rawForward     *rawForward
}

type rawForward struct {
	header http.Header
}

// CallOption customizes a single call.
type CallOption func(*callConfig)

// WithIdempotencyKey makes a POST retryable and forwards the key.
func WithIdempotencyKey(key string) CallOption {
	return func(c *callConfig) { c.idempotencyKey = key }
}

// Do performs one typed call. On 2xx the response body is decoded into out
// (when non-nil); 4xx maps to a client-kind error, 5xx and transport faults
// to an upstream error counted against the breaker.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, options ...CallOption) error {
	var cfg callConfig
	for _, opt := range options {
		opt(&cfg)
	}

	if err := c.breaker.Allow(); err != nil {
		return errs.Wrap(errs.KindUpstream,
			fmt.Sprintf("%s circuit breaker open", c.service), err)
	}

	err := c.doWithRetry(ctx, method, path, body, out, &cfg)
	switch {
	case err == nil:
		c.breaker.Success()
	case errs.Is(err, errs.KindCancelled):
		c.breaker.Cancelled()
	case errs.Is(err, errs.KindUpstream) || errs.Is(err, errs.KindTimeout):
		c.breaker.Failure()
	default:
		// 4xx is the caller's problem, not downstream failure.
		c.breaker.Success()
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any, cfg *callConfig) error {
	retryable := method != http.MethodPost || cfg.idempotencyKey != ""
	attempts := 1
	if retryable {
		attempts = c.opts.MaxRetries
	}

	var lastErr error
	backoff := c.opts.BackoffBase
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.doOnce(ctx, method, path, body, out, cfg)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := errs.KindOf(err)
		if kind != errs.KindUpstream && kind != errs.KindTimeout {
			return err
		}
		if attempt == attempts {
			break
		}

		c.logger.Warn("Retrying downstream call",
			zap.String("service", c.service),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindCancelled, "call cancelled during backoff", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any, cfg *callConfig) error {
	base, err := c.resolve.Resolve(c.service)
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "service discovery failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "encode request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "build request", err)
	}
	c.injectHeaders(ctx, req, cfg)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errs.Wrap(errs.KindTimeout,
				fmt.Sprintf("%s deadline exceeded", c.service), err)
		}
		if errors.Is(err, context.Canceled) {
			return errs.Wrap(errs.KindCancelled, "call cancelled", err)
		}
		c.resolve.MarkDown(c.service, base)
		return errs.Wrap(errs.KindUpstream,
			fmt.Sprintf("%s unreachable", c.service), err)
	}
	defer resp.Body.Close()

	return c.decode(resp, out)
}

func (c *Client) injectHeaders(ctx context.Context, req *http.Request, cfg *callConfig) {
	if cfg.rawForward != nil {
		copyForwardableHeaders(req.Header, cfg.rawForward.header)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Service-Name", c.opts.CallerName)
	req.Header.Set("User-Agent", c.opts.CallerName+"/"+c.opts.CallerVersion)
	if cfg.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", cfg.idempotencyKey)
	}

	_, id := correlation.Ensure(ctx)
	req.Header.Set(correlation.Header, id)

	if p, ok := identity.Current(ctx); ok && p.Valid() {
		identity.Inject(req.Header, p)
	}
}

// Hop-by-hop and identity headers are managed by the pipeline itself.
var skipForwardHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Host":              true,
	"Authorization":     true,
}

func copyForwardableHeaders(dst, src http.Header) {
	for key, values := range src {
		if skipForwardHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		if strings.HasPrefix(key, "X-User-") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func (c *Client) decode(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "read response body", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return errs.Wrap(errs.KindUpstream,
				fmt.Sprintf("%s returned malformed response", c.service), err)
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return clientError(resp.StatusCode, c.service, raw)
	default:
		return errs.Newf(errs.KindUpstream, "%s returned status %d", c.service, resp.StatusCode)
	}
}

func clientError(status int, service string, raw []byte) error {
	msg := fmt.Sprintf("%s rejected the request (%d)", service, status)
	var envelope response.Error
	if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
		msg = envelope.Message
	}

	switch status {
	case http.StatusNotFound:
		return errs.New(errs.KindNotFound, msg)
	case http.StatusUnauthorized:
		return errs.New(errs.KindUnauthenticated, msg)
	case http.StatusForbidden:
		return errs.New(errs.KindForbidden, msg)
	case http.StatusConflict:
		return errs.New(errs.KindConflict, msg)
	case http.StatusTooManyRequests:
		return errs.New(errs.KindRateLimited, msg)
	default:
		return errs.New(errs.KindValidation, msg)
	}
}

// RawResult carries an unmodified upstream response for the gateway proxy.
type RawResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward relays a rewritten gateway request to the downstream service and
// returns the raw response. Breaker semantics match Do.
func (c *Client) Forward(ctx context.Context, method, path string, header http.Header, body io.Reader) (*RawResult, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, errs.Wrap(errs.KindUpstream,
			fmt.Sprintf("%s circuit breaker open", c.service), err)
	}

	res, err := c.forwardOnce(ctx, method, path, header, body)
	switch {
	case err == nil:
		c.breaker.Success()
	case errs.Is(err, errs.KindCancelled):
		c.breaker.Cancelled()
	default:
		c.breaker.Failure()
	}
	return res, err
}

func (c *Client) forwardOnce(ctx context.Context, method, path string, header http.Header, body io.Reader) (*RawResult, error) {
	base, err := c.resolve.Resolve(c.service)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "service discovery failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "build request", err)
	}
	cfg := callConfig{rawForward: &rawForward{header: header}}
	c.injectHeaders(ctx, req, &cfg)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.KindTimeout,
				fmt.Sprintf("%s deadline exceeded", c.service), err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, errs.Wrap(errs.KindCancelled, "call cancelled", err)
		}
		c.resolve.MarkDown(c.service, base)
		return nil, errs.Wrap(errs.KindUpstream,
			fmt.Sprintf("%s unreachable", c.service), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "read response body", err)
	}
	return &RawResult{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: raw}, nil
}
