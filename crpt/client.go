/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package crpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acronis/go-crptclient/httpclient"
	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/ratelimit"
)

// SignatureHeader is an HTTP header name for the document signature.
const SignatureHeader = "Signature"

// RequestType is used in logs and metrics of the HTTP client created by the Client.
const RequestType = "create-document"

// MaxResponseBodySize limits how much of the response body is read and kept in results and errors.
const MaxResponseBodySize = 1 << 20

// Limiter is an admission control used by Client.
// Every successful Acquire is followed by exactly one Release.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// ClientOpts represents options for Client.
type ClientOpts struct {
	// Logger is used for logging. Disabled logger is used by default.
	Logger log.FieldLogger

	// HTTPClient sends requests. If nil, a client is built from Config.Transport.
	HTTPClient *http.Client

	// HTTPMetricsCollector collects metrics of the built HTTP client
	// when metrics are enabled in Config.Transport.
	HTTPMetricsCollector httpclient.MetricsCollector

	// LimiterMetricsCollector collects metrics of the limiter created by NewClientFromConfig.
	LimiterMetricsCollector ratelimit.MetricsCollector
}

// SubmitResult is a result of successful document submission.
type SubmitResult struct {
	StatusCode int
	Body       []byte
}

// Client submits documents to the remote API. Each submission holds one limiter permit
// for the whole duration of the HTTP exchange, including transport retries.
type Client struct {
	url        string
	limiter    Limiter
	httpClient *http.Client
	logger     log.FieldLogger

	ownedLimiter *ratelimit.FixedWindowLimiter
}

// NewClient creates a new Client that uses the given limiter.
// The limiter is not stopped by Close.
func NewClient(cfg *Config, limiter Limiter, opts ClientOpts) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	targetURL := cfg.URL
	if targetURL == "" {
		targetURL = DefaultURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transportCfg := cfg.Transport
		if transportCfg == nil {
			transportCfg = httpclient.NewDefaultConfig()
		}
		userAgent := cfg.UserAgent
		if userAgent == "" {
			userAgent = DefaultUserAgent
		}
		var err error
		if httpClient, err = httpclient.NewWithOpts(transportCfg, httpclient.Opts{
			UserAgent:        userAgent,
			RequestType:      RequestType,
			Logger:           opts.Logger,
			MetricsCollector: opts.HTTPMetricsCollector,
		}); err != nil {
			return nil, fmt.Errorf("create http client: %w", err)
		}
	}

	return &Client{url: targetURL, limiter: limiter, httpClient: httpClient, logger: opts.Logger}, nil
}

// NewClientFromConfig creates a new Client together with a limiter described by cfg.RateLimit.
// The limiter is owned by the client and is stopped by Close.
func NewClientFromConfig(cfg *Config, opts ClientOpts) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.RateLimit == nil {
		return nil, fmt.Errorf("rate limit configuration is required")
	}
	limiter, err := cfg.RateLimit.NewLimiter(ratelimit.FixedWindowLimiterOpts{
		Logger:           opts.Logger,
		MetricsCollector: opts.LimiterMetricsCollector,
	})
	if err != nil {
		return nil, err
	}
	c, err := NewClient(cfg, limiter, opts)
	if err != nil {
		limiter.Stop()
		return nil, err
	}
	c.ownedLimiter = limiter
	return c, nil
}

// Close stops the limiter if it was created by NewClientFromConfig.
func (c *Client) Close() {
	if c.ownedLimiter != nil {
		c.ownedLimiter.Stop()
	}
}

// Submit validates the document, waits for a limiter permit and POSTs the document
// with the signature to the remote API. The permit is released on every return path.
// Non-2xx responses are reported with *RemoteRejectionError.
func (c *Client) Submit(ctx context.Context, doc *Document, signature string) (*SubmitResult, error) {
	if err := validateSubmission(doc, signature); err != nil {
		return nil, err
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, &TransportError{Op: "marshal", Inner: err}
	}
	return c.send(ctx, body, signature)
}

// CreateDocumentForGoods submits a goods introduction document. It's the same as Submit.
func (c *Client) CreateDocumentForGoods(ctx context.Context, doc *Document, signature string) (*SubmitResult, error) {
	return c.Submit(ctx, doc, signature)
}

func (c *Client) send(ctx context.Context, body []byte, signature string) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "send", Inner: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("document submission failed", log.String("url", c.url), log.Error(err))
		return nil, &TransportError{Op: "send", Inner: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", log.Error(closeErr))
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
	if err != nil {
		return nil, &TransportError{Op: "read", Inner: err}
	}

	fields := []log.Field{
		log.String("url", c.url),
		log.Int("status", resp.StatusCode),
		log.DurationIn(time.Since(start), time.Millisecond),
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("document rejected by remote API", append(fields, log.String("response", string(respBody)))...)
		return nil, &RemoteRejectionError{StatusCode: resp.StatusCode, Body: respBody}
	}
	c.logger.Info("document submitted", fields...)
	return &SubmitResult{StatusCode: resp.StatusCode, Body: respBody}, nil
}
