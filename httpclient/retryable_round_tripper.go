/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/retry"
)

// Default parameter values for RetryableRoundTripper.
const (
	DefaultMaxRetryAttempts                  = 3
	DefaultExponentialBackoffInitialInterval = time.Second
	DefaultExponentialBackoffMultiplier      = 2
)

// UnlimitedRetryAttempts should be used as RetryableRoundTripperOpts.MaxRetryAttempts value
// when retries should be stopped only by RetryableRoundTripperOpts.BackoffPolicy.
const UnlimitedRetryAttempts = -1

// RetryAttemptNumberHeader is an HTTP header name that will contain the serial number of the retry attempt.
const RetryAttemptNumberHeader = "X-Retry-Attempt"

// DefaultBackoffPolicy is a default backoff policy.
var DefaultBackoffPolicy retry.Policy = retry.NewExponentialBackoffPolicy(
	DefaultExponentialBackoffInitialInterval, DefaultExponentialBackoffMultiplier, 0)

// CheckRetryFunc is a function that is called right after RoundTrip() method
// and determines if the next retry attempt is needed.
type CheckRetryFunc func(
	ctx context.Context, req *http.Request, resp *http.Response, roundTripErr error, doneRetryAttempts int,
) (bool, error)

// RetryableRoundTripperOpts represents an options for RetryableRoundTripper.
type RetryableRoundTripperOpts struct {
	// Logger is used when LoggerProvider is not set or returns nil.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	// GetLoggerFromContext is used by default.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// MaxRetryAttempts determines how many maximum retry attempts can be done.
	// The total number of sent HTTP requests may be MaxRetryAttempts + 1.
	// By default, DefaultMaxRetryAttempts is used.
	MaxRetryAttempts int

	// CheckRetryFunc determines if the next retry attempt is needed.
	// By default, DefaultCheckRetry is used.
	CheckRetryFunc CheckRetryFunc

	// IgnoreRetryAfter disables parsing of Retry-After response header.
	IgnoreRetryAfter bool

	// BackoffPolicy computes wait time before the next retry attempt
	// when Retry-After is absent or ignored. By default, DefaultBackoffPolicy is used.
	BackoffPolicy retry.Policy
}

// RetryableRoundTripper wraps an object that implements http.RoundTripper interface
// and provides a retrying mechanism for HTTP requests.
type RetryableRoundTripper struct {
	Delegate http.RoundTripper
	Opts     RetryableRoundTripperOpts
}

// NewRetryableRoundTripper returns a new instance of RetryableRoundTripper.
func NewRetryableRoundTripper(delegate http.RoundTripper) (*RetryableRoundTripper, error) {
	return NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{})
}

// NewRetryableRoundTripperWithOpts creates a new instance of RetryableRoundTripper with specified options.
func NewRetryableRoundTripperWithOpts(
	delegate http.RoundTripper, opts RetryableRoundTripperOpts,
) (*RetryableRoundTripper, error) {
	if opts.MaxRetryAttempts < 0 && opts.MaxRetryAttempts != UnlimitedRetryAttempts {
		return nil, fmt.Errorf("incorrect max retry attempts %d", opts.MaxRetryAttempts)
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.LoggerProvider == nil {
		opts.LoggerProvider = GetLoggerFromContext
	}
	if opts.CheckRetryFunc == nil {
		opts.CheckRetryFunc = DefaultCheckRetry
	}
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = DefaultBackoffPolicy
	}
	return &RetryableRoundTripper{Delegate: delegate, Opts: opts}, nil
}

// RoundTrip performs request with retry logic.
func (rt *RetryableRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindReqBody := func(*http.Request) error { return nil }
	if req.Body != nil && req.Body != http.NoBody {
		originalReqBody := req.Body
		defer func() {
			_ = originalReqBody.Close() // Per RoundTripper contract.
		}()
		var err error
		req = req.Clone(req.Context())
		if rewindReqBody, err = makeRequestBodyRewindable(req); err != nil {
			return nil, &RetryableRoundTripperError{Inner: err}
		}
	}

	ctx := req.Context()
	logger := rt.logger(ctx)
	bf := rt.Opts.BackoffPolicy.NewBackOff()
	reqCloned := false

	var resp *http.Response
	var roundTripErr error
	for attempt := 0; ; attempt++ {
		if err := rewindReqBody(req); err != nil {
			if attempt == 0 {
				return nil, &RetryableRoundTripperError{Inner: err}
			}
			logger.Error("failed to rewind request body between retry attempts",
				log.Int("requests_done", attempt), log.Error(err))
			return resp, roundTripErr
		}

		if resp != nil && roundTripErr == nil {
			rt.drainResponseBody(logger, resp)
		}

		if attempt > 0 {
			if !reqCloned {
				req, reqCloned = req.Clone(ctx), true // Per RoundTripper contract.
			}
			req.Header.Set(RetryAttemptNumberHeader, strconv.Itoa(attempt))
		}

		resp, roundTripErr = rt.Delegate.RoundTrip(req)

		needRetry, checkErr := rt.Opts.CheckRetryFunc(ctx, req, resp, roundTripErr, attempt)
		if checkErr != nil {
			logger.Error("failed to check if retry is needed",
				log.Int("requests_done", attempt+1), log.Error(checkErr))
			return resp, roundTripErr
		}
		if !needRetry {
			return resp, roundTripErr
		}

		if rt.Opts.MaxRetryAttempts > 0 && attempt >= rt.Opts.MaxRetryAttempts {
			logger.Warn("max retry attempts exceeded",
				log.Int("max_retry_attempts", rt.Opts.MaxRetryAttempts), log.Int("requests_done", attempt+1))
			return resp, roundTripErr
		}

		waitTime, ok := rt.nextWaitTime(bf, resp)
		if !ok {
			return resp, roundTripErr
		}

		select {
		case <-ctx.Done():
			logger.Warn("context canceled while waiting for the next retry attempt",
				log.Int("requests_done", attempt+1), log.Error(ctx.Err()))
			return resp, roundTripErr
		case <-time.After(waitTime):
		}
	}
}

func (rt *RetryableRoundTripper) nextWaitTime(bf backoff.BackOff, resp *http.Response) (time.Duration, bool) {
	if resp != nil && !rt.Opts.IgnoreRetryAfter {
		if retryAfter, ok := parseRetryAfterFromResponse(resp); ok {
			return retryAfter, true
		}
	}
	waitTime := bf.NextBackOff()
	return waitTime, waitTime != backoff.Stop
}

func (rt *RetryableRoundTripper) drainResponseBody(logger log.FieldLogger, resp *http.Response) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close previous response body between retry attempts", log.Error(closeErr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logger.Error("failed to discard previous response body between retry attempts", log.Error(err))
	}
}

func (rt *RetryableRoundTripper) logger(ctx context.Context) log.FieldLogger {
	if logger := rt.Opts.LoggerProvider(ctx); logger != nil {
		return logger
	}
	return rt.Opts.Logger
}

// RetryableRoundTripperError is returned in RoundTrip method of RetryableRoundTripper
// when the original request cannot be potentially retried.
type RetryableRoundTripperError struct {
	Inner error
}

func (e *RetryableRoundTripperError) Error() string {
	return fmt.Sprintf("retryable round trip: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RetryableRoundTripperError) Unwrap() error {
	return e.Inner
}

// DefaultCheckRetry represents default function to determine either retry is needed or not.
// 429 responses are always retried since the server has not processed the request.
// Temporary errors and 5xx responses are retried only for idempotent requests.
func DefaultCheckRetry(
	ctx context.Context, req *http.Request, resp *http.Response, roundTripErr error, _ int,
) (needRetry bool, err error) {
	idempotent := isIdempotentMethod(req.Method) || GetIdempotentHintFromContext(ctx)
	if roundTripErr != nil {
		return idempotent && CheckErrorIsTemporary(roundTripErr), nil
	}
	if resp == nil {
		return false, fmt.Errorf("both response and round trip error are nil")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	return idempotent && resp.StatusCode >= http.StatusInternalServerError, nil
}

// CheckErrorIsTemporary checks either error is temporary or not.
func CheckErrorIsTemporary(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var terr interface{ Temporary() bool }
	return errors.As(err, &terr) && terr.Temporary()
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// makeRequestBodyRewindable prepares req so its body may be sent again.
// GetBody is preferred when present, then io.Seeker, then in-memory buffering.
func makeRequestBodyRewindable(req *http.Request) (func(*http.Request) error, error) {
	if req.GetBody != nil {
		getBody := req.GetBody
		first := true
		return func(r *http.Request) error {
			if first {
				first = false
				return nil
			}
			body, err := getBody()
			if err != nil {
				return fmt.Errorf("get request body: %w", err)
			}
			r.Body = body
			return nil
		}, nil
	}

	if seeker, ok := req.Body.(io.ReadSeeker); ok {
		offset, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("seek request body before doing first request: %w", err)
		}
		req.Body = io.NopCloser(seeker)
		return func(*http.Request) error {
			if _, seekErr := seeker.Seek(offset, io.SeekStart); seekErr != nil {
				return fmt.Errorf("seek request body (offset=%d): %w", offset, seekErr)
			}
			return nil
		}, nil
	}

	buffered, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body before doing first request: %w", err)
	}
	return func(r *http.Request) error {
		r.Body = io.NopCloser(bytes.NewReader(buffered))
		return nil
	}, nil
}

func parseRetryAfterFromResponse(resp *http.Response) (time.Duration, bool) {
	val := resp.Header.Get("Retry-After")
	if val == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(val)
	if err != nil {
		t, timeErr := http.ParseTime(val)
		if timeErr != nil {
			return 0, false
		}
		return max(time.Until(t), 0), true
	}
	if seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
