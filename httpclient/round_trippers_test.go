/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/log/logtest"
	"github.com/acronis/go-crptclient/retry"
	"github.com/acronis/go-crptclient/testutil"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}
}

func TestRequestIDRoundTripper(t *testing.T) {
	var gotIDs []string
	delegate := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gotIDs = append(gotIDs, r.Header.Get(RequestIDHeader))
		return newResponse(http.StatusOK), nil
	})
	rt := NewRequestIDRoundTripper(delegate)

	t.Run("generated", func(t *testing.T) {
		gotIDs = nil
		req, err := http.NewRequest(http.MethodGet, "http://localhost", nil)
		require.NoError(t, err)
		_, err = rt.RoundTrip(req)
		require.NoError(t, err)
		_, err = xid.FromString(gotIDs[0])
		require.NoError(t, err)
		require.Empty(t, req.Header.Get(RequestIDHeader), "original request must not be modified")
	})

	t.Run("from context", func(t *testing.T) {
		gotIDs = nil
		ctx := NewContextWithRequestID(context.Background(), "ctx-id")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost", nil)
		require.NoError(t, err)
		_, err = rt.RoundTrip(req)
		require.NoError(t, err)
		require.Equal(t, []string{"ctx-id"}, gotIDs)
	})

	t.Run("already set", func(t *testing.T) {
		gotIDs = nil
		req, err := http.NewRequest(http.MethodGet, "http://localhost", nil)
		require.NoError(t, err)
		req.Header.Set(RequestIDHeader, "header-id")
		_, err = rt.RoundTrip(req)
		require.NoError(t, err)
		require.Equal(t, []string{"header-id"}, gotIDs)
	})
}

func TestUserAgentRoundTripper(t *testing.T) {
	tests := []struct {
		name     string
		strategy UserAgentUpdateStrategy
		initial  string
		want     string
	}{
		{name: "set if empty, empty", strategy: UserAgentUpdateStrategySetIfEmpty, want: "crpt/1.0"},
		{name: "set if empty, not empty", strategy: UserAgentUpdateStrategySetIfEmpty, initial: "app", want: "app"},
		{name: "append", strategy: UserAgentUpdateStrategyAppend, initial: "app", want: "app crpt/1.0"},
		{name: "append, empty", strategy: UserAgentUpdateStrategyAppend, want: "crpt/1.0"},
		{name: "prepend", strategy: UserAgentUpdateStrategyPrepend, initial: "app", want: "crpt/1.0 app"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			rt := NewUserAgentRoundTripperWithOpts(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				got = r.Header.Get("User-Agent")
				return newResponse(http.StatusOK), nil
			}), "crpt/1.0", UserAgentRoundTripperOpts{UpdateStrategy: tt.strategy})

			req, err := http.NewRequest(http.MethodGet, "http://localhost", nil)
			require.NoError(t, err)
			if tt.initial != "" {
				req.Header.Set("User-Agent", tt.initial)
			}
			_, err = rt.RoundTrip(req)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLoggingRoundTripper(t *testing.T) {
	errConn := errors.New("connection reset")
	doRequest := func(rt http.RoundTripper, ctx context.Context) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost/docs", nil)
		require.NoError(t, err)
		req.Header.Set(RequestIDHeader, "req-1")
		_, _ = rt.RoundTrip(req)
	}

	t.Run("all", func(t *testing.T) {
		logs := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return newResponse(http.StatusCreated), nil
		}), LoggingRoundTripperOpts{Logger: logs, RequestType: "create-document"})
		doRequest(rt, context.Background())

		entry, found := logs.FindEntry("client http request done")
		require.True(t, found)
		require.Equal(t, log.LevelInfo, entry.Level)
		for key, want := range map[string]string{
			"method": "POST", "url": "http://localhost/docs", "request_type": "create-document", "request_id": "req-1",
		} {
			field, ok := entry.FindField(key)
			require.True(t, ok, key)
			require.Equal(t, want, string(field.Bytes))
		}
		status, ok := entry.FindField("status")
		require.True(t, ok)
		require.Equal(t, int64(http.StatusCreated), status.Int)
	})

	t.Run("failed only", func(t *testing.T) {
		logs := logtest.NewRecorder()
		code := http.StatusOK
		rt := NewLoggingRoundTripperWithOpts(roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return newResponse(code), nil
		}), LoggingRoundTripperOpts{Logger: logs, Mode: LoggingModeFailed})

		doRequest(rt, context.Background())
		require.Empty(t, logs.Entries())

		code = http.StatusBadRequest
		doRequest(rt, context.Background())
		entry, found := logs.FindEntry("client http request done")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
	})

	t.Run("round trip error", func(t *testing.T) {
		logs := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return nil, errConn
		}), LoggingRoundTripperOpts{Logger: logs})
		doRequest(rt, context.Background())

		entry, found := logs.FindEntry("client http request failed")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
	})

	t.Run("none and slow threshold", func(t *testing.T) {
		logs := logtest.NewRecorder()
		delegate := roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return newResponse(http.StatusOK), nil
		})
		doRequest(NewLoggingRoundTripperWithOpts(delegate, LoggingRoundTripperOpts{Logger: logs, Mode: LoggingModeNone}),
			context.Background())
		doRequest(NewLoggingRoundTripperWithOpts(delegate, LoggingRoundTripperOpts{Logger: logs, SlowRequestThreshold: time.Hour}),
			context.Background())
		require.Empty(t, logs.Entries())
	})

	t.Run("logger from context", func(t *testing.T) {
		defaultLogs, ctxLogs := logtest.NewRecorder(), logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return newResponse(http.StatusOK), nil
		}), LoggingRoundTripperOpts{Logger: defaultLogs})
		doRequest(rt, NewContextWithLogger(context.Background(), ctxLogs))

		require.Empty(t, defaultLogs.Entries())
		require.Len(t, ctxLogs.Entries(), 1)
	})
}

func TestMetricsRoundTripper(t *testing.T) {
	collector := NewPrometheusMetricsCollector("test")
	rt := NewMetricsRoundTripperWithOpts(roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return newResponse(http.StatusAccepted), nil
	}), collector, MetricsRoundTripperOpts{RequestType: "create-document"})

	req, err := http.NewRequest(http.MethodPost, "http://example.com/docs", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)

	hist := collector.Durations.WithLabelValues("create-document", "example.com", http.MethodPost, "202")
	testutil.RequireSamplesCountInHistogram(t, hist.(prometheus.Histogram), 1)

	require.Equal(t, DefaultRequestType, NewMetricsRoundTripper(rt, collector).(*MetricsRoundTripper).RequestType)
}

func TestRetryableRoundTripper(t *testing.T) {
	noWait := retry.NewConstantBackoffPolicy(0, 0)

	send := func(t *testing.T, srv *testutil.RecordingServer, ctx context.Context, method string, body io.Reader) *http.Response {
		t.Helper()
		rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
			MaxRetryAttempts: 3, BackoffPolicy: noWait,
		})
		require.NoError(t, err)
		req, err := http.NewRequestWithContext(ctx, method, srv.URL, body)
		require.NoError(t, err)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		return resp
	}

	t.Run("POST is retried on 429", func(t *testing.T) {
		srv := testutil.NewRecordingServer(
			testutil.ServerResponse{StatusCode: http.StatusTooManyRequests},
			testutil.ServerResponse{StatusCode: http.StatusOK},
		)
		defer srv.Close()

		resp := send(t, srv, context.Background(), http.MethodPost, strings.NewReader(`{"doc":1}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		reqs := srv.Requests()
		require.Len(t, reqs, 2)
		require.Equal(t, `{"doc":1}`, string(reqs[1].Body))
		require.Empty(t, reqs[0].Header.Get(RetryAttemptNumberHeader))
		require.Equal(t, "1", reqs[1].Header.Get(RetryAttemptNumberHeader))
	})

	t.Run("POST is not retried on 503", func(t *testing.T) {
		srv := testutil.NewRecordingServer(testutil.ServerResponse{StatusCode: http.StatusServiceUnavailable})
		defer srv.Close()

		resp := send(t, srv, context.Background(), http.MethodPost, strings.NewReader("{}"))
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Len(t, srv.Requests(), 1)
	})

	t.Run("POST with idempotent hint is retried on 503", func(t *testing.T) {
		srv := testutil.NewRecordingServer(
			testutil.ServerResponse{StatusCode: http.StatusServiceUnavailable},
			testutil.ServerResponse{StatusCode: http.StatusCreated},
		)
		defer srv.Close()

		// io.MultiReader hides io.Seeker and GetBody is not set for it, so the body is buffered.
		body := io.MultiReader(strings.NewReader(`{"a":`), strings.NewReader(`1}`))
		ctx := NewContextWithIdempotentHint(context.Background(), true)
		resp := send(t, srv, ctx, http.MethodPost, body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		reqs := srv.Requests()
		require.Len(t, reqs, 2)
		require.Equal(t, `{"a":1}`, string(reqs[0].Body))
		require.Equal(t, `{"a":1}`, string(reqs[1].Body))
	})

	t.Run("GET stops after max attempts", func(t *testing.T) {
		srv := testutil.NewRecordingServer(testutil.ServerResponse{StatusCode: http.StatusBadGateway})
		defer srv.Close()

		resp := send(t, srv, context.Background(), http.MethodGet, nil)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Len(t, srv.Requests(), 4)
	})

	t.Run("4xx is not retried", func(t *testing.T) {
		srv := testutil.NewRecordingServer(testutil.ServerResponse{StatusCode: http.StatusBadRequest})
		defer srv.Close()

		resp := send(t, srv, context.Background(), http.MethodGet, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, srv.Requests(), 1)
	})

	t.Run("invalid max attempts", func(t *testing.T) {
		_, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{MaxRetryAttempts: -2})
		require.Error(t, err)
	})
}

func TestParseRetryAfterFromResponse(t *testing.T) {
	resp := newResponse(http.StatusTooManyRequests)

	_, ok := parseRetryAfterFromResponse(resp)
	require.False(t, ok)

	resp.Header.Set("Retry-After", "3")
	d, ok := parseRetryAfterFromResponse(resp)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)

	resp.Header.Set("Retry-After", "-1")
	_, ok = parseRetryAfterFromResponse(resp)
	require.False(t, ok)

	resp.Header.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	d, ok = parseRetryAfterFromResponse(resp)
	require.True(t, ok)
	require.InDelta(t, time.Hour.Seconds(), d.Seconds(), 5)

	resp.Header.Set("Retry-After", "soon")
	_, ok = parseRetryAfterFromResponse(resp)
	require.False(t, ok)
}

func TestCheckErrorIsTemporary(t *testing.T) {
	require.True(t, CheckErrorIsTemporary(io.EOF))
	require.True(t, CheckErrorIsTemporary(io.ErrUnexpectedEOF))
	require.False(t, CheckErrorIsTemporary(errors.New("permanent")))
}
