/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// RecordedRequest is a request received by RecordingServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// ServerResponse describes how RecordingServer responds.
type ServerResponse struct {
	StatusCode int
	Header     http.Header
	Body       string
	Delay      time.Duration
}

// RecordingServer is an httptest.Server that records all received requests
// and responds with a configurable sequence of responses.
type RecordingServer struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []RecordedRequest
	responses []ServerResponse
	inFlight  int
	maxFlight int
}

// NewRecordingServer starts a new RecordingServer. Responses are used in order,
// the last one is repeated when the sequence is exhausted. 200 OK is used if no responses are passed.
func NewRecordingServer(responses ...ServerResponse) *RecordingServer {
	if len(responses) == 0 {
		responses = []ServerResponse{{StatusCode: http.StatusOK}}
	}
	s := &RecordingServer{responses: responses}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *RecordingServer) handle(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body,
	})
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	s.inFlight++
	s.maxFlight = max(s.maxFlight, s.inFlight)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for k, vals := range resp.Header {
		for _, v := range vals {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(rw, resp.Body)
}

// Requests returns all recorded requests.
func (s *RecordingServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// MaxInFlight returns the maximum number of requests that were handled simultaneously.
func (s *RecordingServer) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxFlight
}
