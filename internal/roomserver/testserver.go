package roomserver

import (
	"net/http/httptest"
	"strings"
	"testing"
)

// TestServer runs a Server on a loopback httptest listener.
type TestServer struct {
	*Server
	HTTP *httptest.Server
}

// NewTestServer starts a server that is shut down when t finishes.
func NewTestServer(t testing.TB, config Config) *TestServer {
	t.Helper()
	srv := NewServer(config)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &TestServer{Server: srv, HTTP: ts}
}

// URL is the websocket address of the server.
func (ts *TestServer) URL() string {
	return "ws" + strings.TrimPrefix(ts.HTTP.URL, "http")
}
