package geocoding_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// mockHTTPClient is a mock implementation of HTTPClient for testing.
type mockHTTPClient struct {
	mu     sync.Mutex
	calls  int
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	return m.doFunc(req)
}

func (m *mockHTTPClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// mockIssuer hands out "token-1", "token-2", ... and counts calls.
type mockIssuer struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
}

func (m *mockIssuer) IssueToken(_ context.Context, _ geocoding.APIKey) (*geocoding.Token, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	return &geocoding.Token{Value: fmt.Sprintf("token-%d", m.calls), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockIssuer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func respondWith(status int, body string) *mockHTTPClient {
	return &mockHTTPClient{
		doFunc: func(_ *http.Request) (*http.Response, error) {
			return jsonResponse(status, body), nil
		},
	}
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func newTestTokenCache(issuer geocoding.TokenIssuer, preset *geocoding.Token) *geocoding.TokenCache {
	return geocoding.NewTokenCache("esri", geocoding.NewMemoryTokenStore(), issuer, preset, newTestMetrics(), slog.Default())
}

func newTestLookup(
	cfg geocoding.EsriConfig,
	client geocoding.HTTPClient,
	tokens *geocoding.TokenCache,
) *geocoding.EsriLookup {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}

	return geocoding.NewEsriLookup(cfg, client, tokens, newTestMetrics(), slog.Default())
}

func intPtr(v int) *int {
	return &v
}
