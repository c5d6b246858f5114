package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	body string
	req  *http.Request
}

func (c *stubClient) Do(req *http.Request) (*http.Response, error) {
	c.req = req
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(c.body))}, nil
}

// recordingSearcher captures the query and returns no results.
type recordingSearcher struct {
	query geocoding.Query
}

func (s *recordingSearcher) QueryURL(_ context.Context, _ geocoding.Query) string {
	return "https://example.test/find"
}

func (s *recordingSearcher) Search(_ context.Context, query geocoding.Query) ([]geocoding.Result, error) {
	s.query = query
	return nil, nil
}

func execute(t *testing.T, s searcher, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd(func() (searcher, error) { return s, nil }, &out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func newStubLookup(t *testing.T, client *stubClient) *geocoding.EsriLookup {
	t.Helper()

	lookup, err := geocoding.NewEsriProvider(geocoding.ProviderConfig{
		Type:     geocoding.ProviderTypeEsri,
		Token:    "cli-token",
		UseHTTPS: true,
		Client:   client,
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:   slog.Default(),
	})
	require.NoError(t, err)

	return lookup
}

func TestFindCommand(t *testing.T) {
	client := &stubClient{body: `{"locations": [{"name": "Kyiv, UKR",
		"extent": {"xmin": 30.2, "ymin": 50.2, "xmax": 30.8, "ymax": 50.6},
		"feature": {"geometry": {"x": 30.5234, "y": 50.4501},
			"attributes": {"Score": 100, "Type": "City", "PlaceName": "Kyiv", "Country": "UKR"}}}]}`}

	out, err := execute(t, newStubLookup(t, client), "find", "Kyiv", "Ukraine")

	require.NoError(t, err)
	assert.Equal(t, "Kyiv Ukraine", client.req.URL.Query().Get("text"))
	assert.JSONEq(t, `[{
		"address": "Kyiv, UKR",
		"city": "Kyiv",
		"country": "UKR",
		"place_type": "City",
		"score": 100,
		"coordinates": [50.4501, 30.5234]
	}]`, out)
}

func TestFindCommand_NoResults(t *testing.T) {
	out, err := execute(t, newStubLookup(t, &stubClient{body: `{"locations": []}`}), "find", "Nowhere")

	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestFindCommand_ProviderError(t *testing.T) {
	client := &stubClient{body: `{"error": {"code": 400, "message": "Cannot perform query"}}`}

	_, err := execute(t, newStubLookup(t, client), "find", "Kyiv")

	var apiErr *geocoding.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
}

func TestReverseCommand(t *testing.T) {
	s := &recordingSearcher{}

	_, err := execute(t, s, "reverse", "50.4501,30.5234", "--param", "langCode=UK")

	require.NoError(t, err)
	assert.Equal(t, geocoding.ReverseQuery{
		Coordinates: models.Coordinates{Latitude: 50.4501, Longitude: 30.5234},
		Params:      map[string]string{"langCode": "UK"},
	}, s.query)
}

func TestReverseCommand_InvalidCoordinates(t *testing.T) {
	_, err := execute(t, &recordingSearcher{}, "reverse", "Kyiv")

	require.ErrorContains(t, err, `invalid coordinates "Kyiv"`)
}

func TestBatchCommand(t *testing.T) {
	s := &recordingSearcher{}

	_, err := execute(t, s, "batch", "Kyiv", "Lviv")

	require.NoError(t, err)
	assert.Equal(t, geocoding.BatchQuery{
		Items: []geocoding.BatchItem{{Input: "Kyiv"}, {Input: "Lviv"}},
	}, s.query)
}

func TestPrintURL(t *testing.T) {
	client := &stubClient{}

	out, err := execute(t, newStubLookup(t, client), "--url", "find", "Kyiv")

	require.NoError(t, err)
	assert.Nil(t, client.req, "no request is sent")
	assert.True(t, strings.HasPrefix(out,
		"https://geocode.arcgis.com/arcgis/rest/services/World/GeocodeServer/find?"), out)
	assert.Contains(t, out, "token=cli-token")
}

func TestMissingArguments(t *testing.T) {
	_, err := execute(t, &recordingSearcher{}, "find")

	require.Error(t, err)
}
