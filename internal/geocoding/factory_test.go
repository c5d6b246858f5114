package geocoding_test

import (
	"log/slog"
	"net/http"
	"testing"

	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	logger := slog.Default()

	t.Run("create Esri provider successfully", func(t *testing.T) {
		config := geocoding.ProviderConfig{
			Type:         geocoding.ProviderTypeEsri,
			ClientID:     "id",
			ClientSecret: "secret",
			RateLimit:    10,
			UseHTTPS:     true,
			Metrics:      newTestMetrics(),
			Logger:       logger,
		}

		provider, err := geocoding.NewProvider(config)

		require.NoError(t, err)
		require.NotNil(t, provider)
		lookup, ok := provider.(*geocoding.EsriLookup)
		require.True(t, ok, "expected provider to be *EsriLookup")
		assert.Equal(t, "Esri", lookup.Name())
	})

	t.Run("create Esri provider without credentials", func(t *testing.T) {
		config := geocoding.ProviderConfig{
			Type:    geocoding.ProviderTypeEsri,
			Metrics: newTestMetrics(),
			Logger:  logger,
		}

		provider, err := geocoding.NewProvider(config)

		require.NoError(t, err)
		require.NotNil(t, provider)
	})

	t.Run("client secret without client id fails", func(t *testing.T) {
		config := geocoding.ProviderConfig{
			Type:         geocoding.ProviderTypeEsri,
			ClientSecret: "secret",
			Metrics:      newTestMetrics(),
			Logger:       logger,
		}

		provider, err := geocoding.NewProvider(config)

		require.Error(t, err)
		require.Nil(t, provider)
		assert.Contains(t, err.Error(), "both client id and client secret are required for Esri provider")
	})

	t.Run("preset token is sent with requests", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "preset", req.URL.Query().Get("token"))
				return jsonResponse(http.StatusOK, `{"locations": []}`), nil
			},
		}
		lookup, err := geocoding.NewEsriProvider(geocoding.ProviderConfig{
			Type:     geocoding.ProviderTypeEsri,
			Token:    "preset",
			UseHTTPS: true,
			Client:   mockClient,
			Metrics:  newTestMetrics(),
			Logger:   logger,
		})
		require.NoError(t, err)

		results, err := lookup.Search(t.Context(), geocoding.ForwardQuery{Text: "Kyiv"})

		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, 1, mockClient.Calls())
	})

	t.Run("default logger is used when none is given", func(t *testing.T) {
		mockClient := respondWith(http.StatusServiceUnavailable, `busy`)
		lookup, err := geocoding.NewEsriProvider(geocoding.ProviderConfig{
			Type:    geocoding.ProviderTypeEsri,
			Client:  mockClient,
			Metrics: newTestMetrics(),
		})
		require.NoError(t, err)

		var results []geocoding.Result
		require.NotPanics(t, func() {
			results = lookup.Results(t.Context(), geocoding.ForwardQuery{Text: "Kyiv"})
		})
		assert.Empty(t, results)
	})

	t.Run("unsupported provider type", func(t *testing.T) {
		config := geocoding.ProviderConfig{
			Type:   "unknown",
			Logger: logger,
		}

		provider, err := geocoding.NewProvider(config)

		require.Error(t, err)
		require.Nil(t, provider)
		assert.Contains(t, err.Error(), "unsupported provider type: unknown")
	})

	t.Run("empty provider type", func(t *testing.T) {
		provider, err := geocoding.NewProvider(geocoding.ProviderConfig{Logger: logger})

		require.Error(t, err)
		require.Nil(t, provider)
		assert.Contains(t, err.Error(), "unsupported provider type")
	})
}

func TestProviderTypeConstants(t *testing.T) {
	assert.Equal(t, geocoding.ProviderTypeEsri, geocoding.ProviderType("esri"))
}
